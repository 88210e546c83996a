package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"spreadwatch/internal/market"
)

var (
	// ErrTokenExists is returned when adding a symbol that is already registered.
	ErrTokenExists = errors.New("registry: token already exists")
	// ErrTokenNotFound is returned when removing an unknown symbol.
	ErrTokenNotFound = errors.New("registry: token not found")
)

type tokenDocument struct {
	Tokens []market.Token `json:"tokens" yaml:"tokens"`
}

// FileRegistry stores the monitored token list in a JSON or YAML file, chosen by extension.
type FileRegistry struct {
	path string
	mu   sync.Mutex
}

// NewFileRegistry binds a registry to path.
func NewFileRegistry(path string) *FileRegistry {
	return &FileRegistry{path: path}
}

// Path returns the backing file.
func (r *FileRegistry) Path() string { return r.path }

// LoadTokens reads the registry. A missing file is an empty registry.
func (r *FileRegistry) LoadTokens(ctx context.Context) ([]market.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx)
}

func (r *FileRegistry) load(ctx context.Context) ([]market.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var doc tokenDocument
	found, err := readDocument(r.path, &doc)
	if err != nil {
		return nil, err
	}
	if !found {
		return []market.Token{}, nil
	}

	tokens := make([]market.Token, 0, len(doc.Tokens))
	seen := make(map[string]struct{}, len(doc.Tokens))
	for _, tok := range doc.Tokens {
		tok.Symbol = market.NormalizeSymbol(tok.Symbol)
		tok.Address = strings.TrimSpace(tok.Address)
		if tok.Symbol == "" || tok.Address == "" {
			continue
		}
		if _, dup := seen[tok.Symbol]; dup {
			continue
		}
		seen[tok.Symbol] = struct{}{}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

// SaveTokens replaces the registry contents.
func (r *FileRegistry) SaveTokens(ctx context.Context, tokens []market.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save(ctx, tokens)
}

func (r *FileRegistry) save(ctx context.Context, tokens []market.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeDocument(r.path, tokenDocument{Tokens: tokens})
}

// Add validates and appends a token.
func (r *FileRegistry) Add(ctx context.Context, token market.Token) error {
	token.Symbol = market.NormalizeSymbol(token.Symbol)
	token.Address = strings.TrimSpace(token.Address)
	if err := token.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tokens, err := r.load(ctx)
	if err != nil {
		return err
	}
	for _, existing := range tokens {
		if existing.Symbol == token.Symbol {
			return fmt.Errorf("%w: %s", ErrTokenExists, token.Symbol)
		}
	}
	return r.save(ctx, append(tokens, token))
}

// Remove deletes a token by symbol.
func (r *FileRegistry) Remove(ctx context.Context, symbol string) error {
	symbol = market.NormalizeSymbol(symbol)

	r.mu.Lock()
	defer r.mu.Unlock()

	tokens, err := r.load(ctx)
	if err != nil {
		return err
	}
	kept := tokens[:0]
	found := false
	for _, tok := range tokens {
		if tok.Symbol == symbol {
			found = true
			continue
		}
		kept = append(kept, tok)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrTokenNotFound, symbol)
	}
	return r.save(ctx, kept)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func readDocument(path string, out any) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return false, nil
	}

	if isYAML(path) {
		err = yaml.Unmarshal(raw, out)
	} else {
		err = json.Unmarshal(raw, out)
	}
	if err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

// writeDocument writes through a temp file and rename so readers never see a partial file.
func writeDocument(path string, doc any) error {
	var (
		raw []byte
		err error
	)
	if isYAML(path) {
		raw, err = yaml.Marshal(doc)
	} else {
		raw, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func normalizeSymbols(symbols []string) []string {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		if s = market.NormalizeSymbol(s); s != "" {
			set[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
