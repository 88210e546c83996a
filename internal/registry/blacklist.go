package registry

import (
	"context"
	"sync"
	"time"
)

type blacklistDocument struct {
	Tokens      []string `json:"blacklisted_tokens" yaml:"blacklisted_tokens"`
	LastUpdated float64  `json:"last_updated" yaml:"last_updated"`
}

// BlacklistFile persists the blacklist wholesale.
type BlacklistFile struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewBlacklistFile binds the blacklist to path.
func NewBlacklistFile(path string) *BlacklistFile {
	return &BlacklistFile{path: path, now: time.Now}
}

// Path returns the backing file.
func (b *BlacklistFile) Path() string { return b.path }

// Load returns the stored symbols, normalised and sorted. A missing file is an empty list.
func (b *BlacklistFile) Load(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var doc blacklistDocument
	if _, err := readDocument(b.path, &doc); err != nil {
		return nil, err
	}
	return normalizeSymbols(doc.Tokens), nil
}

// Save overwrites the stored list.
func (b *BlacklistFile) Save(ctx context.Context, symbols []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	doc := blacklistDocument{
		Tokens:      normalizeSymbols(symbols),
		LastUpdated: float64(b.now().UnixMilli()) / 1000,
	}
	return writeDocument(b.path, doc)
}
