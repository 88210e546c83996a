package registry

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"spreadwatch/internal/market"
)

const (
	bscAddr = "0x44440f83419de123d7d411187adb9962db017d03"
	solAddr = "3arUrpH3nzaRJbbpVgY42dcqSq9A5BFgUxKozZ4npump"
)

func TestLoadTokensMissingFile(t *testing.T) {
	r := NewFileRegistry(filepath.Join(t.TempDir(), "tokens.json"))
	tokens, err := r.LoadTokens(context.Background())
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(tokens) != 0 {
		t.Fatalf("expected empty registry, got %v", tokens)
	}
}

func TestLoadTokensNormalisesAndDedups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	raw := `{"tokens":[
		{"name":"pepe","address":" 0x44440f83419de123d7d411187adb9962db017d03 ","chain":"BSC"},
		{"name":"PEPE","address":"0x0000000000000000000000000000000000000001"},
		{"name":"","address":"0x1"},
		{"name":"STREAMER","address":"3arUrpH3nzaRJbbpVgY42dcqSq9A5BFgUxKozZ4npump","description":"meme"}
	]}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	tokens, err := NewFileRegistry(path).LoadTokens(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %+v", tokens)
	}
	if tokens[0].Symbol != "PEPE" || tokens[0].Address != bscAddr || tokens[0].Chain != "BSC" {
		t.Fatalf("unexpected first token %+v", tokens[0])
	}
	if tokens[1].Description != "meme" {
		t.Fatalf("description lost: %+v", tokens[1])
	}
}

func TestAddAndRemove(t *testing.T) {
	for _, name := range []string{"tokens.json", "tokens.yaml"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := NewFileRegistry(filepath.Join(t.TempDir(), name))

			if err := r.Add(ctx, market.Token{Symbol: "pepe", Address: bscAddr, Chain: "bsc"}); err != nil {
				t.Fatalf("add: %v", err)
			}
			if err := r.Add(ctx, market.Token{Symbol: "STREAMER", Address: solAddr, Chain: "sol"}); err != nil {
				t.Fatalf("add: %v", err)
			}
			if err := r.Add(ctx, market.Token{Symbol: "PEPE", Address: bscAddr}); !errors.Is(err, ErrTokenExists) {
				t.Fatalf("expected ErrTokenExists, got %v", err)
			}
			if err := r.Add(ctx, market.Token{Symbol: "BAD", Address: "0x12", Chain: "eth"}); err == nil {
				t.Fatal("invalid address should be rejected")
			}

			tokens, err := r.LoadTokens(ctx)
			if err != nil || len(tokens) != 2 {
				t.Fatalf("expected 2 tokens, got %v (%v)", tokens, err)
			}

			if err := r.Remove(ctx, "pepe"); err != nil {
				t.Fatalf("remove: %v", err)
			}
			if err := r.Remove(ctx, "pepe"); !errors.Is(err, ErrTokenNotFound) {
				t.Fatalf("expected ErrTokenNotFound, got %v", err)
			}

			tokens, _ = r.LoadTokens(ctx)
			if len(tokens) != 1 || tokens[0].Symbol != "STREAMER" {
				t.Fatalf("unexpected tokens after remove %+v", tokens)
			}
		})
	}
}

func TestBlacklistRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "blacklist.json")
	b := NewBlacklistFile(path)
	b.now = func() time.Time { return time.Unix(1700000000, 500_000_000) }

	list, err := b.Load(ctx)
	if err != nil || len(list) != 0 {
		t.Fatalf("missing blacklist should be empty, got %v (%v)", list, err)
	}

	if err := b.Save(ctx, []string{"pepe", "DOGE", "PEPE", " "}); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw, _ := os.ReadFile(path)
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("blacklist file should be json: %v", err)
	}
	if doc["last_updated"].(float64) != 1700000000.5 {
		t.Fatalf("unexpected last_updated %v", doc["last_updated"])
	}

	list, err = b.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(list) != 2 || list[0] != "DOGE" || list[1] != "PEPE" {
		t.Fatalf("unexpected blacklist %v", list)
	}
}

func TestBackupCopiesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tokens.json")
	if err := os.WriteFile(src, []byte(`{"tokens":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	backupDir := filepath.Join(dir, "backups")
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		written, err := Backup(backupDir, base.Add(time.Duration(i)*time.Hour), 2, src, filepath.Join(dir, "missing.json"))
		if err != nil {
			t.Fatalf("backup: %v", err)
		}
		if len(written) != 1 {
			t.Fatalf("expected one file written, got %v", written)
		}
	}

	matches, _ := filepath.Glob(filepath.Join(backupDir, "tokens_*.json"))
	if len(matches) != 2 {
		t.Fatalf("expected 2 retained backups, got %v", matches)
	}
	if filepath.Base(matches[1]) != "tokens_20250101_030000.json" {
		t.Fatalf("newest backup missing: %v", matches)
	}
}
