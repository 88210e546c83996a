package monitor

import (
	"context"
	"fmt"
	"sort"

	"spreadwatch/internal/market"
)

// IsBlacklisted reports whether symbol is currently excluded.
func (e *Engine) IsBlacklisted(symbol string) bool {
	symbol = market.NormalizeSymbol(symbol)
	e.blMu.RLock()
	defer e.blMu.RUnlock()
	_, ok := e.blacklist[symbol]
	return ok
}

// Blacklist returns a sorted snapshot of excluded symbols.
func (e *Engine) Blacklist() []string {
	e.blMu.RLock()
	defer e.blMu.RUnlock()
	return e.blacklistSnapshotLocked()
}

// AddToBlacklist excludes symbol from the next pass on and persists the set.
// Running feeds for the symbol are left alone. A failed save leaves the in-memory set unchanged.
func (e *Engine) AddToBlacklist(ctx context.Context, symbol string) error {
	return e.mutateBlacklist(ctx, symbol, true)
}

// RemoveFromBlacklist re-admits symbol; it gets workers on the next pass if it has none.
// A failed save leaves the in-memory set unchanged.
func (e *Engine) RemoveFromBlacklist(ctx context.Context, symbol string) error {
	return e.mutateBlacklist(ctx, symbol, false)
}

func (e *Engine) mutateBlacklist(ctx context.Context, symbol string, add bool) error {
	symbol = market.NormalizeSymbol(symbol)
	if symbol == "" {
		return fmt.Errorf("blacklist: symbol is required")
	}

	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	if err := e.ensureBlacklist(ctx); err != nil {
		return err
	}

	e.blMu.Lock()
	_, present := e.blacklist[symbol]
	if present == add {
		e.blMu.Unlock()
		return nil
	}
	e.setBlacklistedLocked(symbol, add)
	snapshot := e.blacklistSnapshotLocked()
	e.blMu.Unlock()

	if e.deps.Blacklist != nil {
		if err := e.deps.Blacklist.Save(ctx, snapshot); err != nil {
			e.blMu.Lock()
			e.setBlacklistedLocked(symbol, !add)
			e.blMu.Unlock()
			return fmt.Errorf("save blacklist: %w", err)
		}
	}

	action := "removed"
	if add {
		action = "added"
	}
	e.logger.Info().Str("token", symbol).Str("action", action).Msg("blacklist updated")
	return nil
}

func (e *Engine) setBlacklistedLocked(symbol string, excluded bool) {
	if excluded {
		e.blacklist[symbol] = struct{}{}
	} else {
		delete(e.blacklist, symbol)
	}
}

// ensureBlacklist loads the persisted set once. Callers hold saveMu.
func (e *Engine) ensureBlacklist(ctx context.Context) error {
	if e.blLoaded || e.deps.Blacklist == nil {
		return nil
	}
	symbols, err := e.deps.Blacklist.Load(ctx)
	if err != nil {
		return fmt.Errorf("load blacklist: %w", err)
	}

	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		if s = market.NormalizeSymbol(s); s != "" {
			set[s] = struct{}{}
		}
	}

	e.blMu.Lock()
	e.blacklist = set
	e.blMu.Unlock()
	e.blLoaded = true
	return nil
}

func (e *Engine) blacklistSnapshotLocked() []string {
	out := make([]string, 0, len(e.blacklist))
	for s := range e.blacklist {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
