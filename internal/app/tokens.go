package app

import (
	"context"
	"fmt"
	"text/tabwriter"

	"spreadwatch/internal/market"
)

// ListTokens prints the registry with each token's resolved chain and blacklist status.
func (a *App) ListTokens(ctx context.Context) error {
	tokens, err := a.tokenRegistry().LoadTokens(ctx)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		fmt.Fprintln(a.Out, "no tokens configured")
		return nil
	}

	blacklisted, err := a.blacklistFile().Load(ctx)
	if err != nil {
		return err
	}
	excluded := make(map[string]bool, len(blacklisted))
	for _, s := range blacklisted {
		excluded[s] = true
	}

	defaultChain := market.NormalizeChain(a.Config.Resolver.DefaultEVMChain)
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tPair\tChain\tAddress\tBlacklisted\tDescription")
	for _, t := range tokens {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%t\t%s\n",
			t.Symbol,
			market.PairName(t.Symbol, a.Config.Stream.Quote),
			market.InferChain(t.Address, t.Chain, defaultChain),
			t.Address,
			excluded[t.Symbol],
			sanitizeInline(t.Description),
		)
	}
	return writer.Flush()
}

// AddToken validates and registers a token.
func (a *App) AddToken(ctx context.Context, token market.Token) error {
	if err := a.tokenRegistry().Add(ctx, token); err != nil {
		return err
	}
	a.Logger.Info().Str("token", market.NormalizeSymbol(token.Symbol)).Msg("token added")
	return nil
}

// RemoveToken deletes a token from the registry.
func (a *App) RemoveToken(ctx context.Context, symbol string) error {
	if err := a.tokenRegistry().Remove(ctx, symbol); err != nil {
		return err
	}
	a.Logger.Info().Str("token", market.NormalizeSymbol(symbol)).Msg("token removed")
	return nil
}

// BlacklistAdd excludes a symbol from monitoring.
func (a *App) BlacklistAdd(ctx context.Context, symbol string) error {
	engine, err := a.offlineEngine()
	if err != nil {
		return err
	}
	return engine.AddToBlacklist(ctx, symbol)
}

// BlacklistRemove re-admits a symbol.
func (a *App) BlacklistRemove(ctx context.Context, symbol string) error {
	engine, err := a.offlineEngine()
	if err != nil {
		return err
	}
	return engine.RemoveFromBlacklist(ctx, symbol)
}

// BlacklistList prints the excluded symbols.
func (a *App) BlacklistList(ctx context.Context) error {
	symbols, err := a.blacklistFile().Load(ctx)
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		fmt.Fprintln(a.Out, "blacklist is empty")
		return nil
	}
	for _, s := range symbols {
		fmt.Fprintln(a.Out, s)
	}
	return nil
}
