package fetcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"spreadwatch/internal/market"
)

// ErrNoPrice means the source answered but no usable price could be extracted.
var ErrNoPrice = errors.New("fetcher: no price found")

// PriceResolver resolves the DEX price of a token contract on a chain.
type PriceResolver interface {
	Resolve(ctx context.Context, address string, chain market.Chain) (decimal.Decimal, error)
}

// ResolverFunc adapts a function to PriceResolver.
type ResolverFunc func(ctx context.Context, address string, chain market.Chain) (decimal.Decimal, error)

// Resolve implements PriceResolver.
func (f ResolverFunc) Resolve(ctx context.Context, address string, chain market.Chain) (decimal.Decimal, error) {
	return f(ctx, address, chain)
}

// Fallback tries resolvers in order; the first positive price wins.
type Fallback struct {
	resolvers []PriceResolver
}

// NewFallback drops nil resolvers.
func NewFallback(resolvers ...PriceResolver) *Fallback {
	filtered := make([]PriceResolver, 0, len(resolvers))
	for _, r := range resolvers {
		if r != nil {
			filtered = append(filtered, r)
		}
	}
	return &Fallback{resolvers: filtered}
}

// Resolve implements PriceResolver.
func (f *Fallback) Resolve(ctx context.Context, address string, chain market.Chain) (decimal.Decimal, error) {
	if len(f.resolvers) == 0 {
		return decimal.Decimal{}, errors.New("no price resolvers configured")
	}

	var errs []error
	for _, r := range f.resolvers {
		price, err := r.Resolve(ctx, address, chain)
		if err == nil && price.Sign() > 0 {
			return price, nil
		}
		if err == nil {
			err = ErrNoPrice
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return decimal.Decimal{}, fmt.Errorf("resolve %s on %s: %w", address, chain, errors.Join(errs...))
}

var (
	_ PriceResolver = ResolverFunc(nil)
	_ PriceResolver = (*Fallback)(nil)
)
