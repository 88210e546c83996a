package market

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultQuote is the quote asset used to build futures pair names.
const DefaultQuote = "USDT"

// Token identifies a monitored asset.
type Token struct {
	Symbol      string `json:"name" yaml:"name"`
	Address     string `json:"address" yaml:"address"`
	Chain       string `json:"chain,omitempty" yaml:"chain,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// PricePoint is an immutable observation.
type PricePoint struct {
	At    time.Time
	Value decimal.Decimal
}

// NormalizeSymbol trims and upper-cases a token symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// PairName returns the canonical venue pair, e.g. PEPE_USDT.
func PairName(symbol, quote string) string {
	if quote == "" {
		quote = DefaultQuote
	}
	return NormalizeSymbol(symbol) + "_" + strings.ToUpper(quote)
}

var (
	evmAddressRe    = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	solanaAddressRe = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// Validate checks symbol and address shape.
func (t Token) Validate() error {
	if NormalizeSymbol(t.Symbol) == "" {
		return fmt.Errorf("token symbol is required")
	}
	if strings.TrimSpace(t.Address) == "" {
		return fmt.Errorf("token %s: address is required", t.Symbol)
	}

	chain := NormalizeChain(t.Chain)
	switch {
	case chain == ChainSolana:
		if !solanaAddressRe.MatchString(t.Address) {
			return fmt.Errorf("token %s: invalid solana address %q", t.Symbol, t.Address)
		}
	case chain.IsEVM():
		if !evmAddressRe.MatchString(t.Address) {
			return fmt.Errorf("token %s: invalid evm address %q", t.Symbol, t.Address)
		}
	default:
		if !evmAddressRe.MatchString(t.Address) && !solanaAddressRe.MatchString(t.Address) {
			return fmt.Errorf("token %s: unrecognised address %q", t.Symbol, t.Address)
		}
	}
	return nil
}
