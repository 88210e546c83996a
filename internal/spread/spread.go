package spread

import (
	"fmt"

	"github.com/shopspring/decimal"

	"spreadwatch/internal/market"
)

// Severity bands used for display.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

var (
	hundred     = decimal.NewFromInt(100)
	mediumBound = decimal.NewFromInt(2)
	highBound   = decimal.NewFromInt(5)

	// DefaultThreshold is the default alerting threshold in percent.
	DefaultThreshold = highBound
)

// Evaluate returns (polled - streamed) / streamed * 100. The result is undefined unless both prices
// are strictly positive.
func Evaluate(streamed, polled decimal.Decimal) (decimal.Decimal, bool) {
	if streamed.Sign() <= 0 || polled.Sign() <= 0 {
		return decimal.Zero, false
	}
	return polled.Sub(streamed).Div(streamed).Mul(hundred), true
}

// EvaluatePoints is Evaluate over optional points.
func EvaluatePoints(streamed, polled *market.PricePoint) (decimal.Decimal, bool) {
	if streamed == nil || polled == nil {
		return decimal.Zero, false
	}
	return Evaluate(streamed.Value, polled.Value)
}

// Classify maps |pct| to a severity band.
func Classify(pct decimal.Decimal) Severity {
	abs := pct.Abs()
	switch {
	case abs.GreaterThanOrEqual(highBound):
		return SeverityHigh
	case abs.GreaterThanOrEqual(mediumBound):
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Exceeds reports whether |pct| reaches the threshold.
func Exceeds(pct, threshold decimal.Decimal) bool {
	return pct.Abs().GreaterThanOrEqual(threshold)
}

// AlertKey is the dedup identity: symbol plus the truncated integer part of |pct|.
func AlertKey(symbol string, pct decimal.Decimal) string {
	return fmt.Sprintf("%s_%s", symbol, pct.Abs().Truncate(0).String())
}

// Direction describes which venue is richer. Premium means the polled (DEX) price is above the streamed one.
func Direction(pct decimal.Decimal) string {
	switch pct.Sign() {
	case 1:
		return "premium"
	case -1:
		return "discount"
	default:
		return "flat"
	}
}
