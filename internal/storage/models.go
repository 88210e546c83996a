package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// SpreadSample is one token's state captured on a scheduling pass.
type SpreadSample struct {
	Token     string
	SampledAt time.Time
	Streamed  decimal.NullDecimal
	Polled    decimal.NullDecimal
	SpreadPct decimal.NullDecimal
	CreatedAt time.Time
}

// AlertRecord captures an emitted high-spread alert for auditing.
type AlertRecord struct {
	ID            int64
	Token         string
	AlertedAt     time.Time
	SpreadPct     decimal.Decimal
	StreamedPrice decimal.Decimal
	PolledPrice   decimal.Decimal
	ThresholdPct  decimal.Decimal
	Direction     string
	Channels      []string
	CreatedAt     time.Time
}
