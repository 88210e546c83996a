package monitor

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"spreadwatch/internal/spread"
)

// DefaultInterval between scheduling passes.
const DefaultInterval = 2 * time.Second

// ErrInvalidSettings is returned when an update carries a non-positive threshold or interval.
var ErrInvalidSettings = errors.New("invalid monitor settings")

// Settings are read independently by every pass and evaluation.
type Settings struct {
	Threshold     decimal.Decimal
	Interval      time.Duration
	AutoOpen      bool
	DisableAlerts bool
}

// DefaultSettings mirrors the shipped configuration.
func DefaultSettings() Settings {
	return Settings{
		Threshold: spread.DefaultThreshold,
		Interval:  DefaultInterval,
		AutoOpen:  true,
	}
}

// SettingsUpdate carries the subset of fields to replace; nil fields are kept.
type SettingsUpdate struct {
	Threshold     *decimal.Decimal
	Interval      *time.Duration
	AutoOpen      *bool
	DisableAlerts *bool
}

func (s Settings) validate() error {
	if !s.Threshold.IsPositive() {
		return fmt.Errorf("%w: threshold must be positive, got %s", ErrInvalidSettings, s.Threshold)
	}
	if s.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidSettings, s.Interval)
	}
	return nil
}

func (s Settings) apply(u SettingsUpdate) (Settings, error) {
	next := s
	if u.Threshold != nil {
		next.Threshold = *u.Threshold
	}
	if u.Interval != nil {
		next.Interval = *u.Interval
	}
	if u.AutoOpen != nil {
		next.AutoOpen = *u.AutoOpen
	}
	if u.DisableAlerts != nil {
		next.DisableAlerts = *u.DisableAlerts
	}
	if err := next.validate(); err != nil {
		return s, err
	}
	return next, nil
}
