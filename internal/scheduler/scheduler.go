package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrInvalidInterval is returned when no positive interval can be determined.
var ErrInvalidInterval = errors.New("scheduler interval must be positive")

// PassFunc is invoked once per scheduling pass.
type PassFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	// Interval is used when IntervalFunc is nil or returns a non-positive value.
	Interval time.Duration
	// IntervalFunc is consulted before every wait so interval changes apply on the next pass.
	IntervalFunc   func() time.Duration
	RunImmediately bool
	Now            func() time.Time
}

// Scheduler drives periodic scheduling passes.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}, nil
}

// Interval returns the interval that applies to the next wait.
func (s *Scheduler) Interval() time.Duration {
	if s.opts.IntervalFunc != nil {
		if d := s.opts.IntervalFunc(); d > 0 {
			return d
		}
	}
	return s.opts.Interval
}

// Run blocks, invoking pass after every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, pass PassFunc) error {
	if s.opts.RunImmediately {
		s.execute(ctx, pass)
	}

	for {
		delay := s.Interval()
		timer := time.NewTimer(delay)
		s.logger.Debug().Dur("delay", delay).Msg("waiting for next pass")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.execute(ctx, pass)
	}
}

func (s *Scheduler) execute(ctx context.Context, pass PassFunc) {
	if ctx.Err() != nil {
		return
	}
	at := s.opts.Now()
	if err := pass(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("at", at).Msg("scheduling pass failed")
	}
}
