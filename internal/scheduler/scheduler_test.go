package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	if _, err := New(Options{}, zerolog.Nop()); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
}

func TestRunInvokesPassUntilCancelled(t *testing.T) {
	s, err := New(Options{Interval: 10 * time.Millisecond, RunImmediately: true}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, at time.Time) error {
			if calls.Add(1) >= 3 {
				cancel()
			}
			return errors.New("pass errors are logged only")
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler 未在取消后退出")
	}
	if calls.Load() < 3 {
		t.Fatalf("expected at least 3 passes, got %d", calls.Load())
	}
}

func TestIntervalFuncOverridesDefault(t *testing.T) {
	var current atomic.Int64
	current.Store(int64(time.Second))
	s, err := New(Options{
		Interval:     time.Minute,
		IntervalFunc: func() time.Duration { return time.Duration(current.Load()) },
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	if s.Interval() != time.Second {
		t.Fatalf("interval=%v", s.Interval())
	}
	current.Store(0)
	if s.Interval() != time.Minute {
		t.Fatalf("non-positive func value should fall back, got %v", s.Interval())
	}
}
