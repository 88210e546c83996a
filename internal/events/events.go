package events

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCapacity of a Channel.
const DefaultCapacity = 100

// Kind discriminates event payloads.
type Kind string

const (
	KindPriceUpdate Kind = "price-update"
	KindHighSpread  Kind = "high-spread"
)

// Event is a message from the engine to its consumer. Price updates carry only Token.
type Event struct {
	Kind      Kind
	Token     string
	Spread    decimal.Decimal
	Streamed  decimal.Decimal
	Polled    decimal.Decimal
	Threshold decimal.Decimal
	Direction string
	Severity  string
	AutoOpen  bool
	At        time.Time
}

// PriceUpdate builds a refresh hint.
func PriceUpdate(token string, at time.Time) Event {
	return Event{Kind: KindPriceUpdate, Token: token, At: at}
}

// Channel is a bounded FIFO shared by many producers and drained by one consumer.
// Producers never block: when full, the offered event is discarded.
type Channel struct {
	ch      chan Event
	dropped atomic.Uint64
}

// NewChannel creates a channel with the given capacity.
func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel{ch: make(chan Event, capacity)}
}

// Offer enqueues ev, or drops it when the queue is full.
func (c *Channel) Offer(ev Event) bool {
	select {
	case c.ch <- ev:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Poll waits up to timeout for the next event. A non-positive timeout only checks what is queued.
func (c *Channel) Poll(ctx context.Context, timeout time.Duration) (Event, bool) {
	if timeout <= 0 {
		select {
		case ev := <-c.ch:
			return ev, true
		default:
			return Event{}, false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-c.ch:
		return ev, true
	case <-timer.C:
		return Event{}, false
	case <-ctx.Done():
		return Event{}, false
	}
}

// C exposes the receive side for select loops.
func (c *Channel) C() <-chan Event { return c.ch }

// Drain discards everything queued and returns how many events were removed.
func (c *Channel) Drain() int {
	n := 0
	for {
		select {
		case <-c.ch:
			n++
		default:
			return n
		}
	}
}

// Dropped counts events discarded because the queue was full.
func (c *Channel) Dropped() uint64 { return c.dropped.Load() }

// Len returns the number of queued events.
func (c *Channel) Len() int { return len(c.ch) }

// Cap returns the queue capacity.
func (c *Channel) Cap() int { return cap(c.ch) }
