package history

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultRetention bounds how far back a series reaches.
const DefaultRetention = 15 * time.Minute

// compactAt is the number of dead head slots tolerated before the backing slices are reallocated.
const compactAt = 256

// Series is a point-in-time copy of one token's window. The three slices always have equal length.
type Series struct {
	Times    []time.Time
	Streamed []decimal.NullDecimal
	Polled   []decimal.NullDecimal
}

// Len returns the number of entries.
func (s Series) Len() int { return len(s.Times) }

type series struct {
	mu       sync.Mutex
	head     int
	times    []time.Time
	streamed []decimal.NullDecimal
	polled   []decimal.NullDecimal
}

// History keeps a rolling per-token window of paired streamed/polled observations.
type History struct {
	retention time.Duration
	now       func() time.Time

	mu     sync.RWMutex
	tokens map[string]*series
}

// Option customises a History.
type Option func(*History)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *History) {
		if now != nil {
			h.now = now
		}
	}
}

// New constructs a History with the given retention window.
func New(retention time.Duration, opts ...Option) *History {
	if retention <= 0 {
		retention = DefaultRetention
	}
	h := &History{
		retention: retention,
		now:       time.Now,
		tokens:    make(map[string]*series),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Retention reports the configured window.
func (h *History) Retention() time.Duration { return h.retention }

// Append records the current time plus whichever side is provided.
func (h *History) Append(token string, streamed, polled decimal.NullDecimal) {
	h.AppendAt(token, time.Time{}, streamed, polled)
}

// AppendAt records an entry stamped with the receipt time at (zero means now). A missing side repeats
// the previous entry's value, or stays null when the series has no prior value. Entries stay ordered:
// an at earlier than the last entry is clamped to it.
func (h *History) AppendAt(token string, at time.Time, streamed, polled decimal.NullDecimal) {
	if !streamed.Valid && !polled.Valid {
		return
	}

	s := h.lookup(token, true)
	now := h.now()
	if at.IsZero() {
		at = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.times); n > s.head {
		if !streamed.Valid {
			streamed = s.streamed[n-1]
		}
		if !polled.Valid {
			polled = s.polled[n-1]
		}
		if last := s.times[n-1]; at.Before(last) {
			at = last
		}
	}

	s.times = append(s.times, at)
	s.streamed = append(s.streamed, streamed)
	s.polled = append(s.polled, polled)

	s.evict(now.Add(-h.retention))
}

// evict advances the head past entries strictly older than cutoff.
func (s *series) evict(cutoff time.Time) {
	for s.head < len(s.times) && s.times[s.head].Before(cutoff) {
		s.head++
	}
	if s.head >= compactAt && s.head*2 >= len(s.times) {
		s.compact()
	}
}

func (s *series) compact() {
	live := len(s.times) - s.head
	times := make([]time.Time, live, live+compactAt)
	streamed := make([]decimal.NullDecimal, live, live+compactAt)
	polled := make([]decimal.NullDecimal, live, live+compactAt)
	copy(times, s.times[s.head:])
	copy(streamed, s.streamed[s.head:])
	copy(polled, s.polled[s.head:])
	s.times, s.streamed, s.polled = times, streamed, polled
	s.head = 0
}

// Get returns a deep copy of the token's series. Unknown tokens yield empty slices.
func (h *History) Get(token string) Series {
	out := Series{
		Times:    []time.Time{},
		Streamed: []decimal.NullDecimal{},
		Polled:   []decimal.NullDecimal{},
	}

	s := h.lookup(token, false)
	if s == nil {
		return out
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out.Times = append(out.Times, s.times[s.head:]...)
	out.Streamed = append(out.Streamed, s.streamed[s.head:]...)
	out.Polled = append(out.Polled, s.polled[s.head:]...)
	return out
}

// Tokens lists tokens that have been appended to, sorted.
func (h *History) Tokens() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.tokens))
	for token := range h.tokens {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}

// Clear drops every series.
func (h *History) Clear() {
	h.mu.Lock()
	h.tokens = make(map[string]*series)
	h.mu.Unlock()
}

func (h *History) lookup(token string, create bool) *series {
	h.mu.RLock()
	s, ok := h.tokens[token]
	h.mu.RUnlock()
	if ok || !create {
		return s
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok = h.tokens[token]; ok {
		return s
	}
	s = &series{}
	h.tokens[token] = s
	return s
}
