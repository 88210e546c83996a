package pricestate

import (
	"sort"
	"sync"

	"spreadwatch/internal/market"
)

// State is a copy of a token's latest observations. Nil means never observed.
type State struct {
	Streamed *market.PricePoint
	Polled   *market.PricePoint
}

type entry struct {
	mu       sync.Mutex
	streamed *market.PricePoint
	polled   *market.PricePoint
}

// Store keeps the latest streamed and polled price per token.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New constructs an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// SetStreamed records a streamed observation and reports whether the value differs from the previous one.
// The timestamp is refreshed even when the value is unchanged.
func (s *Store) SetStreamed(token string, point market.PricePoint) bool {
	e := s.lookup(token)
	e.mu.Lock()
	defer e.mu.Unlock()
	return swap(&e.streamed, point)
}

// SetPolled records a polled observation; semantics match SetStreamed.
func (s *Store) SetPolled(token string, point market.PricePoint) bool {
	e := s.lookup(token)
	e.mu.Lock()
	defer e.mu.Unlock()
	return swap(&e.polled, point)
}

func swap(slot **market.PricePoint, point market.PricePoint) bool {
	changed := *slot == nil || !(*slot).Value.Equal(point.Value)
	p := point
	*slot = &p
	return changed
}

// Get returns a copy of the token's state.
func (s *Store) Get(token string) (State, bool) {
	s.mu.RLock()
	e, ok := s.entries[token]
	s.mu.RUnlock()
	if !ok {
		return State{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(), true
}

func (e *entry) snapshot() State {
	var st State
	if e.streamed != nil {
		p := *e.streamed
		st.Streamed = &p
	}
	if e.polled != nil {
		p := *e.polled
		st.Polled = &p
	}
	return st
}

// Snapshot copies every token's state.
func (s *Store) Snapshot() map[string]State {
	s.mu.RLock()
	entries := make(map[string]*entry, len(s.entries))
	for token, e := range s.entries {
		entries[token] = e
	}
	s.mu.RUnlock()

	out := make(map[string]State, len(entries))
	for token, e := range entries {
		e.mu.Lock()
		out[token] = e.snapshot()
		e.mu.Unlock()
	}
	return out
}

// Tokens lists known tokens, sorted.
func (s *Store) Tokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for token := range s.entries {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}

// Clear removes every token.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]*entry)
	s.mu.Unlock()
}

func (s *Store) lookup(token string) *entry {
	s.mu.RLock()
	e, ok := s.entries[token]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[token]; ok {
		return e
	}
	e = &entry{}
	s.entries[token] = e
	return e
}
