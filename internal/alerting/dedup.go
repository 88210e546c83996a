package alerting

import (
	"container/heap"
	"sync"
	"time"
)

// DefaultDedupTTL is how long an emitted alert key suppresses repeats.
const DefaultDedupTTL = 5 * time.Minute

type liveKey struct {
	key     string
	expires time.Time
}

type expiryHeap []liveKey

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].expires.Before(h[j].expires) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)        { *h = append(*h, x.(liveKey)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Deduplicator tracks recently emitted alert keys. A key stays live for a fixed TTL from the moment it was
// marked, regardless of further activity.
type Deduplicator struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	live   map[string]time.Time
	expiry expiryHeap
}

// NewDeduplicator builds a Deduplicator. A nil clock means time.Now.
func NewDeduplicator(ttl time.Duration, now func() time.Time) *Deduplicator {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Deduplicator{ttl: ttl, now: now, live: make(map[string]time.Time)}
}

// Allow atomically checks and marks the key. It returns true when the caller should emit.
func (d *Deduplicator) Allow(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.expire(now)

	if _, ok := d.live[key]; ok {
		return false
	}

	expires := now.Add(d.ttl)
	d.live[key] = expires
	heap.Push(&d.expiry, liveKey{key: key, expires: expires})
	return true
}

// Live reports how many keys are currently suppressing.
func (d *Deduplicator) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expire(d.now())
	return len(d.live)
}

// Reset forgets every key.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	d.live = make(map[string]time.Time)
	d.expiry = nil
	d.mu.Unlock()
}

func (d *Deduplicator) expire(now time.Time) {
	for d.expiry.Len() > 0 && !d.expiry[0].expires.After(now) {
		item := heap.Pop(&d.expiry).(liveKey)
		if exp, ok := d.live[item.key]; ok && exp.Equal(item.expires) {
			delete(d.live, item.key)
		}
	}
}
