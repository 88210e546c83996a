package alerting

import (
	"sync"
	"testing"
	"time"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestDeduplicatorSuppressesWithinTTL(t *testing.T) {
	clock := &stepClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	d := NewDeduplicator(5*time.Minute, clock.Now)

	if !d.Allow("PEPE_6") {
		t.Fatal("first alert should be allowed")
	}
	clock.Advance(time.Minute)
	if d.Allow("PEPE_6") {
		t.Fatal("same key within TTL should be suppressed")
	}
	if !d.Allow("PEPE_7") {
		t.Fatal("different magnitude band should be allowed")
	}
}

func TestDeduplicatorExpiresAfterTTL(t *testing.T) {
	clock := &stepClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	d := NewDeduplicator(5*time.Minute, clock.Now)

	d.Allow("PEPE_6")
	clock.Advance(4 * time.Minute)
	if d.Allow("PEPE_6") {
		t.Fatal("repeat activity must not extend or reset the key")
	}
	clock.Advance(time.Minute)
	if !d.Allow("PEPE_6") {
		t.Fatal("key should expire exactly TTL after being marked")
	}
}

func TestDeduplicatorLiveAndReset(t *testing.T) {
	clock := &stepClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	d := NewDeduplicator(time.Minute, clock.Now)

	d.Allow("A_5")
	d.Allow("B_5")
	if d.Live() != 2 {
		t.Fatalf("expected 2 live keys, got %d", d.Live())
	}

	clock.Advance(2 * time.Minute)
	if d.Live() != 0 {
		t.Fatalf("expected keys to expire, got %d", d.Live())
	}

	d.Allow("A_5")
	d.Reset()
	if !d.Allow("A_5") {
		t.Fatal("Reset should forget live keys")
	}
}

func TestDeduplicatorConcurrentAllowOnce(t *testing.T) {
	d := NewDeduplicator(time.Minute, nil)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Allow("X_9") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 1 {
		t.Fatalf("exactly one caller should win, got %d", allowed)
	}
}
