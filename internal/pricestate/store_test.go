package pricestate

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spreadwatch/internal/market"
)

func point(v string, at time.Time) market.PricePoint {
	return market.PricePoint{At: at, Value: decimal.RequireFromString(v)}
}

func TestSetReportsChange(t *testing.T) {
	s := New()
	t0 := time.Now()

	if !s.SetStreamed("PEPE", point("1.00", t0)) {
		t.Fatal("first write must report changed")
	}
	if s.SetStreamed("PEPE", point("1.0", t0.Add(time.Second))) {
		t.Fatal("equal value must report unchanged")
	}

	st, ok := s.Get("PEPE")
	if !ok || st.Streamed == nil {
		t.Fatal("expected streamed state")
	}
	if !st.Streamed.At.Equal(t0.Add(time.Second)) {
		t.Fatalf("timestamp should refresh on unchanged value, got %s", st.Streamed.At)
	}
	if st.Polled != nil {
		t.Fatal("polled side should be absent")
	}

	if !s.SetStreamed("PEPE", point("1.01", t0)) {
		t.Fatal("different value must report changed")
	}
}

func TestSidesAreIndependent(t *testing.T) {
	s := New()
	now := time.Now()
	s.SetStreamed("A", point("2", now))
	if !s.SetPolled("A", point("2", now)) {
		t.Fatal("first polled write must report changed regardless of streamed value")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := New()
	s.SetPolled("A", point("5", time.Now()))

	st, _ := s.Get("A")
	st.Polled.Value = decimal.NewFromInt(42)

	again, _ := s.Get("A")
	if !again.Polled.Value.Equal(decimal.NewFromInt(5)) {
		t.Fatal("Get must return a copy")
	}
}

func TestSnapshotAndClear(t *testing.T) {
	s := New()
	now := time.Now()
	s.SetStreamed("B", point("1", now))
	s.SetPolled("A", point("1", now))

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(snap))
	}
	if tokens := s.Tokens(); tokens[0] != "A" || tokens[1] != "B" {
		t.Fatalf("unexpected tokens %v", tokens)
	}

	s.Clear()
	if _, ok := s.Get("A"); ok {
		t.Fatal("Clear should remove state")
	}
}

func TestConcurrentWriters(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				p := market.PricePoint{At: time.Now(), Value: decimal.NewFromInt(int64(j))}
				if i%2 == 0 {
					s.SetStreamed("T", p)
				} else {
					s.SetPolled("T", p)
				}
			}
		}(i)
	}
	wg.Wait()

	st, ok := s.Get("T")
	if !ok || st.Streamed == nil || st.Polled == nil {
		t.Fatal("both sides should be populated")
	}
}
