package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spreadwatch/internal/config"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "spreadwatch.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestSQLiteSamplesRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	samples := []SpreadSample{
		{Token: "PEPE", SampledAt: base, Streamed: decimal.NewNullDecimal(decimal.RequireFromString("1.5")), Polled: decimal.NewNullDecimal(decimal.RequireFromString("1.59")), SpreadPct: decimal.NewNullDecimal(decimal.RequireFromString("6"))},
		{Token: "DOGE", SampledAt: base, Streamed: decimal.NewNullDecimal(decimal.NewFromInt(2))},
		{Token: "PEPE", SampledAt: base.Add(2 * time.Second), Polled: decimal.NewNullDecimal(decimal.NewFromInt(3))},
	}
	if err := store.InsertSamples(ctx, samples); err != nil {
		t.Fatalf("insert: %v", err)
	}

	count, err := store.CountSamples(ctx)
	if err != nil || count != 3 {
		t.Fatalf("count=%d err=%v", count, err)
	}

	between, err := store.ListSamplesBetween(ctx, "PEPE", base, base.Add(time.Second))
	if err != nil {
		t.Fatalf("between: %v", err)
	}
	if len(between) != 1 {
		t.Fatalf("expected 1 sample in window, got %d", len(between))
	}
	got := between[0]
	if !got.SampledAt.Equal(base) || !got.SpreadPct.Valid || !got.SpreadPct.Decimal.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("unexpected sample %+v", got)
	}

	all, err := store.ListSamplesBetween(ctx, "", base, base.Add(time.Minute))
	if err != nil || len(all) != 3 {
		t.Fatalf("expected all 3 samples, got %d (%v)", len(all), err)
	}

	recent, err := store.ListRecentSamples(ctx, "PEPE", 1)
	if err != nil || len(recent) != 1 {
		t.Fatalf("recent: %v %v", recent, err)
	}
	if recent[0].Streamed.Valid || !recent[0].Polled.Decimal.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("null side should round-trip as invalid: %+v", recent[0])
	}
}

func TestSQLiteAlerts(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	rec, err := store.InsertAlert(ctx, AlertRecord{
		Token:         "PEPE",
		AlertedAt:     time.Now(),
		SpreadPct:     decimal.RequireFromString("-6.5"),
		StreamedPrice: decimal.NewFromInt(100),
		PolledPrice:   decimal.RequireFromString("93.5"),
		ThresholdPct:  decimal.NewFromInt(5),
		Direction:     "discount",
		Channels:      []string{"telegram", "discord"},
	})
	if err != nil {
		t.Fatalf("insert alert: %v", err)
	}
	if rec.ID == 0 {
		t.Fatal("alert id should be assigned")
	}

	alerts, err := store.ListRecentAlerts(ctx, 10)
	if err != nil || len(alerts) != 1 {
		t.Fatalf("list alerts: %v %v", alerts, err)
	}
	if !alerts[0].SpreadPct.Equal(decimal.RequireFromString("-6.5")) || len(alerts[0].Channels) != 2 {
		t.Fatalf("unexpected alert %+v", alerts[0])
	}

	if err := store.DeleteAlertsBefore(ctx, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	alerts, _ = store.ListRecentAlerts(ctx, 10)
	if len(alerts) != 0 {
		t.Fatalf("alerts should be deleted, got %d", len(alerts))
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	store, err := Open(context.Background(), config.DatabaseConfig{})
	if err != nil || store != nil {
		t.Fatalf("empty dsn should disable storage, got %v %v", store, err)
	}

	path := filepath.Join(t.TempDir(), "x.db")
	store, err = Open(context.Background(), config.DatabaseConfig{DSN: "sqlite:" + path})
	if err != nil {
		t.Fatalf("open sqlite dsn: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*SQLiteStore); !ok {
		t.Fatalf("expected SQLiteStore, got %T", store)
	}
}

func TestPostgresStoreWithoutPool(t *testing.T) {
	var s *PostgresStore
	if err := s.InsertSamples(context.Background(), []SpreadSample{{Token: "X"}}); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, _, err := s.TryAdvisoryLock(context.Background(), 1); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
