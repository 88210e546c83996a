package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spreadwatch/internal/events"
	"spreadwatch/internal/fetcher"
	"spreadwatch/internal/market"
	"spreadwatch/internal/storage"
	"spreadwatch/internal/stream"
)

type registryFunc func(ctx context.Context) ([]market.Token, error)

func (f registryFunc) LoadTokens(ctx context.Context) ([]market.Token, error) { return f(ctx) }

func staticTokens(symbols ...string) registryFunc {
	return func(context.Context) ([]market.Token, error) {
		tokens := make([]market.Token, 0, len(symbols))
		for _, s := range symbols {
			tokens = append(tokens, market.Token{Symbol: s, Address: "0x44440f83419de123d7d411187adb9962db017d03"})
		}
		return tokens, nil
	}
}

type memBlacklist struct {
	mu      sync.Mutex
	set     []string
	saves   int
	saveErr error
}

func (m *memBlacklist) Load(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.set...), nil
}

func (m *memBlacklist) Save(_ context.Context, symbols []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.set = append([]string(nil), symbols...)
	m.saves++
	return nil
}

func (m *memBlacklist) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.set...)
}

type offlineDialer struct{}

func (offlineDialer) Dial(context.Context, string) (stream.Conn, error) {
	return nil, errors.New("offline")
}

type sampleSink struct {
	mu      sync.Mutex
	samples []storage.SpreadSample
}

func (s *sampleSink) InsertSamples(_ context.Context, samples []storage.SpreadSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, samples...)
	return nil
}

func (s *sampleSink) find(token string) (storage.SpreadSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.samples) - 1; i >= 0; i-- {
		if s.samples[i].Token == token && s.samples[i].SpreadPct.Valid {
			return s.samples[i], true
		}
	}
	return storage.SpreadSample{}, false
}

func offlineResolver() fetcher.PriceResolver {
	return fetcher.ResolverFunc(func(context.Context, string, market.Chain) (decimal.Decimal, error) {
		return decimal.Decimal{}, fetcher.ErrNoPrice
	})
}

func newTestEngine(t *testing.T, registry TokenRegistry, bl BlacklistStore, resolver fetcher.PriceResolver, opts Options) *Engine {
	t.Helper()
	if resolver == nil {
		resolver = offlineResolver()
	}
	opts.Stream.ReconnectDelay = 10 * time.Millisecond
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	if opts.ErrorPause == 0 {
		opts.ErrorPause = 10 * time.Millisecond
	}
	e, err := New(opts, Dependencies{
		Registry:  registry,
		Blacklist: bl,
		Resolver:  resolver,
		Dialer:    offlineDialer{},
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New 失败: %v", err)
	}
	t.Cleanup(e.Stop)
	return e
}

func collectAlerts(ch *events.Channel) []events.Event {
	var alerts []events.Event
	for {
		ev, ok := ch.Poll(context.Background(), 10*time.Millisecond)
		if !ok {
			return alerts
		}
		if ev.Kind == events.KindHighSpread {
			alerts = append(alerts, ev)
		}
	}
}

func waitForAlert(t *testing.T, ch *events.Channel, token string) events.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ev, ok := ch.Poll(context.Background(), 50*time.Millisecond)
		if ok && ev.Kind == events.KindHighSpread && ev.Token == token {
			return ev
		}
	}
	t.Fatalf("no high-spread event for %s", token)
	return events.Event{}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartWithoutTokens(t *testing.T) {
	e := newTestEngine(t, staticTokens(), nil, nil, Options{})
	started, err := e.Start(context.Background())
	if err != nil || started {
		t.Fatalf("empty registry should not start, got %v %v", started, err)
	}
	if e.Running() {
		t.Fatal("engine should not be running")
	}
}

func TestStartPropagatesRegistryError(t *testing.T) {
	failing := registryFunc(func(context.Context) ([]market.Token, error) { return nil, errors.New("disk") })
	e := newTestEngine(t, failing, nil, nil, Options{})
	if _, err := e.Start(context.Background()); err == nil {
		t.Fatal("expected registry error")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	bl := &memBlacklist{set: []string{"DOGE"}}
	resolver := fetcher.ResolverFunc(func(context.Context, string, market.Chain) (decimal.Decimal, error) {
		return decimal.NewFromInt(106), nil
	})
	e := newTestEngine(t, staticTokens("pepe", "doge"), bl, resolver, Options{})

	started, err := e.Start(context.Background())
	if err != nil || !started {
		t.Fatalf("Start 失败: %v %v", started, err)
	}
	if got := e.Monitored(); len(got) != 1 || got[0] != "PEPE" {
		t.Fatalf("blacklisted token should have no workers, monitored=%v", got)
	}
	again, err := e.Start(context.Background())
	if err != nil || again {
		t.Fatalf("second Start should be a reported no-op, got %v %v", again, err)
	}

	e.OnStreamedPrice("PEPE", decimal.NewFromInt(100), time.Now())
	ev := waitForAlert(t, e.Events(), "PEPE")
	if !ev.Spread.Equal(decimal.NewFromInt(6)) || ev.Direction != "premium" || ev.Severity != "high" {
		t.Fatalf("unexpected alert %+v", ev)
	}
	if !ev.AutoOpen || !ev.Threshold.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("alert should carry settings, got %+v", ev)
	}

	e.Stop()
	e.Stop()
	if e.Running() {
		t.Fatal("engine should be stopped")
	}
	if len(e.Prices()) != 0 || e.History("PEPE").Len() != 0 || e.Events().Len() != 0 {
		t.Fatal("Stop 应清空状态")
	}

	// writes from the previous run are discarded
	e.ingest(0, sideStreamed, "PEPE", decimal.NewFromInt(1), time.Now())
	if _, ok := e.Price("PEPE"); ok {
		t.Fatal("stale generation write should be discarded")
	}
}

func TestSpreadAlertDedup(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	e := newTestEngine(t, staticTokens("PEPE"), nil, nil, Options{Now: clock})

	e.OnStreamedPrice("PEPE", decimal.NewFromInt(100), now)
	e.OnPolledPrice("PEPE", decimal.NewFromInt(106), now)
	e.OnPolledPrice("PEPE", decimal.RequireFromString("106.9"), now)
	e.OnPolledPrice("PEPE", decimal.RequireFromString("106.9"), now)
	if got := len(collectAlerts(e.Events())); got != 1 {
		t.Fatalf("6.0%% and 6.9%% should share a key, got %d alerts", got)
	}

	e.OnPolledPrice("PEPE", decimal.RequireFromString("107.5"), now)
	if got := len(collectAlerts(e.Events())); got != 1 {
		t.Fatalf("7.5%% is a new band, got %d alerts", got)
	}

	now = now.Add(5*time.Minute + time.Second)
	e.OnPolledPrice("PEPE", decimal.NewFromInt(106), now)
	alerts := collectAlerts(e.Events())
	if len(alerts) != 1 {
		t.Fatalf("key should expire after TTL, got %d alerts", len(alerts))
	}
	if !alerts[0].At.Equal(now) {
		t.Fatalf("alert timestamp=%v", alerts[0].At)
	}

	series := e.History("PEPE")
	if series.Len() != 6 || len(series.Streamed) != 6 || len(series.Polled) != 6 {
		t.Fatalf("history should record every write, got %d", series.Len())
	}
}

func TestDiscountAlert(t *testing.T) {
	e := newTestEngine(t, staticTokens("PEPE"), nil, nil, Options{})
	e.OnPolledPrice("PEPE", decimal.NewFromInt(94), time.Now())
	e.OnStreamedPrice("PEPE", decimal.NewFromInt(100), time.Now())

	alerts := collectAlerts(e.Events())
	if len(alerts) != 1 || !alerts[0].Spread.Equal(decimal.NewFromInt(-6)) || alerts[0].Direction != "discount" {
		t.Fatalf("unexpected alerts %+v", alerts)
	}
}

func TestEvaluationSkips(t *testing.T) {
	bl := &memBlacklist{}
	e := newTestEngine(t, staticTokens("PEPE"), bl, nil, Options{})
	at := time.Now()

	// one side only
	e.OnStreamedPrice("AAA", decimal.NewFromInt(100), at)
	// below threshold
	e.OnStreamedPrice("BBB", decimal.NewFromInt(100), at)
	e.OnPolledPrice("BBB", decimal.NewFromInt(104), at)
	// non-positive price
	e.OnStreamedPrice("CCC", decimal.Zero, at)
	e.OnPolledPrice("CCC", decimal.NewFromInt(104), at)

	if err := e.AddToBlacklist(context.Background(), "ddd"); err != nil {
		t.Fatal(err)
	}
	e.OnStreamedPrice("DDD", decimal.NewFromInt(100), at)
	e.OnPolledPrice("DDD", decimal.NewFromInt(120), at)

	disabled := true
	if _, err := e.UpdateSettings(SettingsUpdate{DisableAlerts: &disabled}); err != nil {
		t.Fatal(err)
	}
	e.OnStreamedPrice("EEE", decimal.NewFromInt(100), at)
	e.OnPolledPrice("EEE", decimal.NewFromInt(120), at)

	if alerts := collectAlerts(e.Events()); len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %+v", alerts)
	}
	if state, _ := e.Price("CCC"); state.Streamed != nil {
		t.Fatalf("non-positive price should not be stored, got %+v", state.Streamed)
	}
	if got := e.History("CCC"); got.Len() != 1 || got.Streamed[0].Valid {
		t.Fatalf("non-positive price should not reach history, got %+v", got)
	}
}

func TestUnchangedPriceRefreshesTimestampOnly(t *testing.T) {
	e := newTestEngine(t, staticTokens("PEPE"), nil, nil, Options{})
	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	e.OnStreamedPrice("PEPE", decimal.NewFromInt(100), first)
	e.OnPolledPrice("PEPE", decimal.NewFromInt(106), first)
	collectAlerts(e.Events())

	later := first.Add(time.Minute)
	e.OnPolledPrice("PEPE", decimal.NewFromInt(106), later)
	state, ok := e.Price("pepe")
	if !ok || !state.Polled.At.Equal(later) {
		t.Fatalf("timestamp should refresh, got %+v", state.Polled)
	}
	if alerts := collectAlerts(e.Events()); len(alerts) != 0 {
		t.Fatalf("unchanged price must not re-evaluate, got %d alerts", len(alerts))
	}
}

func TestUpdateSettings(t *testing.T) {
	e := newTestEngine(t, staticTokens("PEPE"), nil, nil, Options{})

	zero := decimal.Zero
	if _, err := e.UpdateSettings(SettingsUpdate{Threshold: &zero}); !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("expected ErrInvalidSettings, got %v", err)
	}
	negative := -time.Second
	if _, err := e.UpdateSettings(SettingsUpdate{Interval: &negative}); !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("expected ErrInvalidSettings, got %v", err)
	}
	if !e.Settings().Threshold.Equal(decimal.NewFromInt(5)) || e.Settings().Interval != DefaultInterval {
		t.Fatalf("invalid update should keep previous settings, got %+v", e.Settings())
	}

	threshold := decimal.RequireFromString("3.5")
	autoOpen := false
	next, err := e.UpdateSettings(SettingsUpdate{Threshold: &threshold, AutoOpen: &autoOpen})
	if err != nil {
		t.Fatalf("UpdateSettings 失败: %v", err)
	}
	if !next.Threshold.Equal(threshold) || next.AutoOpen || next.Interval != DefaultInterval {
		t.Fatalf("partial update applied incorrectly: %+v", next)
	}
}

func TestBlacklistReadmission(t *testing.T) {
	bl := &memBlacklist{set: []string{"PEPE"}}
	e := newTestEngine(t, staticTokens("PEPE"), bl, nil, Options{
		Settings: Settings{Threshold: decimal.NewFromInt(5), Interval: 20 * time.Millisecond},
	})

	if started, err := e.Start(context.Background()); err != nil || !started {
		t.Fatalf("Start 失败: %v %v", started, err)
	}
	if len(e.Monitored()) != 0 {
		t.Fatalf("blacklisted token started: %v", e.Monitored())
	}

	if err := e.RemoveFromBlacklist(context.Background(), "pepe"); err != nil {
		t.Fatal(err)
	}
	if got := bl.snapshot(); len(got) != 0 {
		t.Fatalf("blacklist should be persisted empty, got %v", got)
	}
	eventually(t, func() bool { return len(e.Monitored()) == 1 }, "token should be re-admitted on the next pass")

	if err := e.AddToBlacklist(context.Background(), "PEPE"); err != nil {
		t.Fatal(err)
	}
	if got := bl.snapshot(); len(got) != 1 || got[0] != "PEPE" {
		t.Fatalf("blacklist not persisted: %v", got)
	}
	if !e.IsBlacklisted("pepe") || len(e.Monitored()) != 1 {
		t.Fatal("blacklisting must not kill running workers")
	}
}

func TestBlacklistSaveFailureKeepsSet(t *testing.T) {
	bl := &memBlacklist{set: []string{"DOGE"}, saveErr: errors.New("disk full")}
	e := newTestEngine(t, staticTokens("PEPE", "DOGE"), bl, nil, Options{})

	if err := e.AddToBlacklist(context.Background(), "pepe"); err == nil {
		t.Fatal("expected save error")
	}
	if e.IsBlacklisted("PEPE") {
		t.Fatal("failed save must not blacklist PEPE in memory")
	}

	if err := e.RemoveFromBlacklist(context.Background(), "doge"); err == nil {
		t.Fatal("expected save error")
	}
	if !e.IsBlacklisted("DOGE") {
		t.Fatal("failed save must keep DOGE blacklisted in memory")
	}
	if got := e.Blacklist(); len(got) != 1 || got[0] != "DOGE" {
		t.Fatalf("in-memory blacklist diverged from the persisted one: %v", got)
	}
}

func TestRestartAfterStopStartsClean(t *testing.T) {
	bl := &memBlacklist{}
	e := newTestEngine(t, staticTokens("PEPE", "DOGE"), bl, nil, Options{})
	ctx := context.Background()

	if started, err := e.Start(ctx); err != nil || !started {
		t.Fatalf("Start 失败: %v %v", started, err)
	}

	at := time.Now()
	e.OnStreamedPrice("PEPE", decimal.NewFromInt(100), at)
	e.OnPolledPrice("PEPE", decimal.NewFromInt(106), at)
	e.OnStreamedPrice("DOGE", decimal.RequireFromString("0.1"), at)
	e.OnPolledPrice("DOGE", decimal.RequireFromString("0.101"), at)
	waitForAlert(t, e.Events(), "PEPE")

	before := e.History("DOGE").Len()
	if before != 2 {
		t.Fatalf("expected 2 DOGE history entries, got %d", before)
	}
	if err := e.AddToBlacklist(ctx, "DOGE"); err != nil {
		t.Fatal(err)
	}
	if got := e.History("DOGE").Len(); got != before {
		t.Fatalf("blacklisting must keep existing history, got %d entries want %d", got, before)
	}

	e.Stop()
	if started, err := e.Start(ctx); err != nil || !started {
		t.Fatalf("restart 失败: %v %v", started, err)
	}
	if got := e.Prices(); len(got) != 0 {
		t.Fatalf("price store should be empty after restart, got %v", got)
	}
	if e.History("PEPE").Len() != 0 || e.History("DOGE").Len() != 0 {
		t.Fatal("history should be empty after restart")
	}

	at = time.Now()
	e.OnStreamedPrice("PEPE", decimal.NewFromInt(100), at)
	e.OnPolledPrice("PEPE", decimal.NewFromInt(106), at)
	ev := waitForAlert(t, e.Events(), "PEPE")
	if !ev.Spread.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("unexpected spread after restart: %s", ev.Spread)
	}
}

func TestPassRecordsSamples(t *testing.T) {
	sink := &sampleSink{}
	e, err := New(Options{
		Settings:     Settings{Threshold: decimal.NewFromInt(5), Interval: 20 * time.Millisecond},
		Stream:       stream.Options{ReconnectDelay: 10 * time.Millisecond},
		ErrorPause:   10 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}, Dependencies{
		Registry: staticTokens("PEPE"),
		Resolver: offlineResolver(),
		Dialer:   offlineDialer{},
		Recorder: sink,
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	if _, err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.OnStreamedPrice("PEPE", decimal.NewFromInt(100), time.Now())
	e.OnPolledPrice("PEPE", decimal.NewFromInt(103), time.Now())

	var sample storage.SpreadSample
	eventually(t, func() bool {
		var ok bool
		sample, ok = sink.find("PEPE")
		return ok
	}, "pass should record a sample")
	if !sample.SpreadPct.Decimal.Equal(decimal.NewFromInt(3)) || !sample.Streamed.Valid || !sample.Polled.Valid {
		t.Fatalf("unexpected sample %+v", sample)
	}
}
