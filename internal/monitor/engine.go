package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spreadwatch/internal/alerting"
	"spreadwatch/internal/events"
	"spreadwatch/internal/fetcher"
	"spreadwatch/internal/history"
	"spreadwatch/internal/market"
	"spreadwatch/internal/poller"
	"spreadwatch/internal/pricestate"
	"spreadwatch/internal/scheduler"
	"spreadwatch/internal/spread"
	"spreadwatch/internal/storage"
	"spreadwatch/internal/stream"
)

// DefaultJoinTimeout bounds how long Stop waits for workers.
const DefaultJoinTimeout = 3 * time.Second

// TokenRegistry supplies the monitored token set.
type TokenRegistry interface {
	LoadTokens(ctx context.Context) ([]market.Token, error)
}

// BlacklistStore persists the excluded symbol set wholesale.
type BlacklistStore interface {
	Load(ctx context.Context) ([]string, error)
	Save(ctx context.Context, symbols []string) error
}

// SampleRecorder receives one snapshot per scheduling pass.
type SampleRecorder interface {
	InsertSamples(ctx context.Context, samples []storage.SpreadSample) error
}

// Options tune the engine.
type Options struct {
	Settings Settings
	// Stream is the template for every feed; Symbol is filled per token.
	Stream           stream.Options
	DefaultEVMChain  market.Chain
	PollInterval     time.Duration
	ErrorPause       time.Duration
	HistoryRetention time.Duration
	AlertTTL         time.Duration
	QueueCapacity    int
	JoinTimeout      time.Duration
	Now              func() time.Time
}

// Dependencies are the collaborators the engine does not own.
type Dependencies struct {
	Registry  TokenRegistry
	Blacklist BlacklistStore
	Resolver  fetcher.PriceResolver
	Dialer    stream.Dialer
	Recorder  SampleRecorder
}

type workerSet struct {
	feed   *stream.Feed
	poller *poller.Poller
}

type side int

const (
	sideStreamed side = iota
	sidePolled
)

// Engine runs one feed and one poller per monitored token and turns their prices into events.
type Engine struct {
	opts   Options
	deps   Dependencies
	logger zerolog.Logger

	settings atomic.Pointer[Settings]

	store   *pricestate.Store
	history *history.History
	dedup   *alerting.Deduplicator
	events  *events.Channel

	blMu      sync.RWMutex
	blacklist map[string]struct{}
	saveMu    sync.Mutex
	blLoaded  bool

	// lifeMu serialises Start and Stop; mu guards the fields below it.
	lifeMu   sync.Mutex
	mu       sync.Mutex
	running  bool
	runCtx   context.Context
	cancel   context.CancelFunc
	passDone chan struct{}
	tokens   []market.Token
	workers  map[string]*workerSet
	runGen   uint64

	// writeMu makes a generation bump wait for in-flight price writes.
	writeMu    sync.RWMutex
	generation atomic.Uint64
}

// New constructs an Engine.
func New(opts Options, deps Dependencies, logger zerolog.Logger) (*Engine, error) {
	if deps.Registry == nil {
		return nil, errors.New("monitor: token registry is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("monitor: price resolver is required")
	}
	if opts.Settings == (Settings{}) {
		opts.Settings = DefaultSettings()
	}
	if err := opts.Settings.validate(); err != nil {
		return nil, err
	}
	if opts.HistoryRetention <= 0 {
		opts.HistoryRetention = history.DefaultRetention
	}
	if opts.AlertTTL <= 0 {
		opts.AlertTTL = alerting.DefaultDedupTTL
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = events.DefaultCapacity
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	e := &Engine{
		opts:      opts,
		deps:      deps,
		logger:    logger.With().Str("component", "monitor").Logger(),
		store:     pricestate.New(),
		history:   history.New(opts.HistoryRetention, history.WithClock(opts.Now)),
		dedup:     alerting.NewDeduplicator(opts.AlertTTL, opts.Now),
		events:    events.NewChannel(opts.QueueCapacity),
		blacklist: make(map[string]struct{}),
	}
	settings := opts.Settings
	e.settings.Store(&settings)
	return e, nil
}

// Start loads the registry and launches workers for every non-blacklisted token.
// It reports false without error when already running or when there is nothing to monitor.
func (e *Engine) Start(ctx context.Context) (bool, error) {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	if e.Running() {
		e.logger.Warn().Msg("monitoring already running")
		return false, nil
	}

	tokens, err := e.deps.Registry.LoadTokens(ctx)
	if err != nil {
		return false, fmt.Errorf("load tokens: %w", err)
	}
	if len(tokens) == 0 {
		e.logger.Warn().Msg("no tokens to monitor")
		return false, nil
	}

	e.saveMu.Lock()
	blErr := e.ensureBlacklist(ctx)
	e.saveMu.Unlock()
	if blErr != nil {
		e.logger.Warn().Err(blErr).Msg("blacklist unavailable, continuing with in-memory set")
	}

	sched, err := scheduler.New(scheduler.Options{
		Interval:     e.Settings().Interval,
		IntervalFunc: func() time.Duration { return e.Settings().Interval },
		Now:          e.opts.Now,
	}, e.logger)
	if err != nil {
		return false, err
	}

	runCtx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.running = true
	e.runCtx = runCtx
	e.cancel = cancel
	e.runGen = e.generation.Load()
	e.tokens = tokens
	e.workers = make(map[string]*workerSet, len(tokens))
	started := e.reconcileLocked()
	e.passDone = make(chan struct{})
	passDone := e.passDone
	e.mu.Unlock()

	go func() {
		defer close(passDone)
		_ = sched.Run(runCtx, e.pass)
	}()

	e.logger.Info().
		Int("tokens", len(tokens)).
		Int("started", started).
		Int("blacklisted", len(tokens)-started).
		Msg("monitoring started")
	return true, nil
}

// Stop halts every worker, waits up to the join timeout and discards in-flight state.
func (e *Engine) Stop() {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	workers := e.workers
	passDone := e.passDone
	e.workers = nil
	e.tokens = nil
	e.runCtx = nil
	e.mu.Unlock()

	// Writes still in flight finish first; anything later carries a stale generation.
	e.writeMu.Lock()
	e.generation.Add(1)
	e.writeMu.Unlock()

	cancel()
	stragglers := e.join(workers, passDone)
	if len(stragglers) > 0 {
		e.logger.Warn().
			Strs("workers", stragglers).
			Dur("timeout", e.opts.JoinTimeout).
			Msg("workers did not stop in time")
	}

	drained := e.events.Drain()
	e.store.Clear()
	e.history.Clear()
	e.dedup.Reset()

	e.logger.Info().
		Int("workers", len(workers)).
		Int("drained_events", drained).
		Msg("monitoring stopped")
}

func (e *Engine) join(workers map[string]*workerSet, passDone <-chan struct{}) []string {
	type pending struct {
		name string
		done <-chan struct{}
	}

	waits := []pending{{name: "scheduler", done: passDone}}
	symbols := make([]string, 0, len(workers))
	for symbol := range workers {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		w := workers[symbol]
		w.feed.Stop()
		w.poller.Stop()
		waits = append(waits,
			pending{name: "stream:" + symbol, done: w.feed.Done()},
			pending{name: "poller:" + symbol, done: w.poller.Done()},
		)
	}

	timer := time.NewTimer(e.opts.JoinTimeout)
	defer timer.Stop()

	var stragglers []string
	expired := false
	for _, w := range waits {
		if expired {
			select {
			case <-w.done:
			default:
				stragglers = append(stragglers, w.name)
			}
			continue
		}
		select {
		case <-w.done:
		case <-timer.C:
			expired = true
			stragglers = append(stragglers, w.name)
		}
	}
	return stragglers
}

// pass is one scheduling cycle: reconcile workers against the blacklist and record a snapshot.
func (e *Engine) pass(ctx context.Context, at time.Time) error {
	e.mu.Lock()
	if !e.running || ctx.Err() != nil {
		e.mu.Unlock()
		return nil
	}
	started := e.reconcileLocked()
	e.mu.Unlock()

	if started > 0 {
		e.logger.Info().Int("started", started).Msg("workers started for re-admitted tokens")
	}
	return e.recordSamples(ctx, at)
}

// reconcileLocked starts workers for tokens that are not blacklisted and have none. Callers hold mu.
func (e *Engine) reconcileLocked() int {
	started := 0
	for _, token := range e.tokens {
		symbol := market.NormalizeSymbol(token.Symbol)
		if symbol == "" {
			continue
		}
		if _, ok := e.workers[symbol]; ok {
			continue
		}
		if e.IsBlacklisted(symbol) {
			continue
		}
		e.workers[symbol] = e.startWorkersLocked(symbol, token)
		started++
	}
	return started
}

func (e *Engine) startWorkersLocked(symbol string, token market.Token) *workerSet {
	gen := e.runGen

	feedOpts := e.opts.Stream
	feedOpts.Symbol = symbol
	if feedOpts.Now == nil {
		feedOpts.Now = e.opts.Now
	}
	feed := stream.New(feedOpts, e.deps.Dialer, stream.SinkFunc(func(sym string, price decimal.Decimal, at time.Time) {
		e.ingest(gen, sideStreamed, sym, price, at)
	}), e.logger)

	token.Symbol = symbol
	p := poller.New(poller.Options{
		Token:           token,
		DefaultEVMChain: e.opts.DefaultEVMChain,
		Interval:        e.opts.PollInterval,
		ErrorPause:      e.opts.ErrorPause,
		Skip:            e.IsBlacklisted,
		Now:             e.opts.Now,
	}, e.deps.Resolver, poller.SinkFunc(func(sym string, price decimal.Decimal, at time.Time) {
		e.ingest(gen, sidePolled, sym, price, at)
	}), e.logger)

	feed.Start(e.runCtx)
	p.Start(e.runCtx)
	return &workerSet{feed: feed, poller: p}
}

func (e *Engine) recordSamples(ctx context.Context, at time.Time) error {
	if e.deps.Recorder == nil {
		return nil
	}
	snapshot := e.store.Snapshot()
	if len(snapshot) == 0 {
		return nil
	}

	symbols := make([]string, 0, len(snapshot))
	for symbol := range snapshot {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	samples := make([]storage.SpreadSample, 0, len(symbols))
	for _, symbol := range symbols {
		state := snapshot[symbol]
		sample := storage.SpreadSample{Token: symbol, SampledAt: at}
		if state.Streamed != nil {
			sample.Streamed = decimal.NewNullDecimal(state.Streamed.Value)
		}
		if state.Polled != nil {
			sample.Polled = decimal.NewNullDecimal(state.Polled.Value)
		}
		if pct, ok := spread.EvaluatePoints(state.Streamed, state.Polled); ok {
			sample.SpreadPct = decimal.NewNullDecimal(pct.Round(4))
		}
		samples = append(samples, sample)
	}

	if err := e.deps.Recorder.InsertSamples(ctx, samples); err != nil {
		return fmt.Errorf("record samples: %w", err)
	}
	return nil
}

// OnStreamedPrice records a streamed price in the current generation.
func (e *Engine) OnStreamedPrice(symbol string, price decimal.Decimal, at time.Time) {
	e.ingest(e.generation.Load(), sideStreamed, symbol, price, at)
}

// OnPolledPrice records a polled price in the current generation.
func (e *Engine) OnPolledPrice(symbol string, price decimal.Decimal, at time.Time) {
	e.ingest(e.generation.Load(), sidePolled, symbol, price, at)
}

func (e *Engine) ingest(gen uint64, s side, symbol string, price decimal.Decimal, at time.Time) {
	e.writeMu.RLock()
	defer e.writeMu.RUnlock()
	if e.generation.Load() != gen {
		return
	}

	symbol = market.NormalizeSymbol(symbol)
	if price.Sign() <= 0 {
		e.logger.Debug().Str("token", symbol).Str("price", price.String()).Msg("non-positive price ignored")
		return
	}
	point := market.PricePoint{At: at, Value: price}
	value := decimal.NewNullDecimal(price)

	var changed bool
	switch s {
	case sideStreamed:
		changed = e.store.SetStreamed(symbol, point)
		e.history.AppendAt(symbol, at, value, decimal.NullDecimal{})
	case sidePolled:
		changed = e.store.SetPolled(symbol, point)
		e.history.AppendAt(symbol, at, decimal.NullDecimal{}, value)
	}

	if !e.events.Offer(events.PriceUpdate(symbol, at)) {
		e.logger.Debug().Str("token", symbol).Msg("event queue full, price update dropped")
	}
	if changed {
		e.evaluate(symbol, at)
	}
}

func (e *Engine) evaluate(symbol string, at time.Time) {
	state, ok := e.store.Get(symbol)
	if !ok {
		return
	}
	pct, ok := spread.EvaluatePoints(state.Streamed, state.Polled)
	if !ok {
		return
	}

	settings := e.Settings()
	if !spread.Exceeds(pct, settings.Threshold) {
		return
	}
	if settings.DisableAlerts || e.IsBlacklisted(symbol) {
		return
	}
	if !e.dedup.Allow(spread.AlertKey(symbol, pct)) {
		return
	}

	ev := events.Event{
		Kind:      events.KindHighSpread,
		Token:     symbol,
		Spread:    pct,
		Streamed:  state.Streamed.Value,
		Polled:    state.Polled.Value,
		Threshold: settings.Threshold,
		Direction: spread.Direction(pct),
		Severity:  string(spread.Classify(pct)),
		AutoOpen:  settings.AutoOpen,
		At:        at,
	}
	if !e.events.Offer(ev) {
		e.logger.Warn().Str("token", symbol).Str("spread_pct", pct.StringFixed(2)).Msg("event queue full, alert dropped")
		return
	}
	e.logger.Warn().
		Str("token", symbol).
		Str("spread_pct", pct.StringFixed(2)).
		Str("direction", ev.Direction).
		Msg("high spread detected")
}

// UpdateSettings atomically replaces the provided fields. Invalid values leave settings unchanged.
func (e *Engine) UpdateSettings(u SettingsUpdate) (Settings, error) {
	for {
		current := e.settings.Load()
		next, err := current.apply(u)
		if err != nil {
			return *current, err
		}
		if e.settings.CompareAndSwap(current, &next) {
			e.logger.Info().
				Str("threshold", next.Threshold.String()).
				Dur("interval", next.Interval).
				Bool("auto_open", next.AutoOpen).
				Bool("disable_alerts", next.DisableAlerts).
				Msg("settings updated")
			return next, nil
		}
	}
}

// Settings returns the current settings snapshot.
func (e *Engine) Settings() Settings { return *e.settings.Load() }

// Running reports whether monitoring is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Monitored returns the symbols that currently have workers.
func (e *Engine) Monitored() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.workers))
	for symbol := range e.workers {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// Price returns a copy of the token's latest prices.
func (e *Engine) Price(symbol string) (pricestate.State, bool) {
	return e.store.Get(market.NormalizeSymbol(symbol))
}

// Prices returns a copy of every token's latest prices.
func (e *Engine) Prices() map[string]pricestate.State { return e.store.Snapshot() }

// History returns the token's retained series.
func (e *Engine) History(symbol string) history.Series {
	return e.history.Get(market.NormalizeSymbol(symbol))
}

// Events exposes the consumer queue.
func (e *Engine) Events() *events.Channel { return e.events }
