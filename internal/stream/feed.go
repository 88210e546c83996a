package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spreadwatch/internal/market"
)

const (
	DefaultURL            = "wss://contract.mexc.com/edge"
	DefaultReconnectDelay = 5 * time.Second
	DefaultPingInterval   = 10 * time.Second
)

// State of a Feed.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStreaming
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Sink receives streamed prices in receipt order.
type Sink interface {
	OnStreamedPrice(symbol string, price decimal.Decimal, at time.Time)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(symbol string, price decimal.Decimal, at time.Time)

// OnStreamedPrice implements Sink.
func (f SinkFunc) OnStreamedPrice(symbol string, price decimal.Decimal, at time.Time) {
	f(symbol, price, at)
}

// Options configure a Feed.
type Options struct {
	URL            string
	Symbol         string
	Quote          string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	Now            func() time.Time
}

// Feed maintains one token's push subscription, reconnecting until stopped.
type Feed struct {
	opts   Options
	pair   string
	dialer Dialer
	sink   Sink
	logger zerolog.Logger

	state atomic.Int32

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs a Feed. It does not connect until Start.
func New(opts Options, dialer Dialer, sink Sink, logger zerolog.Logger) *Feed {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	opts.Symbol = market.NormalizeSymbol(opts.Symbol)
	pair := market.PairName(opts.Symbol, opts.Quote)

	return &Feed{
		opts:   opts,
		pair:   pair,
		dialer: dialer,
		sink:   sink,
		logger: logger.With().Str("component", "stream").Str("token", opts.Symbol).Logger(),
		done:   make(chan struct{}),
	}
}

// Symbol returns the token symbol.
func (f *Feed) Symbol() string { return f.opts.Symbol }

// Pair returns the venue pair name.
func (f *Feed) Pair() string { return f.pair }

// State returns the current lifecycle state.
func (f *Feed) State() State { return State(f.state.Load()) }

// Done is closed once the feed loop has exited after Stop.
func (f *Feed) Done() <-chan struct{} { return f.done }

// Start launches the connection loop. Calling it again, or after Stop, is a no-op.
func (f *Feed) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started || f.stopped {
		return
	}
	f.started = true

	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	go f.run(ctx)
}

// Stop terminates the feed: the live connection is closed and no reconnect is attempted. Idempotent.
func (f *Feed) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	cancel := f.cancel
	neverStarted := !f.started
	f.mu.Unlock()

	f.state.Store(int32(StateStopped))
	if neverStarted {
		close(f.done)
		return
	}
	cancel()
}

func (f *Feed) setState(s State) {
	for {
		cur := f.state.Load()
		if State(cur) == StateStopped {
			return
		}
		if f.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

func (f *Feed) run(ctx context.Context) {
	defer close(f.done)
	defer f.state.Store(int32(StateStopped))

	for {
		err := f.session(ctx)
		if ctx.Err() != nil {
			f.logger.Debug().Msg("feed stopped")
			return
		}
		f.setState(StateDisconnected)
		f.logger.Warn().Err(err).Dur("retry_in", f.opts.ReconnectDelay).Msg("stream connection lost, reconnecting")

		timer := time.NewTimer(f.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session runs one connection until it fails or ctx is cancelled.
func (f *Feed) session(ctx context.Context) error {
	f.setState(StateConnecting)
	conn, err := f.dialer.Dial(ctx, f.opts.URL)
	if err != nil {
		return err
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { _ = conn.Close() }) }
	defer closeConn()

	// Unblocks ReadMessage on Stop.
	go func() {
		<-sessCtx.Done()
		closeConn()
	}()

	if err := conn.WriteJSON(subscribeTicker(f.pair)); err != nil {
		return fmt.Errorf("subscribe ticker: %w", err)
	}
	if err := conn.WriteJSON(subscribeDeal(f.pair)); err != nil {
		return fmt.Errorf("subscribe deal: %w", err)
	}
	f.setState(StateSubscribed)
	f.logger.Info().Str("pair", f.pair).Msg("subscribed to ticker and deals")

	go f.keepAlive(sessCtx, conn, closeConn)

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		msg, err := ParseMessage(raw, f.pair)
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				f.logger.Warn().Err(err).Msg("skipping malformed frame")
				continue
			}
			return err
		}
		if msg.Kind != MessagePrice {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.setState(StateStreaming)
		if f.sink != nil {
			f.sink.OnStreamedPrice(f.opts.Symbol, msg.Price, f.opts.Now())
		}
	}
}

func (f *Feed) keepAlive(ctx context.Context, conn Conn, closeConn func()) {
	ticker := time.NewTicker(f.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(pingRequest()); err != nil {
				f.logger.Debug().Err(err).Msg("ping failed, closing connection")
				closeConn()
				return
			}
		}
	}
}
