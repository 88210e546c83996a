package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spreadwatch/internal/fetcher"
	"spreadwatch/internal/market"
)

// DefaultErrorPause is the wait after a failed or empty resolution.
const DefaultErrorPause = time.Second

// Sink receives polled prices.
type Sink interface {
	OnPolledPrice(symbol string, price decimal.Decimal, at time.Time)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(symbol string, price decimal.Decimal, at time.Time)

// OnPolledPrice implements Sink.
func (f SinkFunc) OnPolledPrice(symbol string, price decimal.Decimal, at time.Time) {
	f(symbol, price, at)
}

// Options configure a Poller.
type Options struct {
	Token           market.Token
	DefaultEVMChain market.Chain
	// Interval is an optional pause after each successful resolution.
	Interval   time.Duration
	ErrorPause time.Duration
	// Skip is consulted once per cycle; true means the token is currently excluded.
	Skip func(symbol string) bool
	Now  func() time.Time
}

// Poller repeatedly resolves one token's DEX price.
type Poller struct {
	opts     Options
	symbol   string
	chain    market.Chain
	resolver fetcher.PriceResolver
	sink     Sink
	logger   zerolog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs a Poller; the chain is fixed at construction from the token's hint or address shape.
func New(opts Options, resolver fetcher.PriceResolver, sink Sink, logger zerolog.Logger) *Poller {
	if opts.ErrorPause <= 0 {
		opts.ErrorPause = DefaultErrorPause
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	symbol := market.NormalizeSymbol(opts.Token.Symbol)
	chain := market.InferChain(opts.Token.Address, opts.Token.Chain, opts.DefaultEVMChain)

	return &Poller{
		opts:     opts,
		symbol:   symbol,
		chain:    chain,
		resolver: resolver,
		sink:     sink,
		logger: logger.With().Str("component", "poller").
			Str("token", symbol).
			Str("chain", string(chain)).Logger(),
		done: make(chan struct{}),
	}
}

// Symbol returns the token symbol.
func (p *Poller) Symbol() string { return p.symbol }

// Chain returns the resolved chain.
func (p *Poller) Chain() market.Chain { return p.chain }

// Done is closed when the loop has exited after Stop.
func (p *Poller) Done() <-chan struct{} { return p.done }

// Start launches the polling loop. Idempotent; no-op after Stop.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	go p.run(ctx)
}

// Stop cancels the loop, interrupting any in-flight request or pause. Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel := p.cancel
	neverStarted := !p.started
	p.mu.Unlock()

	if neverStarted {
		close(p.done)
		return
	}
	cancel()
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	for {
		if ctx.Err() != nil {
			return
		}

		if p.opts.Skip != nil && p.opts.Skip(p.symbol) {
			if !p.sleep(ctx, p.opts.ErrorPause) {
				return
			}
			continue
		}

		price, err := p.resolver.Resolve(ctx, p.opts.Token.Address, p.chain)
		if ctx.Err() != nil {
			return
		}
		if err != nil || price.Sign() <= 0 {
			if err != nil && !errors.Is(err, fetcher.ErrNoPrice) {
				p.logger.Debug().Err(err).Msg("dex price resolution failed")
			}
			if !p.sleep(ctx, p.opts.ErrorPause) {
				return
			}
			continue
		}

		if p.sink != nil {
			p.sink.OnPolledPrice(p.symbol, price, p.opts.Now())
		}

		if p.opts.Interval > 0 && !p.sleep(ctx, p.opts.Interval) {
			return
		}
	}
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
