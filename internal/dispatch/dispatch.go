package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"spreadwatch/internal/alerting"
	"spreadwatch/internal/events"
	"spreadwatch/internal/pricestate"
	"spreadwatch/internal/storage"
)

const (
	DefaultPollTimeout    = 500 * time.Millisecond
	DefaultCoalesceWindow = time.Second
)

// EventSource is the consumer side of the engine's queue.
type EventSource interface {
	Poll(ctx context.Context, timeout time.Duration) (events.Event, bool)
}

// StateReader provides copy-on-read price state.
type StateReader interface {
	Price(symbol string) (pricestate.State, bool)
}

// Mirror receives live state and alerts for external readers.
type Mirror interface {
	PublishState(ctx context.Context, token string, state pricestate.State) error
	PublishAlert(ctx context.Context, ev events.Event) error
}

// Options tune the dispatcher.
type Options struct {
	PollTimeout    time.Duration
	CoalesceWindow time.Duration
	AlertsEnabled  bool
	Channels       []string
	Now            func() time.Time
}

// Dispatcher drains engine events and fans them out to notifiers, the alert audit and the mirror.
type Dispatcher struct {
	opts       Options
	source     EventSource
	state      StateReader
	notifier   alerting.Notifier
	alertStore storage.AlertStore
	mirror     Mirror
	logger     zerolog.Logger

	lastPublished map[string]time.Time
}

// New constructs the dispatcher. notifier, alertStore and mirror may be nil.
func New(opts Options, source EventSource, state StateReader, notifier alerting.Notifier, alertStore storage.AlertStore, mirror Mirror, logger zerolog.Logger) *Dispatcher {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.CoalesceWindow <= 0 {
		opts.CoalesceWindow = DefaultCoalesceWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		opts:          opts,
		source:        source,
		state:         state,
		notifier:      notifier,
		alertStore:    alertStore,
		mirror:        mirror,
		logger:        logger.With().Str("component", "dispatch").Logger(),
		lastPublished: make(map[string]time.Time),
	}
}

// Run consumes events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.source == nil {
		return errors.New("dispatch: event source not configured")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, ok := d.source.Poll(ctx, d.opts.PollTimeout)
		if !ok {
			continue
		}
		d.Handle(ctx, ev)
	}
}

// Handle processes a single event. It is not safe for concurrent use.
func (d *Dispatcher) Handle(ctx context.Context, ev events.Event) {
	switch ev.Kind {
	case events.KindHighSpread:
		d.handleAlert(ctx, ev)
	case events.KindPriceUpdate:
		d.handlePriceUpdate(ctx, ev)
	default:
		d.logger.Debug().Str("kind", string(ev.Kind)).Msg("ignoring unknown event")
	}
}

func (d *Dispatcher) handleAlert(ctx context.Context, ev events.Event) {
	logger := d.logger.With().Str("token", ev.Token).Str("spread_pct", ev.Spread.StringFixed(2)).Logger()

	if d.alertStore != nil {
		record := storage.AlertRecord{
			Token:         ev.Token,
			AlertedAt:     ev.At,
			SpreadPct:     ev.Spread,
			StreamedPrice: ev.Streamed,
			PolledPrice:   ev.Polled,
			ThresholdPct:  ev.Threshold,
			Direction:     ev.Direction,
			Channels:      d.opts.Channels,
		}
		if _, err := d.alertStore.InsertAlert(ctx, record); err != nil {
			logger.Error().Err(err).Msg("failed to persist alert record")
		}
	}

	if d.mirror != nil {
		if err := d.mirror.PublishAlert(ctx, ev); err != nil {
			logger.Error().Err(err).Msg("failed to publish alert")
		}
	}

	if !d.opts.AlertsEnabled || d.notifier == nil {
		logger.Info().Msg("alert recorded, delivery disabled")
		return
	}

	note := alerting.Notification{
		Token:         ev.Token,
		SpreadPct:     ev.Spread,
		StreamedPrice: ev.Streamed,
		PolledPrice:   ev.Polled,
		ThresholdPct:  ev.Threshold,
		Direction:     ev.Direction,
		Severity:      ev.Severity,
		At:            ev.At,
		Channels:      d.opts.Channels,
	}
	if err := d.notifier.Notify(ctx, note); err != nil {
		logger.Error().Err(err).Msg("failed to dispatch alert")
		return
	}
	logger.Info().Strs("channels", d.opts.Channels).Msg("alert dispatched")
}

// handlePriceUpdate mirrors at most one state per token per coalesce window.
func (d *Dispatcher) handlePriceUpdate(ctx context.Context, ev events.Event) {
	if d.mirror == nil || d.state == nil {
		return
	}
	now := d.opts.Now()
	if last, ok := d.lastPublished[ev.Token]; ok && now.Sub(last) < d.opts.CoalesceWindow {
		return
	}
	state, ok := d.state.Price(ev.Token)
	if !ok {
		return
	}
	d.lastPublished[ev.Token] = now
	if err := d.mirror.PublishState(ctx, ev.Token, state); err != nil {
		d.logger.Warn().Err(err).Str("token", ev.Token).Msg("failed to mirror state")
	}
}
