package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"spreadwatch/internal/dispatch"
	"spreadwatch/internal/events"
	"spreadwatch/internal/market"
	"spreadwatch/internal/spread"
)

// SimulateOptions describe one synthetic price pair.
type SimulateOptions struct {
	Token    string
	Streamed decimal.Decimal
	Polled   decimal.Decimal
}

// SimulateAlert 通过给定的 CEX/DEX 价格模拟一次告警流程。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	token := market.NormalizeSymbol(opts.Token)
	if token == "" {
		token = "TEST"
	}

	pct, ok := spread.Evaluate(opts.Streamed, opts.Polled)
	if !ok {
		return errors.New("both prices must be positive")
	}

	engine, err := a.offlineEngine()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	engine.OnStreamedPrice(token, opts.Streamed, now)
	engine.OnPolledPrice(token, opts.Polled, now)

	var alert *events.Event
	for {
		ev, ok := engine.Events().Poll(ctx, 10*time.Millisecond)
		if !ok {
			break
		}
		if ev.Kind == events.KindHighSpread {
			alert = &ev
		}
	}

	threshold := engine.Settings().Threshold
	if alert == nil {
		fmt.Fprintf(a.Out, "%s spread %s%% is below threshold %s%%; nothing sent\n", token, pct.StringFixed(2), threshold.String())
		return nil
	}

	d := dispatch.New(dispatch.Options{
		AlertsEnabled: true,
		Channels:      a.Config.Alerting.Channels,
	}, nil, nil, notifier, nil, nil, a.Logger)
	d.Handle(ctx, *alert)

	fmt.Fprintf(a.Out, "%s spread %s%% (%s, %s) dispatched\n", token, alert.Spread.StringFixed(2), alert.Direction, alert.Severity)
	return nil
}
