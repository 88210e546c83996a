package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"spreadwatch/internal/market"
	"spreadwatch/internal/storage"
)

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	// Samples switches the listing from alerts to recorded spread samples.
	Samples bool
	Token   string
}

// Show prints recent alerts or samples.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.Samples {
		return a.showSamples(ctx, store, opts)
	}

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tToken\tStreamed\tPolled\tSpread%\tThreshold%\tDirection\tChannels")
	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.AlertedAt.UTC().Format(time.RFC3339),
			alert.Token,
			alert.StreamedPrice.String(),
			alert.PolledPrice.String(),
			formatDecimal(alert.SpreadPct, 2),
			formatDecimal(alert.ThresholdPct, 2),
			alert.Direction,
			strings.Join(alert.Channels, ","),
		)
	}
	return writer.Flush()
}

func (a *App) showSamples(ctx context.Context, store storage.SampleStore, opts ShowOptions) error {
	samples, err := store.ListRecentSamples(ctx, market.NormalizeSymbol(opts.Token), opts.Limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(a.Out, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tToken\tStreamed\tPolled\tSpread%")
	for _, sample := range samples {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			sample.SampledAt.UTC().Format(time.RFC3339),
			sample.Token,
			formatNullDecimal(sample.Streamed, 8),
			formatNullDecimal(sample.Polled, 8),
			formatNullDecimal(sample.SpreadPct, 2),
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func formatNullDecimal(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(places)
}
