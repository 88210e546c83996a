package app

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"spreadwatch/internal/market"
	"spreadwatch/internal/spread"
	"spreadwatch/internal/storage"
)

// ExportOptions hold parameters for exporting recorded samples.
type ExportOptions struct {
	From  *time.Time
	To    *time.Time
	Token string
	// CSVPath of "-" writes to the app's output.
	CSVPath   string
	MaxPoints int
}

// Export writes recorded spread samples as CSV.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" {
		return errors.New("--csv must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Monitor.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples, err := store.ListSamplesBetween(ctx, market.NormalizeSymbol(opts.Token), from, to)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Msg("no samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting samples")

	if opts.CSVPath == "-" {
		return writeSamplesCSV(a.Out, downsampled)
	}
	return writeSamplesFile(opts.CSVPath, downsampled)
}

func downsampleSamples(samples []storage.SpreadSample, max int) []storage.SpreadSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	if max == 1 {
		return samples[len(samples)-1:]
	}

	result := make([]storage.SpreadSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesFile(path string, samples []storage.SpreadSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return writeSamplesCSV(file, samples)
}

func writeSamplesCSV(w io.Writer, samples []storage.SpreadSample) error {
	writer := csv.NewWriter(w)

	header := []string{"sampled_at", "token", "streamed_price", "polled_price", "spread_pct", "severity"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		record := []string{
			sample.SampledAt.UTC().Format(time.RFC3339),
			sample.Token,
			nullDecimalCell(sample.Streamed),
			nullDecimalCell(sample.Polled),
			nullDecimalCell(sample.SpreadPct),
			severityCell(sample.SpreadPct),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func nullDecimalCell(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func severityCell(pct decimal.NullDecimal) string {
	if !pct.Valid {
		return ""
	}
	return string(spread.Classify(pct.Decimal))
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
