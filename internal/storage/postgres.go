package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgSchemaSQL = `
CREATE TABLE IF NOT EXISTS spread_samples (
    id          BIGSERIAL PRIMARY KEY,
    token       TEXT        NOT NULL,
    sampled_at  TIMESTAMPTZ NOT NULL,
    streamed    NUMERIC,
    polled      NUMERIC,
    spread_pct  NUMERIC,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_spread_samples_token_ts ON spread_samples (token, sampled_at);

CREATE TABLE IF NOT EXISTS alerts (
    id             BIGSERIAL PRIMARY KEY,
    token          TEXT        NOT NULL,
    alerted_at     TIMESTAMPTZ NOT NULL,
    spread_pct     NUMERIC     NOT NULL,
    streamed_price NUMERIC     NOT NULL,
    polled_price   NUMERIC     NOT NULL,
    threshold_pct  NUMERIC     NOT NULL,
    direction      TEXT        NOT NULL,
    channels       TEXT[]      NOT NULL DEFAULT '{}',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts (created_at);`

	pgInsertSampleSQL = `INSERT INTO spread_samples (
        token,
        sampled_at,
        streamed,
        polled,
        spread_pct
    ) VALUES (
        $1,$2,$3,$4,$5
    );`

	pgSampleColumns = `token,
        sampled_at,
        streamed::text,
        polled::text,
        spread_pct::text,
        created_at`

	pgListSamplesBetweenSQL = `SELECT ` + pgSampleColumns + `
    FROM spread_samples
    WHERE ($1 = '' OR token = $1)
      AND sampled_at >= $2
      AND sampled_at < $3
    ORDER BY sampled_at, token;`

	pgListRecentSamplesSQL = `SELECT ` + pgSampleColumns + `
    FROM spread_samples
    WHERE ($1 = '' OR token = $1)
    ORDER BY sampled_at DESC
    LIMIT $2;`

	pgCountSamplesSQL = `SELECT COUNT(*) FROM spread_samples;`

	pgInsertAlertSQL = `INSERT INTO alerts (
        token,
        alerted_at,
        spread_pct,
        streamed_price,
        polled_price,
        threshold_pct,
        direction,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    RETURNING id, created_at;`

	pgListRecentAlertsSQL = `SELECT
        id,
        token,
        alerted_at,
        spread_pct::text,
        streamed_price::text,
        polled_price::text,
        threshold_pct::text,
        direction,
        channels,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	pgDeleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PostgresStore persists samples and alerts in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a pgx pool into a store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates tables and indexes when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, pgSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertSamples stores one scheduling pass in a single batch.
func (s *PostgresStore) InsertSamples(ctx context.Context, samples []SpreadSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, sample := range samples {
		batch.Queue(pgInsertSampleSQL,
			sample.Token,
			sample.SampledAt,
			nullDecimalArg(sample.Streamed),
			nullDecimalArg(sample.Polled),
			nullDecimalArg(sample.SpreadPct),
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for range samples {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert spread sample: %w", err)
		}
	}
	return nil
}

// ListSamplesBetween lists samples in [from, to). An empty token matches all tokens.
func (s *PostgresStore) ListSamplesBetween(ctx context.Context, token string, from, to time.Time) ([]SpreadSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, pgListSamplesBetweenSQL, token, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()
	return collectSamples(rows)
}

// ListRecentSamples lists the most recent samples, newest first.
func (s *PostgresStore) ListRecentSamples(ctx context.Context, token string, limit int) ([]SpreadSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, pgListRecentSamplesSQL, token, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()
	return collectSamples(rows)
}

// CountSamples counts stored samples.
func (s *PostgresStore) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, pgCountSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists an alert emission.
func (s *PostgresStore) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	channels := alert.Channels
	if channels == nil {
		channels = []string{}
	}

	row := pool.QueryRow(ctx, pgInsertAlertSQL,
		alert.Token,
		alert.AlertedAt,
		alert.SpreadPct.String(),
		alert.StreamedPrice.String(),
		alert.PolledPrice.String(),
		alert.ThresholdPct.String(),
		alert.Direction,
		channels,
	)

	rec := alert
	rec.Channels = channels
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *PostgresStore) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, pgListRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		var spreadStr, streamedStr, polledStr, thresholdStr string
		if err := rows.Scan(
			&rec.ID,
			&rec.Token,
			&rec.AlertedAt,
			&spreadStr,
			&streamedStr,
			&polledStr,
			&thresholdStr,
			&rec.Direction,
			&rec.Channels,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := rec.parseAmounts(spreadStr, streamedStr, polledStr, thresholdStr); err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *PostgresStore) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, pgDeleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func collectSamples(rows pgx.Rows) ([]SpreadSample, error) {
	samples := make([]SpreadSample, 0)
	for rows.Next() {
		var (
			sample                     SpreadSample
			streamed, polled, spreadPc *string
		)
		if err := rows.Scan(
			&sample.Token,
			&sample.SampledAt,
			&streamed,
			&polled,
			&spreadPc,
			&sample.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := sample.parseAmounts(streamed, polled, spreadPc); err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

func (s *SpreadSample) parseAmounts(streamed, polled, spreadPct *string) error {
	var err error
	if s.Streamed, err = parseNullDecimal(streamed); err != nil {
		return fmt.Errorf("parse streamed price: %w", err)
	}
	if s.Polled, err = parseNullDecimal(polled); err != nil {
		return fmt.Errorf("parse polled price: %w", err)
	}
	if s.SpreadPct, err = parseNullDecimal(spreadPct); err != nil {
		return fmt.Errorf("parse spread pct: %w", err)
	}
	return nil
}

func (a *AlertRecord) parseAmounts(spread, streamed, polled, threshold string) error {
	var err error
	if a.SpreadPct, err = decimal.NewFromString(spread); err != nil {
		return fmt.Errorf("parse spread pct: %w", err)
	}
	if a.StreamedPrice, err = decimal.NewFromString(streamed); err != nil {
		return fmt.Errorf("parse streamed price: %w", err)
	}
	if a.PolledPrice, err = decimal.NewFromString(polled); err != nil {
		return fmt.Errorf("parse polled price: %w", err)
	}
	if a.ThresholdPct, err = decimal.NewFromString(threshold); err != nil {
		return fmt.Errorf("parse threshold pct: %w", err)
	}
	return nil
}

var (
	_ Store          = (*PostgresStore)(nil)
	_ AdvisoryLocker = (*PostgresStore)(nil)
)
