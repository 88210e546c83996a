package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists samples and alerts to a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLite opens (or creates) the database and runs migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates tables and indexes when missing.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS spread_samples (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			token      TEXT    NOT NULL,
			sampled_at INTEGER NOT NULL,
			streamed   TEXT,
			polled     TEXT,
			spread_pct TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_spread_samples_token_ts ON spread_samples(token, sampled_at)`,

		`CREATE TABLE IF NOT EXISTS alerts (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			token          TEXT    NOT NULL,
			alerted_at     INTEGER NOT NULL,
			spread_pct     TEXT    NOT NULL,
			streamed_price TEXT    NOT NULL,
			polled_price   TEXT    NOT NULL,
			threshold_pct  TEXT    NOT NULL,
			direction      TEXT    NOT NULL,
			channels       TEXT    NOT NULL DEFAULT '',
			created_at     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at)`,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// InsertSamples stores one scheduling pass in a transaction.
func (s *SQLiteStore) InsertSamples(ctx context.Context, samples []SpreadSample) error {
	if len(samples) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().UnixMilli()
	for _, sample := range samples {
		if _, err := tx.ExecContext(ctx, `INSERT INTO spread_samples
			(token, sampled_at, streamed, polled, spread_pct, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sample.Token,
			sample.SampledAt.UTC().UnixMilli(),
			nullDecimalArg(sample.Streamed),
			nullDecimalArg(sample.Polled),
			nullDecimalArg(sample.SpreadPct),
			now,
		); err != nil {
			return fmt.Errorf("insert spread sample: %w", err)
		}
	}
	return tx.Commit()
}

const sqliteSampleColumns = `token, sampled_at, streamed, polled, spread_pct, created_at`

// ListSamplesBetween lists samples in [from, to). An empty token matches all tokens.
func (s *SQLiteStore) ListSamplesBetween(ctx context.Context, token string, from, to time.Time) ([]SpreadSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteSampleColumns+`
		FROM spread_samples
		WHERE (? = '' OR token = ?) AND sampled_at >= ? AND sampled_at < ?
		ORDER BY sampled_at, token`,
		token, token, from.UTC().UnixMilli(), to.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list samples between: %w", err)
	}
	defer rows.Close()
	return scanSQLiteSamples(rows)
}

// ListRecentSamples lists the most recent samples, newest first.
func (s *SQLiteStore) ListRecentSamples(ctx context.Context, token string, limit int) ([]SpreadSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteSampleColumns+`
		FROM spread_samples
		WHERE (? = '' OR token = ?)
		ORDER BY sampled_at DESC, id DESC
		LIMIT ?`, token, token, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent samples: %w", err)
	}
	defer rows.Close()
	return scanSQLiteSamples(rows)
}

// CountSamples counts stored samples.
func (s *SQLiteStore) CountSamples(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spread_samples`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count samples: %w", err)
	}
	return count, nil
}

// InsertAlert persists an alert emission.
func (s *SQLiteStore) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `INSERT INTO alerts
		(token, alerted_at, spread_pct, streamed_price, polled_price, threshold_pct, direction, channels, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.Token,
		alert.AlertedAt.UTC().UnixMilli(),
		alert.SpreadPct.String(),
		alert.StreamedPrice.String(),
		alert.PolledPrice.String(),
		alert.ThresholdPct.String(),
		alert.Direction,
		strings.Join(alert.Channels, ","),
		created.UnixMilli(),
	)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", err)
	}

	rec := alert
	if rec.ID, err = res.LastInsertId(); err != nil {
		return AlertRecord{}, fmt.Errorf("insert alert id: %w", err)
	}
	rec.CreatedAt = time.UnixMilli(created.UnixMilli()).UTC()
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *SQLiteStore) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT
		id, token, alerted_at, spread_pct, streamed_price, polled_price, threshold_pct, direction, channels, created_at
		FROM alerts
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var (
			rec                                 AlertRecord
			alertedAt, createdAt                int64
			spread, streamed, polled, threshold string
			channels                            string
		)
		if err := rows.Scan(&rec.ID, &rec.Token, &alertedAt, &spread, &streamed, &polled, &threshold,
			&rec.Direction, &channels, &createdAt); err != nil {
			return nil, err
		}
		if err := rec.parseAmounts(spread, streamed, polled, threshold); err != nil {
			return nil, err
		}
		rec.AlertedAt = time.UnixMilli(alertedAt).UTC()
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		if channels != "" {
			rec.Channels = strings.Split(channels, ",")
		}
		alerts = append(alerts, rec)
	}
	return alerts, rows.Err()
}

// DeleteAlertsBefore deletes historical alerts.
func (s *SQLiteStore) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE created_at < ?`, olderThan.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("delete alerts before: %w", err)
	}
	return nil
}

func scanSQLiteSamples(rows *sql.Rows) ([]SpreadSample, error) {
	samples := make([]SpreadSample, 0)
	for rows.Next() {
		var (
			sample                      SpreadSample
			sampledAt, createdAt        int64
			streamed, polled, spreadPct sql.NullString
		)
		if err := rows.Scan(&sample.Token, &sampledAt, &streamed, &polled, &spreadPct, &createdAt); err != nil {
			return nil, err
		}
		if err := sample.parseAmounts(nullStringPtr(streamed), nullStringPtr(polled), nullStringPtr(spreadPct)); err != nil {
			return nil, err
		}
		sample.SampledAt = time.UnixMilli(sampledAt).UTC()
		sample.CreatedAt = time.UnixMilli(createdAt).UTC()
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

var _ Store = (*SQLiteStore)(nil)
