package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"spreadwatch/internal/config"
	"spreadwatch/internal/events"
	"spreadwatch/internal/pricestate"
	"spreadwatch/internal/spread"
)

// ErrNotFound is returned when no mirrored state exists for a token.
var ErrNotFound = errors.New("cache: no state for token")

// Client is the subset of go-redis used by the mirror.
type Client interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRemRangeByScore(ctx context.Context, key, min, max string) *redis.IntCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Snapshot is the mirrored view of one token.
type Snapshot struct {
	Token     string              `json:"token"`
	Streamed  decimal.NullDecimal `json:"streamed"`
	Polled    decimal.NullDecimal `json:"polled"`
	SpreadPct decimal.NullDecimal `json:"spread_pct"`
	UpdatedAt int64               `json:"updated_at_ms"`
}

// AlertMessage is published on the alerts channel.
type AlertMessage struct {
	Token     string          `json:"token"`
	SpreadPct decimal.Decimal `json:"spread_pct"`
	Streamed  decimal.Decimal `json:"streamed"`
	Polled    decimal.Decimal `json:"polled"`
	Threshold decimal.Decimal `json:"threshold"`
	Direction string          `json:"direction"`
	Severity  string          `json:"severity"`
	At        int64           `json:"at_ms"`
}

// RedisMirror publishes live engine state to Redis for external readers.
// A nil *RedisMirror is a valid no-op.
type RedisMirror struct {
	client Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisMirror connects using cfg. An empty address disables mirroring and returns nil.
func NewRedisMirror(ctx context.Context, cfg config.RedisConfig) (*RedisMirror, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewMirror(rdb, cfg.KeyPrefix, cfg.TTL), nil
}

// NewMirror wraps an existing client.
func NewMirror(client Client, prefix string, ttl time.Duration) *RedisMirror {
	if prefix == "" {
		prefix = "spreadwatch"
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisMirror{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (m *RedisMirror) lastKey(token string) string  { return fmt.Sprintf("%s:last:%s", m.prefix, token) }
func (m *RedisMirror) ticksKey(token string) string { return fmt.Sprintf("%s:ticks:%s", m.prefix, token) }

// AlertsChannel is the pub/sub channel carrying AlertMessage payloads.
func (m *RedisMirror) AlertsChannel() string { return m.prefix + ":alerts" }

// PublishState stores the token's latest state and appends it to the time-sorted window.
func (m *RedisMirror) PublishState(ctx context.Context, token string, state pricestate.State) error {
	if m == nil {
		return nil
	}
	now := m.now()
	snap := Snapshot{Token: token, UpdatedAt: now.UnixMilli()}
	if state.Streamed != nil {
		snap.Streamed = decimal.NewNullDecimal(state.Streamed.Value)
	}
	if state.Polled != nil {
		snap.Polled = decimal.NewNullDecimal(state.Polled.Value)
	}
	if pct, ok := spread.EvaluatePoints(state.Streamed, state.Polled); ok {
		snap.SpreadPct = decimal.NewNullDecimal(pct.Round(4))
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := m.client.Set(ctx, m.lastKey(token), payload, m.ttl*2).Err(); err != nil {
		return fmt.Errorf("set last state for %s: %w", token, err)
	}

	key := m.ticksKey(token)
	if err := m.client.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: string(payload)}).Err(); err != nil {
		return fmt.Errorf("add tick for %s: %w", token, err)
	}
	cut := now.Add(-m.ttl).UnixMilli()
	if err := m.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", cut)).Err(); err != nil {
		return fmt.Errorf("trim ticks for %s: %w", token, err)
	}
	if err := m.client.Expire(ctx, key, m.ttl*2).Err(); err != nil {
		return fmt.Errorf("expire ticks for %s: %w", token, err)
	}
	return nil
}

// Latest returns the last mirrored snapshot.
func (m *RedisMirror) Latest(ctx context.Context, token string) (Snapshot, error) {
	if m == nil {
		return Snapshot{}, ErrNotFound
	}
	raw, err := m.client.Get(ctx, m.lastKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("get last state for %s: %w", token, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// Window returns snapshots from the last d, oldest first. Undecodable members are skipped.
func (m *RedisMirror) Window(ctx context.Context, token string, d time.Duration) ([]Snapshot, error) {
	if m == nil {
		return nil, nil
	}
	now := m.now()
	members, err := m.client.ZRangeByScore(ctx, m.ticksKey(token), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", now.Add(-d).UnixMilli()),
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range ticks for %s: %w", token, err)
	}

	out := make([]Snapshot, 0, len(members))
	for _, member := range members {
		var snap Snapshot
		if err := json.Unmarshal([]byte(member), &snap); err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// PublishAlert broadcasts a high-spread event.
func (m *RedisMirror) PublishAlert(ctx context.Context, ev events.Event) error {
	if m == nil {
		return nil
	}
	payload, err := json.Marshal(AlertMessage{
		Token:     ev.Token,
		SpreadPct: ev.Spread,
		Streamed:  ev.Streamed,
		Polled:    ev.Polled,
		Threshold: ev.Threshold,
		Direction: ev.Direction,
		Severity:  ev.Severity,
		At:        ev.At.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	if err := m.client.Publish(ctx, m.AlertsChannel(), payload).Err(); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Health pings the server.
func (m *RedisMirror) Health(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.client.Ping(ctx).Err()
}

// Close releases the client.
func (m *RedisMirror) Close() error {
	if m == nil {
		return nil
	}
	return m.client.Close()
}
