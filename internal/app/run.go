package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"spreadwatch/internal/cache"
	"spreadwatch/internal/dispatch"
	"spreadwatch/internal/monitor"
	"spreadwatch/internal/storage"
	"spreadwatch/internal/version"
)

// ErrNothingToMonitor is returned by Run when the registry yields no tokens.
var ErrNothingToMonitor = errors.New("no tokens to monitor")

// Run executes the long-running monitor until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.Logger.Info().Str("build", version.String()).Msg("starting spreadwatch")

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	var (
		alertStore storage.AlertStore
		recorder   monitor.SampleRecorder
	)
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	} else {
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		unlock, err := a.acquireInstanceLock(ctx, store)
		if err != nil {
			return err
		}
		defer unlock()
		alertStore = store
		recorder = store
	}

	var mirror dispatch.Mirror
	redisMirror, err := cache.NewRedisMirror(ctx, a.Config.Redis)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("redis unavailable; live mirror disabled")
	} else if redisMirror != nil {
		defer redisMirror.Close()
		mirror = redisMirror
	}

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	if a.Config.Alerting.Enabled && notifier == nil {
		a.Logger.Warn().Msg("alerting enabled but no channel configured")
	}

	resolver, closeResolver := a.newResolver()
	defer closeResolver()

	engine, err := a.newEngine(resolver, recorder)
	if err != nil {
		return err
	}

	jobs, err := a.startJobs(alertStore)
	if err != nil {
		return err
	}
	defer func() { <-jobs.Stop().Done() }()

	started, err := engine.Start(ctx)
	if err != nil {
		return err
	}
	if !started {
		return ErrNothingToMonitor
	}
	defer engine.Stop()

	d := dispatch.New(dispatch.Options{
		AlertsEnabled: a.Config.Alerting.Enabled,
		Channels:      a.Config.Alerting.Channels,
	}, engine.Events(), engine, notifier, alertStore, mirror, a.Logger)

	a.Logger.Info().Strs("tokens", engine.Monitored()).Msg("monitor running")
	err = d.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("dispatcher terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitor stopped")
	return nil
}

// acquireInstanceLock takes the advisory lock when the backend supports it. The returned func is never nil.
func (a *App) acquireInstanceLock(ctx context.Context, store storage.Store) (func(), error) {
	key := a.Config.Database.AdvisoryLockKey
	locker, ok := store.(storage.AdvisoryLocker)
	if key == 0 || !ok {
		return func() {}, nil
	}
	unlock, acquired, err := locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("another instance holds advisory lock %d", key)
	}
	a.Logger.Info().Int64("lock_key", key).Msg("advisory lock acquired")
	return unlock, nil
}
