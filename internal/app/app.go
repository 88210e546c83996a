package app

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spreadwatch/internal/alerting"
	"spreadwatch/internal/config"
	"spreadwatch/internal/fetcher"
	"spreadwatch/internal/market"
	"spreadwatch/internal/monitor"
	"spreadwatch/internal/registry"
	"spreadwatch/internal/storage"
	"spreadwatch/internal/stream"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) tokenRegistry() *registry.FileRegistry {
	return registry.NewFileRegistry(a.Config.Files.TokensFile)
}

func (a *App) blacklistFile() *registry.BlacklistFile {
	return registry.NewBlacklistFile(a.Config.Files.BlacklistFile)
}

// newResolver chains the on-chain pool reader (when pools are configured) before the page scraper.
func (a *App) newResolver() (fetcher.PriceResolver, func()) {
	cfg := a.Config.Resolver

	page := fetcher.NewPageResolver(fetcher.PageOptions{
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.Timeout,
		UserAgent:  cfg.UserAgent,
		Strategies: fetcher.DefaultStrategies(decimal.NewFromFloat(cfg.MinPrice), decimal.NewFromFloat(cfg.MaxPrice)),
	}, a.Logger)

	if len(cfg.Pools) == 0 {
		return page, func() {}
	}

	pool := fetcher.NewPoolResolver(fetcher.PoolOptions{
		RPCURLs: cfg.RPCURLs,
		Pools:   cfg.Pools,
		Timeout: cfg.Timeout,
	}, a.Logger)
	return fetcher.NewFallback(pool, page), pool.Close
}

func (a *App) newNotifier() (alerting.Notifier, error) {
	cfg := a.Config.Alerting
	var notifiers []alerting.Notifier

	if cfg.Telegram.Enabled {
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.Timeout, a.Logger))
	}
	if cfg.Discord.Enabled {
		discord, err := alerting.NewDiscordNotifier(cfg.Discord.BotToken, cfg.Discord.ChannelID, a.Logger)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, discord)
	}

	if len(notifiers) == 0 {
		return nil, nil
	}
	return alerting.NewMultiNotifier(notifiers...), nil
}

func (a *App) openStore(ctx context.Context) (storage.Store, func(), error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, nil
	}
	return store, store.Close, nil
}

func (a *App) requireStore(ctx context.Context) (storage.Store, func(), error) {
	store, closer, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database not configured; set database.dsn")
	}
	return store, closer, nil
}

func (a *App) engineOptions() monitor.Options {
	cfg := a.Config
	return monitor.Options{
		Settings: monitor.Settings{
			Threshold:     decimal.NewFromFloat(cfg.Monitor.SpreadThreshold),
			Interval:      cfg.Monitor.Interval,
			AutoOpen:      cfg.Monitor.AutoOpen,
			DisableAlerts: cfg.Monitor.DisableAlerts,
		},
		Stream: stream.Options{
			URL:            cfg.Stream.URL,
			Quote:          cfg.Stream.Quote,
			ReconnectDelay: cfg.Stream.ReconnectDelay,
			PingInterval:   cfg.Stream.PingInterval,
		},
		DefaultEVMChain:  market.NormalizeChain(cfg.Resolver.DefaultEVMChain),
		PollInterval:     cfg.Resolver.PollInterval,
		ErrorPause:       cfg.Resolver.ErrorPause,
		HistoryRetention: cfg.Monitor.HistoryRetention,
		AlertTTL:         cfg.Monitor.AlertTTL,
		QueueCapacity:    cfg.Monitor.QueueCapacity,
		JoinTimeout:      cfg.Monitor.JoinTimeout,
	}
}

func (a *App) newEngine(resolver fetcher.PriceResolver, recorder monitor.SampleRecorder) (*monitor.Engine, error) {
	deps := monitor.Dependencies{
		Registry:  a.tokenRegistry(),
		Blacklist: a.blacklistFile(),
		Resolver:  resolver,
		Dialer:    stream.WebsocketDialer{HandshakeTimeout: a.Config.Stream.HandshakeTimeout},
	}
	if a.Config.Monitor.RecordSamples && recorder != nil {
		deps.Recorder = recorder
	}
	return monitor.New(a.engineOptions(), deps, a.Logger)
}

// offlineEngine builds an engine that never resolves prices, for control operations.
func (a *App) offlineEngine() (*monitor.Engine, error) {
	resolver := fetcher.ResolverFunc(func(context.Context, string, market.Chain) (decimal.Decimal, error) {
		return decimal.Decimal{}, fetcher.ErrNoPrice
	})
	return a.newEngine(resolver, nil)
}
