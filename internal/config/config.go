package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"spreadwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Files    FilesConfig    `mapstructure:"files"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates persistence connectivity. A "sqlite:" DSN selects the local backend.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	AlertRetention  time.Duration `mapstructure:"alert_retention"`
}

// MonitorConfig governs the engine.
type MonitorConfig struct {
	SpreadThreshold  float64       `mapstructure:"spread_threshold"`
	Interval         time.Duration `mapstructure:"interval"`
	AutoOpen         bool          `mapstructure:"auto_open"`
	DisableAlerts    bool          `mapstructure:"disable_alerts"`
	HistoryRetention time.Duration `mapstructure:"history_retention"`
	AlertTTL         time.Duration `mapstructure:"alert_ttl"`
	QueueCapacity    int           `mapstructure:"queue_capacity"`
	JoinTimeout      time.Duration `mapstructure:"join_timeout"`
	RecordSamples    bool          `mapstructure:"record_samples"`
}

// StreamConfig covers the CEX push feed.
type StreamConfig struct {
	URL              string        `mapstructure:"url"`
	Quote            string        `mapstructure:"quote"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

// ResolverConfig covers DEX price resolution.
type ResolverConfig struct {
	BaseURL         string            `mapstructure:"base_url"`
	Timeout         time.Duration     `mapstructure:"timeout"`
	UserAgent       string            `mapstructure:"user_agent"`
	ErrorPause      time.Duration     `mapstructure:"error_pause"`
	PollInterval    time.Duration     `mapstructure:"poll_interval"`
	DefaultEVMChain string            `mapstructure:"default_evm_chain"`
	MinPrice        float64           `mapstructure:"min_price"`
	MaxPrice        float64           `mapstructure:"max_price"`
	RPCURLs         map[string]string `mapstructure:"rpc_urls"`
	Pools           map[string]string `mapstructure:"pools"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Discord  DiscordConfig  `mapstructure:"discord"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// DiscordConfig 描述 Discord 告警参数。
type DiscordConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	BotToken  string `mapstructure:"bot_token"`
	ChannelID string `mapstructure:"channel_id"`
}

// RedisConfig configures the live state mirror.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// FilesConfig locates the token registry, blacklist and backups.
type FilesConfig struct {
	TokensFile     string `mapstructure:"tokens_file"`
	BlacklistFile  string `mapstructure:"blacklist_file"`
	BackupDir      string `mapstructure:"backup_dir"`
	AutoBackup     bool   `mapstructure:"auto_backup"`
	BackupSchedule string `mapstructure:"backup_schedule"`
	BackupKeep     int    `mapstructure:"backup_keep"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("SPREADWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "spreadwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x53505244))
	v.SetDefault("database.alert_retention", "720h")

	v.SetDefault("monitor.spread_threshold", 5.0)
	v.SetDefault("monitor.interval", "2s")
	v.SetDefault("monitor.auto_open", true)
	v.SetDefault("monitor.disable_alerts", false)
	v.SetDefault("monitor.history_retention", "15m")
	v.SetDefault("monitor.alert_ttl", "5m")
	v.SetDefault("monitor.queue_capacity", 100)
	v.SetDefault("monitor.join_timeout", "3s")
	v.SetDefault("monitor.record_samples", true)

	v.SetDefault("stream.url", "wss://contract.mexc.com/edge")
	v.SetDefault("stream.quote", "USDT")
	v.SetDefault("stream.reconnect_delay", "5s")
	v.SetDefault("stream.ping_interval", "10s")
	v.SetDefault("stream.handshake_timeout", "10s")

	v.SetDefault("resolver.base_url", "https://web3.okx.com/ru")
	v.SetDefault("resolver.timeout", "15s")
	v.SetDefault("resolver.error_pause", "1s")
	v.SetDefault("resolver.poll_interval", "0s")
	v.SetDefault("resolver.default_evm_chain", "bsc")
	v.SetDefault("resolver.min_price", 0.000001)
	v.SetDefault("resolver.max_price", 1000000.0)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.discord.enabled", false)

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "spreadwatch")
	v.SetDefault("redis.ttl", "15m")

	v.SetDefault("files.tokens_file", "tokens.json")
	v.SetDefault("files.blacklist_file", "blacklist.json")
	v.SetDefault("files.backup_dir", "backups")
	v.SetDefault("files.auto_backup", true)
	v.SetDefault("files.backup_schedule", "@every 1h")
	v.SetDefault("files.backup_keep", 24)

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Monitor.SpreadThreshold <= 0 {
		return fmt.Errorf("monitor.spread_threshold must be greater than zero")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be greater than zero")
	}
	if c.Monitor.HistoryRetention <= 0 {
		return fmt.Errorf("monitor.history_retention must be greater than zero")
	}
	if c.Monitor.QueueCapacity <= 0 {
		return fmt.Errorf("monitor.queue_capacity must be greater than zero")
	}
	if c.Stream.URL == "" {
		return fmt.Errorf("stream.url is required")
	}
	if c.Resolver.MinPrice < 0 || (c.Resolver.MaxPrice > 0 && c.Resolver.MaxPrice <= c.Resolver.MinPrice) {
		return fmt.Errorf("resolver.min_price/max_price range is invalid")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Files.TokensFile == "" {
		return fmt.Errorf("files.tokens_file is required")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Alerting.Discord.Enabled {
		if c.Alerting.Discord.BotToken == "" {
			return fmt.Errorf("alerting.discord.bot_token 必须配置")
		}
		if c.Alerting.Discord.ChannelID == "" {
			return fmt.Errorf("alerting.discord.channel_id 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
