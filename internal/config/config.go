// Package config provides configuration management for the alert engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"

	apperrors "price-alerts/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Engine        EngineConfig       `mapstructure:"engine"`
	Store         StoreConfig        `mapstructure:"store"`
	Pricing       PricingConfig      `mapstructure:"pricing"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Health        HealthConfig       `mapstructure:"health"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// EngineConfig holds scheduler configuration.
type EngineConfig struct {
	Interval             time.Duration `mapstructure:"interval"`
	FetchTimeout         time.Duration `mapstructure:"fetch_timeout"`
	DeliveryTimeout      time.Duration `mapstructure:"delivery_timeout"`
	MaxConcurrentFetches int           `mapstructure:"max_concurrent_fetches"`
	EqualityTolerance    float64       `mapstructure:"equality_tolerance"`     // relative
	EqualityAbsTolerance float64       `mapstructure:"equality_abs_tolerance"` // absolute floor
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Backend string      `mapstructure:"backend"` // json, sqlite, redis
	Path    string      `mapstructure:"path"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds the redis backend connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// PricingConfig holds price source configuration.
type PricingConfig struct {
	Provider  string          `mapstructure:"provider"` // coingecko, binance
	CoinGecko CoinGeckoConfig `mapstructure:"coingecko"`
	Binance   BinanceConfig   `mapstructure:"binance"`
}

// CoinGeckoConfig holds CoinGecko client settings.
type CoinGeckoConfig struct {
	BaseURL           string            `mapstructure:"base_url"`
	APIKey            string            `mapstructure:"api_key"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	CacheTTL          time.Duration     `mapstructure:"cache_ttl"`
	RequestsPerMinute int               `mapstructure:"requests_per_minute"`
	MaxRetries        int               `mapstructure:"max_retries"`
	IDs               map[string]string `mapstructure:"ids"` // symbol -> coin id
}

// BinanceConfig holds Binance client settings.
type BinanceConfig struct {
	APIKey       string            `mapstructure:"api_key"`
	APISecret    string            `mapstructure:"api_secret"`
	QuoteAliases map[string]string `mapstructure:"quote_aliases"` // e.g. usd -> USDT
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Log      bool           `mapstructure:"log"`
	Terminal TerminalConfig `mapstructure:"terminal"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Email    EmailConfig    `mapstructure:"email"`
	NATS     NATSConfig     `mapstructure:"nats"`
}

// TerminalConfig controls the console channel used when running in the foreground.
type TerminalConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Bell    bool `mapstructure:"bell"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
}

// EmailConfig holds email notification configuration.
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	Domain   string `mapstructure:"domain"` // owner ids without '@' are addressed as owner@domain
}

// NATSConfig holds NATS notification configuration.
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// HealthConfig controls the optional health endpoint served by "alertd run".
type HealthConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Listen        string        `mapstructure:"listen"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/price-alerts"
	}
	return filepath.Join(home, ".config", "price-alerts")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir, name string, target *Config) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// First run: write a template and continue with defaults.
		if err := createTemplateConfig(configDir, name); err != nil {
			return err
		}
	}

	return v.Unmarshal(target)
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("engine.interval", 60*time.Second)
	v.SetDefault("engine.fetch_timeout", 10*time.Second)
	v.SetDefault("engine.delivery_timeout", 15*time.Second)
	v.SetDefault("engine.max_concurrent_fetches", 8)
	v.SetDefault("engine.equality_tolerance", 1e-4)
	v.SetDefault("engine.equality_abs_tolerance", 1e-9)

	v.SetDefault("store.backend", "json")
	v.SetDefault("store.path", filepath.Join(configDir, "data", "alerts.json"))
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.key", "price-alerts:alerts")

	v.SetDefault("pricing.provider", "coingecko")
	v.SetDefault("pricing.coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("pricing.coingecko.timeout", 15*time.Second)
	v.SetDefault("pricing.coingecko.cache_ttl", 30*time.Second)
	v.SetDefault("pricing.coingecko.requests_per_minute", 30)
	v.SetDefault("pricing.coingecko.max_retries", 2)
	v.SetDefault("pricing.binance.quote_aliases", map[string]string{"usd": "USDT"})

	v.SetDefault("notifications.log", true)
	v.SetDefault("notifications.terminal.enabled", false)
	v.SetDefault("notifications.terminal.bell", true)
	v.SetDefault("notifications.email.smtp_port", 587)
	v.SetDefault("notifications.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("notifications.nats.subject_prefix", "alerts.fired")

	v.SetDefault("health.enabled", false)
	v.SetDefault("health.listen", "127.0.0.1:8089")
	v.SetDefault("health.check_interval", 30*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "alertd.log"))
	v.SetDefault("logging.max_size", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ALERTS_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("ALERTS_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("ALERTS_REDIS_ADDR"); v != "" {
		cfg.Store.Redis.Addr = v
	}
	if v := os.Getenv("ALERTS_PRICE_PROVIDER"); v != "" {
		cfg.Pricing.Provider = v
	}
	if v := os.Getenv("ALERTS_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.Interval = d
		}
	}
	if v := os.Getenv("ALERTS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		cfg.Pricing.CoinGecko.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.Pricing.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		cfg.Pricing.Binance.APISecret = v
	}

	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifications.Telegram.BotToken = v
		cfg.Notifications.Telegram.Enabled = true
	}
	if v := os.Getenv("ALERTS_WEBHOOK_URL"); v != "" {
		cfg.Notifications.Webhook.URL = v
		cfg.Notifications.Webhook.Enabled = true
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.Notifications.NATS.URL = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Notifications.Email.SMTPPort = port
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConfigInvalid, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Engine.Interval <= 0 {
		return fmt.Errorf("engine.interval must be positive")
	}
	if c.Engine.FetchTimeout <= 0 {
		return fmt.Errorf("engine.fetch_timeout must be positive")
	}
	if c.Engine.MaxConcurrentFetches < 1 {
		return fmt.Errorf("engine.max_concurrent_fetches must be at least 1")
	}
	if c.Engine.EqualityTolerance < 0 || c.Engine.EqualityAbsTolerance < 0 {
		return fmt.Errorf("equality tolerances must be non-negative")
	}

	switch c.Store.Backend {
	case "json", "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s backend", c.Store.Backend)
		}
	case "redis":
		if c.Store.Redis.Addr == "" || c.Store.Redis.Key == "" {
			return fmt.Errorf("store.redis.addr and store.redis.key are required")
		}
	default:
		return fmt.Errorf("invalid store backend: %s (must be 'json', 'sqlite' or 'redis')", c.Store.Backend)
	}

	switch c.Pricing.Provider {
	case "coingecko", "binance":
	default:
		return fmt.Errorf("invalid price provider: %s (must be 'coingecko' or 'binance')", c.Pricing.Provider)
	}

	if c.Notifications.Webhook.Enabled && c.Notifications.Webhook.URL == "" {
		return fmt.Errorf("notifications.webhook.url is required when the webhook is enabled")
	}
	if c.Notifications.Telegram.Enabled && c.Notifications.Telegram.BotToken == "" {
		return fmt.Errorf("notifications.telegram.bot_token is required when telegram is enabled")
	}
	if c.Health.Enabled && c.Health.Listen == "" {
		return fmt.Errorf("health.listen is required when the health endpoint is enabled")
	}

	return nil
}

// Redacted returns a copy with credentials masked, for display.
func (c *Config) Redacted() Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	out.Store.Redis.Password = mask(out.Store.Redis.Password)
	out.Pricing.CoinGecko.APIKey = mask(out.Pricing.CoinGecko.APIKey)
	out.Pricing.Binance.APIKey = mask(out.Pricing.Binance.APIKey)
	out.Pricing.Binance.APISecret = mask(out.Pricing.Binance.APISecret)
	out.Notifications.Telegram.BotToken = mask(out.Notifications.Telegram.BotToken)
	out.Notifications.Email.Password = mask(out.Notifications.Email.Password)
	return out
}
