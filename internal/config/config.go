// Package config loads and validates application configuration from a
// YAML file with environment-variable overrides.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Kraken   KrakenConfig   `mapstructure:"kraken"`
	Trigger  TriggerConfig  `mapstructure:"trigger"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// KrakenConfig holds exchange API configuration. API credentials are never
// read from the config file; they come from KRAKEN_API_KEY and
// KRAKEN_API_SECRET in the environment (or a .env file).
type KrakenConfig struct {
	APIURL              string        `mapstructure:"api_url"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
}

// TriggerConfig holds polling and order-creation behavior.
type TriggerConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	DryRun           bool          `mapstructure:"dry_run"`
	DebugMode        bool          `mapstructure:"debug_mode"`
	OHLCIntervalMins int           `mapstructure:"ohlc_interval_minutes"`
	PairRefresh      time.Duration `mapstructure:"pair_refresh"`
}

// TelegramConfig holds notification configuration. Recipients is the set
// of chat ids that receive state-transition notices and the recovery
// broadcast.
type TelegramConfig struct {
	BotToken   string   `mapstructure:"bot_token"`
	Recipients []string `mapstructure:"recipients"`
	Enabled    bool     `mapstructure:"enabled"`
	NotifyExit bool     `mapstructure:"notify_exit"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// MetricsConfig holds the optional prometheus listener configuration.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("TTSLO")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("kraken.api_url", "https://api.kraken.com")
	v.SetDefault("kraken.timeout", "30s")
	v.SetDefault("kraken.max_retries", 3)
	v.SetDefault("kraken.max_idle_conns", 10)
	v.SetDefault("kraken.max_idle_conns_per_host", 10)
	v.SetDefault("kraken.idle_conn_timeout", "90s")

	v.SetDefault("trigger.poll_interval", "1m")
	v.SetDefault("trigger.dry_run", false)
	v.SetDefault("trigger.debug_mode", false)
	v.SetDefault("trigger.ohlc_interval_minutes", 1440)
	v.SetDefault("trigger.pair_refresh", "1h")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.notify_exit", true)

	v.SetDefault("storage.db_path", "./data/ttslo.db")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9109")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are usable.
func (c *Config) Validate() error {
	if c.Kraken.APIURL == "" {
		return fmt.Errorf("kraken.api_url is required")
	}
	if c.Kraken.Timeout < time.Second {
		return fmt.Errorf("kraken.timeout must be at least 1 second")
	}
	if c.Kraken.MaxRetries < 1 {
		return fmt.Errorf("kraken.max_retries must be at least 1")
	}

	if c.Trigger.PollInterval < 5*time.Second {
		return fmt.Errorf("trigger.poll_interval must be at least 5 seconds")
	}
	if c.Trigger.OHLCIntervalMins < 1 {
		return fmt.Errorf("trigger.ohlc_interval_minutes must be at least 1")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if len(c.Telegram.Recipients) == 0 {
			return fmt.Errorf("telegram.recipients must contain at least one chat id when telegram is enabled")
		}
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	return nil
}
