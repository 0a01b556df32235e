// Package config defines the typed application configuration, loaded
// from an optional file with environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	TLE      TLEConfig      `mapstructure:"tle"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	ML       MLConfig       `mapstructure:"ml"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	HTTPAddr   string `mapstructure:"http_addr"`
	TrustProxy bool   `mapstructure:"trust_proxy"`
}

// TLEConfig holds element-set retrieval and caching configuration.
type TLEConfig struct {
	SourceBaseURL string        `mapstructure:"source_base_url"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	FetchRetries  int           `mapstructure:"fetch_retries"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
}

// AnalysisConfig holds risk assessment behavior configuration.
type AnalysisConfig struct {
	Workers              int           `mapstructure:"workers"`
	ObjectTimeout        time.Duration `mapstructure:"object_timeout"`
	RiskThresholdHigh    float64       `mapstructure:"risk_threshold_high"`
	RiskThresholdMedium  float64       `mapstructure:"risk_threshold_medium"`
	DefaultForecastDays  int           `mapstructure:"default_forecast_days"`
	BatchConcurrentFetch int           `mapstructure:"batch_concurrent_fetch"`
}

// MLConfig holds ensemble training configuration.
type MLConfig struct {
	TrainingSamples int   `mapstructure:"training_samples"`
	TrainOnStart    bool  `mapstructure:"train_on_start"`
	Seed            int64 `mapstructure:"seed"`
}

// ArchiveConfig holds assessment history configuration.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TelegramConfig holds operator alert configuration.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// AuthConfig holds API authentication configuration.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional file, applying DEBRISK_*
// environment overrides on top of the defaults. An empty path skips the
// file entirely.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("DEBRISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.trust_proxy", false)

	v.SetDefault("tle.source_base_url", "https://celestrak.org/NORAD/elements/")
	v.SetDefault("tle.fetch_timeout", "30s")
	v.SetDefault("tle.fetch_retries", 3)
	v.SetDefault("tle.cache_ttl", "1h")
	v.SetDefault("tle.redis_addr", "")

	v.SetDefault("analysis.workers", 8)
	v.SetDefault("analysis.object_timeout", "120s")
	v.SetDefault("analysis.risk_threshold_high", 0.7)
	v.SetDefault("analysis.risk_threshold_medium", 0.4)
	v.SetDefault("analysis.default_forecast_days", 30)
	v.SetDefault("analysis.batch_concurrent_fetch", 5)

	v.SetDefault("ml.training_samples", 5000)
	v.SetDefault("ml.train_on_start", true)
	v.SetDefault("ml.seed", 42)

	v.SetDefault("archive.enabled", true)
	v.SetDefault("archive.path", "")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.token", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are usable.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.TLE.SourceBaseURL == "" {
		return fmt.Errorf("tle.source_base_url is required")
	}
	if c.TLE.FetchTimeout <= 0 {
		return fmt.Errorf("tle.fetch_timeout must be positive")
	}
	if c.TLE.FetchRetries < 1 {
		return fmt.Errorf("tle.fetch_retries must be at least 1")
	}
	if c.TLE.CacheTTL <= 0 {
		return fmt.Errorf("tle.cache_ttl must be positive")
	}

	if c.Analysis.Workers < 1 {
		return fmt.Errorf("analysis.workers must be at least 1")
	}
	if c.Analysis.ObjectTimeout <= 0 {
		return fmt.Errorf("analysis.object_timeout must be positive")
	}
	if c.Analysis.RiskThresholdMedium <= 0 || c.Analysis.RiskThresholdMedium >= 1 {
		return fmt.Errorf("analysis.risk_threshold_medium must be between 0 and 1")
	}
	if c.Analysis.RiskThresholdHigh <= 0 || c.Analysis.RiskThresholdHigh > 1 {
		return fmt.Errorf("analysis.risk_threshold_high must be between 0 and 1")
	}
	if c.Analysis.RiskThresholdHigh <= c.Analysis.RiskThresholdMedium {
		return fmt.Errorf("analysis.risk_threshold_high must exceed analysis.risk_threshold_medium")
	}
	if c.Analysis.DefaultForecastDays < 1 || c.Analysis.DefaultForecastDays > 365 {
		return fmt.Errorf("analysis.default_forecast_days must be between 1 and 365")
	}
	if c.Analysis.BatchConcurrentFetch < 1 {
		return fmt.Errorf("analysis.batch_concurrent_fetch must be at least 1")
	}

	if c.ML.TrainingSamples < 100 {
		return fmt.Errorf("ml.training_samples must be at least 100")
	}

	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id is required when telegram.bot_token is set")
	}

	if c.Auth.Enabled && c.Auth.Token == "" {
		return fmt.Errorf("auth.token is required when auth is enabled")
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

// SlogLevel maps the configured level name onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
