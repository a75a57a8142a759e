// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Output    OutputConfig    `mapstructure:"output"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
}

// CrawlerConfig governs discovery, listing and the worker pool.
type CrawlerConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	UserAgent        string        `mapstructure:"user_agent"`
	Workers          int           `mapstructure:"workers"`
	ProgressEvery    int           `mapstructure:"progress_every"`
	JoinPollInterval time.Duration `mapstructure:"join_poll_interval"`
	// RequestTimeout of zero keeps the HTTP client default.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// OutputConfig controls where and how artifacts are written.
type OutputConfig struct {
	Dir    string `mapstructure:"dir"`
	Indent string `mapstructure:"indent"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	Enabled    bool                `mapstructure:"enabled"`
	LogEnabled bool                `mapstructure:"log_enabled"`
	BufferSize int                 `mapstructure:"buffer_size"`
	Batch      ProgressBatchConfig `mapstructure:"batch"`
}

// ProgressBatchConfig bounds how events are grouped before reaching sinks.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	ProjectID   string `mapstructure:"project_id"`
}

// StorageConfig configures the optional GCS mirror. An empty bucket disables it.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DatabaseConfig configures the optional Postgres copy. An empty DSN disables it.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds the completion notice target. Both fields are needed to
// enable it.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.base_url", "https://jlptsensei.com")
	v.SetDefault("crawler.user_agent", "jlpt-grammar-crawler/1.0 (+https://github.com/JakeFAU/jlpt-grammar-crawler)")
	v.SetDefault("crawler.workers", 5)
	v.SetDefault("crawler.progress_every", 10)
	v.SetDefault("crawler.join_poll_interval", 300*time.Millisecond)
	v.SetDefault("crawler.request_timeout", time.Duration(0))
	v.SetDefault("output.dir", "./output")
	v.SetDefault("output.indent", "    ")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch.max_events", 100)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "jlpt-grammar-crawler")
	v.SetDefault("storage.prefix", "grammar")
	v.SetDefault("database.table", "grammar_patterns")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Crawler.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("crawler.base_url must be an absolute URL")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.ProgressEvery <= 0 {
		return fmt.Errorf("crawler.progress_every must be > 0")
	}
	if c.Crawler.JoinPollInterval <= 0 {
		return fmt.Errorf("crawler.join_poll_interval must be > 0")
	}
	if c.Crawler.RequestTimeout < 0 {
		return fmt.Errorf("crawler.request_timeout must be >= 0")
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		return fmt.Errorf("output.dir is required")
	}
	if c.Progress.Enabled && c.Progress.BufferSize <= 0 {
		return fmt.Errorf("progress.buffer_size must be > 0 when progress is enabled")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	return nil
}

// ProgressMaxWait converts the batch wait setting into a duration.
func (c Config) ProgressMaxWait() time.Duration {
	return time.Duration(c.Progress.Batch.MaxWaitMs) * time.Millisecond
}
