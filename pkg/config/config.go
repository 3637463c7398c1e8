// Package config loads gallery-fetch configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sternrassler/gallery-fetch/pkg/gallery"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. GALLERY_FETCH_SERVER_BASE_URL.
const EnvPrefix = "GALLERY_FETCH"

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBolt   = "bolt"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Store      StoreConfig      `mapstructure:"store"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Pagination PaginationConfig `mapstructure:"pagination"`
	Previews   PreviewsConfig   `mapstructure:"previews"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// ServerConfig holds the gallery site connection
type ServerConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Backend   string        `mapstructure:"backend"` // "memory", "redis" or "bolt"
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisDB   int           `mapstructure:"redis_db"`
	RedisTTL  time.Duration `mapstructure:"redis_ttl"`
	BoltPath  string        `mapstructure:"bolt_path"`
}

// SchedulerConfig tunes the bounded preview scheduler
type SchedulerConfig struct {
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"` // 0 = none
}

// PaginationConfig tunes list continuation
type PaginationConfig struct {
	MaxGapSkips  int           `mapstructure:"max_gap_skips"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// PreviewsConfig holds preview layout and prefetching
type PreviewsConfig struct {
	Mode          gallery.PreviewMode `mapstructure:"mode"`
	Rows          int                 `mapstructure:"rows"`
	PrefetchLimit int                 `mapstructure:"prefetch_limit"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// MetricsConfig holds the metrics/health listener
type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the listener
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			UserAgent: "gallery-fetch/1.0",
			Timeout:   30 * time.Second,
		},
		Store: StoreConfig{
			Backend:   BackendMemory,
			RedisAddr: "localhost:6379",
			RedisTTL:  7 * 24 * time.Hour,
			BoltPath:  defaultBoltPath(),
		},
		Pagination: PaginationConfig{
			MaxGapSkips: 16,
		},
		Previews: PreviewsConfig{
			Mode:          gallery.PreviewNormal,
			Rows:          4,
			PrefetchLimit: 10,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// defaultBoltPath returns the default database file for the current user
func defaultBoltPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "gallery-fetch", "scopes.db")
}

// defaultConfigPath returns the default config directory for the current user
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "gallery-fetch")
}

// Load reads configuration from path, or from gallery-fetch.yaml in the
// working or user config directory when path is empty, then applies
// environment overrides. A missing file is only an error when path is set.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gallery-fetch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(defaultConfigPath())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides apply to
// values absent from the file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.base_url", d.Server.BaseURL)
	v.SetDefault("server.user_agent", d.Server.UserAgent)
	v.SetDefault("server.timeout", d.Server.Timeout)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.redis_addr", d.Store.RedisAddr)
	v.SetDefault("store.redis_db", d.Store.RedisDB)
	v.SetDefault("store.redis_ttl", d.Store.RedisTTL)
	v.SetDefault("store.bolt_path", d.Store.BoltPath)

	v.SetDefault("scheduler.fetch_timeout", d.Scheduler.FetchTimeout)

	v.SetDefault("pagination.max_gap_skips", d.Pagination.MaxGapSkips)
	v.SetDefault("pagination.fetch_timeout", d.Pagination.FetchTimeout)

	v.SetDefault("previews.mode", string(d.Previews.Mode))
	v.SetDefault("previews.rows", d.Previews.Rows)
	v.SetDefault("previews.prefetch_limit", d.Previews.PrefetchLimit)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.pretty", d.Logging.Pretty)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if c.Server.UserAgent == "" {
		return fmt.Errorf("server.user_agent is required")
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store.redis_addr is required for the redis backend")
		}
	case BackendBolt:
		if c.Store.BoltPath == "" {
			return fmt.Errorf("store.bolt_path is required for the bolt backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}

	if c.Scheduler.FetchTimeout < 0 || c.Pagination.FetchTimeout < 0 {
		return fmt.Errorf("fetch timeouts must be >= 0")
	}
	if c.Pagination.MaxGapSkips < 1 {
		return fmt.Errorf("pagination.max_gap_skips must be >= 1 (got %d)", c.Pagination.MaxGapSkips)
	}
	if c.Previews.PrefetchLimit < 0 {
		return fmt.Errorf("previews.prefetch_limit must be >= 0 (got %d)", c.Previews.PrefetchLimit)
	}
	if err := c.PreviewConfig().Validate(); err != nil {
		return fmt.Errorf("previews: %w", err)
	}
	return nil
}

// PreviewConfig returns the preview layout.
func (c *Config) PreviewConfig() gallery.PreviewConfig {
	return gallery.PreviewConfig{Mode: c.Previews.Mode, Rows: c.Previews.Rows}
}
