// Package config loads and validates indexer configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Cache      CacheConfig      `mapstructure:"cache"`
	Depot      DepotConfig      `mapstructure:"depot"`
	Indexer    IndexerConfig    `mapstructure:"indexer"`
	Categories CategoriesConfig `mapstructure:"categories"`
	DB         DBConfig         `mapstructure:"db"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Ops        OpsConfig        `mapstructure:"ops"`
}

// CacheConfig locates the on-disk asset cache.
type CacheConfig struct {
	Root            string `mapstructure:"root"`
	LocaleCacheSize int    `mapstructure:"locale_cache_size"`
}

// DepotConfig addresses the asset origin.
type DepotConfig struct {
	Host          string            `mapstructure:"host"`
	Port          int               `mapstructure:"port"`
	Hosts         map[string]string `mapstructure:"hosts"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	RatePerSecond float64           `mapstructure:"rate_per_second"`
	Burst         int               `mapstructure:"burst"`
}

// IndexerConfig governs the worker pool and retry behavior.
type IndexerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	QueueDepth      int           `mapstructure:"queue_depth"`
	ResolveRetries  int           `mapstructure:"resolve_retries"`
	ResolveBackoff  time.Duration `mapstructure:"resolve_backoff"`
	DeadlockRetries int           `mapstructure:"deadlock_retries"`
	DeadlockDelay   time.Duration `mapstructure:"deadlock_delay"`
	TranscodeIcons  bool          `mapstructure:"transcode_icons"`
}

// CategoriesConfig points at the category snapshot file. Empty uses the built-in set.
type CategoriesConfig struct {
	File string `mapstructure:"file"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// OpsConfig controls the health and metrics listener. Port 0 disables it.
type OpsConfig struct {
	Port int `mapstructure:"port"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MAPINDEX")
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
	v.SetDefault("cache.root", "data/depot")
	v.SetDefault("cache.locale_cache_size", 512)
	v.SetDefault("depot.host", "depot.classic.blizzard.com")
	v.SetDefault("depot.port", 1119)
	v.SetDefault("depot.timeout", 30*time.Second)
	v.SetDefault("depot.rate_per_second", 20.0)
	v.SetDefault("depot.burst", 5)
	v.SetDefault("indexer.concurrency", 8)
	v.SetDefault("indexer.queue_depth", 0)
	v.SetDefault("indexer.resolve_retries", 3)
	v.SetDefault("indexer.resolve_backoff", 250*time.Millisecond)
	v.SetDefault("indexer.deadlock_retries", 5)
	v.SetDefault("indexer.deadlock_delay", 500*time.Millisecond)
	v.SetDefault("indexer.transcode_icons", false)
	v.SetDefault("categories.file", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 16)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("ops.port", 9090)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Cache.Root) == "" {
		return fmt.Errorf("cache.root is required")
	}
	if c.Depot.Host == "" && len(c.Depot.Hosts) == 0 {
		return fmt.Errorf("depot.host or depot.hosts must be set")
	}
	if c.Depot.Port <= 0 || c.Depot.Port > 65535 {
		return fmt.Errorf("depot.port must be between 1 and 65535")
	}
	if c.Depot.Timeout <= 0 {
		return fmt.Errorf("depot.timeout must be > 0")
	}
	if c.Indexer.Concurrency <= 0 {
		return fmt.Errorf("indexer.concurrency must be > 0")
	}
	if c.Indexer.QueueDepth < 0 {
		return fmt.Errorf("indexer.queue_depth must be >= 0")
	}
	if c.Indexer.ResolveRetries < 0 || c.Indexer.DeadlockRetries < 0 {
		return fmt.Errorf("indexer retry counts must be >= 0")
	}
	if c.Ops.Port < 0 || c.Ops.Port > 65535 {
		return fmt.Errorf("ops.port must be between 0 and 65535")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}
