// Package config handles loading and validation of the telemetry service
// configuration and the alert rule document.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/cache"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Config is the service configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Cache   CacheConfig   `yaml:"cache"`
	Stream  StreamConfig  `yaml:"stream"`
	Indexer IndexerConfig `yaml:"indexer"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// StoreConfig locates the index database.
type StoreConfig struct {
	Path string `yaml:"path"`
	// Profile enables query plan sampling with ProfileSize retained samples.
	Profile     bool `yaml:"profile"`
	ProfileSize int  `yaml:"profile_size"`
}

// CacheConfig selects the query result cache.
type CacheConfig struct {
	Backend    string            `yaml:"backend"`
	MaxEntries int               `yaml:"max_entries"`
	TTL        time.Duration     `yaml:"ttl"`
	Redis      cache.RedisConfig `yaml:"redis"`
}

// StreamConfig controls live tailing.
type StreamConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Pattern   string        `yaml:"pattern"`
	SeekToEnd bool          `yaml:"seek_to_end"`
}

// IndexerConfig controls historical crawls.
type IndexerConfig struct {
	Workers   int `yaml:"workers"`
	ChunkSize int `yaml:"chunk_size"`
}

// AlertsConfig points at the rule document.
type AlertsConfig struct {
	RulesPath string `yaml:"rules_path"`
}

// MetricsConfig configures the OTLP exporter. An empty endpoint disables it.
type MetricsConfig struct {
	OTLPEndpoint string        `yaml:"otlp_endpoint"`
	Interval     time.Duration `yaml:"interval"`
}

// Defaults applied by Load.
const (
	DefaultStreamInterval  = 500 * time.Millisecond
	DefaultStreamPattern   = "telemetry_*.json"
	DefaultWorkers         = 2
	DefaultProfileSize     = 100
	DefaultMetricsInterval = 30 * time.Second
)

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = CacheMemory
	}
	if cfg.Cache.MaxEntries <= 0 {
		cfg.Cache.MaxEntries = cache.DefaultMaxEntries
	}
	if cfg.Cache.Redis.TTL <= 0 {
		cfg.Cache.Redis.TTL = cfg.Cache.TTL
	}
	if cfg.Stream.Interval <= 0 {
		cfg.Stream.Interval = DefaultStreamInterval
	}
	if cfg.Stream.Pattern == "" {
		cfg.Stream.Pattern = DefaultStreamPattern
	}
	if cfg.Indexer.Workers <= 0 {
		cfg.Indexer.Workers = DefaultWorkers
	}
	if cfg.Store.Profile && cfg.Store.ProfileSize <= 0 {
		cfg.Store.ProfileSize = DefaultProfileSize
	}
	if cfg.Metrics.Interval <= 0 {
		cfg.Metrics.Interval = DefaultMetricsInterval
	}
}

func validate(cfg *Config) error {
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	switch cfg.Cache.Backend {
	case CacheMemory, CacheNone:
	case CacheRedis:
		if cfg.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required when cache.backend is redis")
		}
	default:
		return fmt.Errorf("unknown cache.backend %q", cfg.Cache.Backend)
	}
	if cfg.Indexer.ChunkSize < 0 {
		return fmt.Errorf("indexer.chunk_size must not be negative")
	}
	return nil
}
