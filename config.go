package prefetchproxy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/always-cache/prefetch-proxy/cache"
	"github.com/always-cache/prefetch-proxy/prefetch"
)

const (
	ProviderDisk   = "disk"
	ProviderSQLite = "sqlite"
	ProviderMemory = "memory"
)

const DefaultBufferSize = 8192

type Config struct {
	// Directory of the disk provider.
	CacheDir string `yaml:"cacheDir" toml:"cacheDir"`
	// One of disk, sqlite or memory.
	Provider string `yaml:"provider" toml:"provider"`
	// Database file of the sqlite provider; empty means in-memory.
	DBFilename string `yaml:"db" toml:"db"`
	// Bytes read from a client per request, and per read from an origin.
	BufferSize int `yaml:"bufferSize" toml:"bufferSize"`
	// Connections handled at once; 0 means no limit.
	MaxConnections int64 `yaml:"maxConnections" toml:"maxConnections"`
	// Bound on client-facing origin fetches; 0 means none.
	OriginTimeout time.Duration `yaml:"originTimeout" toml:"originTimeout"`
	Prefetch      PrefetchConfig `yaml:"prefetch" toml:"prefetch"`
	// Address of the admin endpoint; empty disables it.
	MetricsAddr string `yaml:"metricsAddr" toml:"metricsAddr"`

	// Storage for cache entries. Built from the fields above if nil.
	Cache cache.CacheProvider `yaml:"-" toml:"-"`
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger `yaml:"-" toml:"-"`
}

type PrefetchConfig struct {
	Enabled   bool          `yaml:"enabled" toml:"enabled"`
	Workers   int           `yaml:"workers" toml:"workers"`
	QueueSize int           `yaml:"queueSize" toml:"queueSize"`
	Timeout   time.Duration `yaml:"timeout" toml:"timeout"`
	// URLs prefetched within RecentTTL are not fetched again.
	RecentSize int           `yaml:"recentSize" toml:"recentSize"`
	RecentTTL  time.Duration `yaml:"recentTTL" toml:"recentTTL"`
	// Per-host limit such as "20-S"; empty means none.
	HostRate string `yaml:"hostRate" toml:"hostRate"`
}

func DefaultConfig() Config {
	return Config{
		CacheDir:   cache.DefaultDir,
		Provider:   ProviderDisk,
		BufferSize: DefaultBufferSize,
		Prefetch: PrefetchConfig{
			Enabled:    true,
			Workers:    prefetch.DefaultWorkers,
			QueueSize:  prefetch.DefaultQueueSize,
			Timeout:    prefetch.DefaultTimeout,
			RecentSize: 1024,
			RecentTTL:  30 * time.Second,
		},
	}
}

// LoadConfig reads a YAML or TOML file over the defaults.
// The format is picked by file extension.
func LoadConfig(filename string) (Config, error) {
	config := DefaultConfig()
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(configBytes, &config)
	case ".toml":
		err = toml.Unmarshal(configBytes, &config)
	default:
		err = fmt.Errorf("unsupported config format %q", filepath.Ext(filename))
	}
	if err != nil {
		return config, err
	}
	return config, config.Validate()
}

func (c Config) Validate() error {
	switch c.Provider {
	case ProviderDisk, ProviderSQLite, ProviderMemory:
	default:
		return fmt.Errorf("unsupported cache provider: %s", c.Provider)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive, got %d", c.BufferSize)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max connections must not be negative, got %d", c.MaxConnections)
	}
	if c.Prefetch.Enabled && (c.Prefetch.Workers <= 0 || c.Prefetch.QueueSize <= 0) {
		return fmt.Errorf("prefetch needs workers and a queue, got %d and %d", c.Prefetch.Workers, c.Prefetch.QueueSize)
	}
	return nil
}

// OpenCache builds the configured cache provider.
func (c Config) OpenCache() (cache.CacheProvider, error) {
	switch c.Provider {
	case ProviderDisk, "":
		return cache.NewDiskCache(c.CacheDir), nil
	case ProviderSQLite:
		return cache.NewSQLiteCache(c.DBFilename)
	case ProviderMemory:
		return cache.NewMemCache(), nil
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", c.Provider)
	}
}
