package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Store     StoreConfig
	Resolver  ResolverConfig
	Tree      TreeConfig
	Sandbox   SandboxConfig
	Seed      SeedConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver       string `envconfig:"STORE_DRIVER" default:"memory"`
	DSN          string `envconfig:"DATABASE_DSN"`
	MaxOpenConns int    `envconfig:"DATABASE_MAX_CONNS" default:"20"`
	AutoMigrate  bool   `envconfig:"DATABASE_MIGRATE" default:"true"`
}

// ResolverConfig configures remote entity resolvers.
type ResolverConfig struct {
	Endpoints         Endpoints     `envconfig:"RESOLVER_ENDPOINTS"`
	Timeout           time.Duration `envconfig:"RESOLVER_TIMEOUT" default:"5s"`
	Retries           int           `envconfig:"RESOLVER_RETRIES" default:"2"`
	RequestsPerSecond float64       `envconfig:"RESOLVER_RPS" default:"50"`
}

// Endpoints maps entity type to resolver base URL. The env form is a comma
// separated list of TYPE=URL pairs; TYPE:URL is accepted too, split on the
// first colon.
type Endpoints map[string]string

// Decode implements envconfig.Decoder
func (e *Endpoints) Decode(value string) error {
	out := make(Endpoints)
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		sep := strings.IndexByte(pair, '=')
		if sep < 0 {
			sep = strings.IndexByte(pair, ':')
		}
		if sep <= 0 || sep == len(pair)-1 {
			return fmt.Errorf("invalid resolver endpoint %q (want TYPE=URL)", pair)
		}
		entityType := strings.TrimSpace(pair[:sep])
		raw := strings.TrimSpace(pair[sep+1:])
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid resolver URL for %s: %q", entityType, raw)
		}
		out[entityType] = raw
	}
	*e = out
	return nil
}

// TreeConfig bounds tree expansion.
type TreeConfig struct {
	DefaultMaxDepth int `envconfig:"TREE_MAX_DEPTH" default:"3"`
	MaxDepthLimit   int `envconfig:"TREE_MAX_DEPTH_LIMIT" default:"10"`
}

// SandboxConfig configures the expression runtimes used for visibility rules.
type SandboxConfig struct {
	PoolSize int           `envconfig:"SANDBOX_POOL_SIZE" default:"4"`
	Timeout  time.Duration `envconfig:"SANDBOX_TIMEOUT" default:"100ms"`
}

// SeedConfig points at system block type definitions on disk.
type SeedConfig struct {
	Dir     string `envconfig:"BLOCK_TYPES_DIR"`
	Pattern string `envconfig:"BLOCK_TYPES_PATTERN" default:"**/*.{yaml,yml,toml,json}"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("DATABASE_DSN is required when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (want memory or postgres)", c.Store.Driver)
	}
	if c.Tree.DefaultMaxDepth < 0 || c.Tree.DefaultMaxDepth > c.Tree.MaxDepthLimit {
		return fmt.Errorf("TREE_MAX_DEPTH must be between 0 and %d", c.Tree.MaxDepthLimit)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Store: StoreConfig{
			Driver:       "memory",
			MaxOpenConns: 20,
			AutoMigrate:  true,
		},
		Resolver: ResolverConfig{
			Endpoints:         Endpoints{},
			Timeout:           5 * time.Second,
			Retries:           2,
			RequestsPerSecond: 50,
		},
		Tree: TreeConfig{
			DefaultMaxDepth: 3,
			MaxDepthLimit:   10,
		},
		Sandbox: SandboxConfig{
			PoolSize: 4,
			Timeout:  100 * time.Millisecond,
		},
		Seed: SeedConfig{
			Pattern: "**/*.{yaml,yml,toml,json}",
		},
	}
}
