package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/joshdurbin/product-cache/internal/domain"
	"github.com/joshdurbin/product-cache/internal/enrich"
	"github.com/joshdurbin/product-cache/internal/service"
	"github.com/joshdurbin/product-cache/internal/translate"
	"github.com/joshdurbin/product-cache/internal/upstream"
)

// Fast tier backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Environment variables holding secrets and deployment endpoints
const (
	EnvSerpAPIKey     = "SERPAPI_API_KEY"
	EnvTranslateKey   = "TRANSLATE_API_KEY"
	EnvAdminJWTSecret = "ADMIN_JWT_SECRET"
	EnvRedisAddr      = "REDIS_ADDR"
	EnvRedisPassword  = "REDIS_PASSWORD"
	EnvRedisDB        = "REDIS_DB"
	EnvKafkaBrokers   = "KAFKA_BROKERS"
	EnvKafkaTopic     = "KAFKA_TOPIC"
)

// Config holds the application configuration
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Cache       CacheConfig
	Search      service.Config
	Upstream    upstream.Options
	Translation translate.Options
	Enrichment  enrich.Policy
	Refresh     RefreshConfig
	Events      EventsConfig
	Auth        AuthConfig
	Logging     LoggingConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port string

	// RequestTimeout is the budget of a single HTTP request
	RequestTimeout time.Duration
}

// DatabaseConfig holds durable tier configuration
type DatabaseConfig struct {
	Path string
}

// RedisConfig holds fast tier connection settings when the redis backend is selected
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheConfig holds cache-related configuration
type CacheConfig struct {
	Backend         string
	FastTTL         int // seconds
	DurableTTL      int // days
	CleanupInterval time.Duration
	// TrackInterval is how often served-query hits are written to the durable tier
	TrackInterval time.Duration
}

// RefreshConfig holds scheduled refresh configuration
type RefreshConfig struct {
	Enabled    bool
	Interval   time.Duration
	Limit      int
	MaxResults int
}

// EventsConfig holds search event publishing configuration.
// Publishing is disabled when no brokers are set.
type EventsConfig struct {
	Brokers []string
	Topic   string
}

// AuthConfig holds admin token configuration
type AuthConfig struct {
	Secret   string
	TokenTTL time.Duration
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Verbose bool
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			RequestTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "products.db",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Cache: CacheConfig{
			Backend:         BackendMemory,
			FastTTL:         domain.DefaultFastTTL,
			DurableTTL:      domain.DefaultDurableTTL,
			CleanupInterval: 10 * time.Minute,
			TrackInterval:   time.Minute,
		},
		Search:      service.DefaultConfig(),
		Upstream:    upstream.DefaultOptions(),
		Translation: translate.Options{BaseURL: translate.DefaultBaseURL, Timeout: 5 * time.Second},
		Enrichment:  enrich.DefaultPolicy(),
		Refresh: RefreshConfig{
			Interval:   6 * time.Hour,
			Limit:      20,
			MaxResults: domain.DefaultMaxResults,
		},
		Events: EventsConfig{
			Topic: "product-cache.searches",
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
	}
}

// LoadEnv applies .env files and environment variables to cfg. With no files
// given, a .env in the working directory is loaded when present. Variables
// already set in the environment win over file values.
func LoadEnv(cfg *Config, files ...string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}

	if v := os.Getenv(EnvSerpAPIKey); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := os.Getenv(EnvTranslateKey); v != "" {
		cfg.Translation.APIKey = v
	}
	if v := os.Getenv(EnvAdminJWTSecret); v != "" {
		cfg.Auth.Secret = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv(EnvRedisDB); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRedisDB, err)
		}
		cfg.Redis.DB = db
	}
	if v := os.Getenv(EnvKafkaBrokers); v != "" {
		cfg.Events.Brokers = splitList(v)
	}
	if v := os.Getenv(EnvKafkaTopic); v != "" {
		cfg.Events.Topic = v
	}

	return nil
}

// LoadPolicyFile overlays the enrichment policy with the YAML file at path.
// Keys missing from the file keep their current values.
func LoadPolicyFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open policy file: %w", err)
	}
	defer f.Close()

	policy := cfg.Enrichment
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&policy); err != nil {
		return fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}

	cfg.Enrichment = policy
	return nil
}

// Validate validates the configuration values
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got: %v", c.Server.RequestTimeout)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	switch c.Cache.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address cannot be empty with the redis backend")
		}
	default:
		return fmt.Errorf("unknown cache backend: %q", c.Cache.Backend)
	}

	if c.Cache.FastTTL <= 0 {
		return fmt.Errorf("fast tier TTL must be positive, got: %d", c.Cache.FastTTL)
	}

	if c.Cache.DurableTTL <= 0 {
		return fmt.Errorf("durable tier TTL must be positive, got: %d", c.Cache.DurableTTL)
	}

	if c.Search.MinCoverage <= 0 {
		return fmt.Errorf("minimum coverage must be positive, got: %d", c.Search.MinCoverage)
	}

	if c.Search.UpstreamTimeout <= 0 || c.Search.PersistTimeout <= 0 {
		return fmt.Errorf("upstream and persist timeouts must be positive, got: %v and %v",
			c.Search.UpstreamTimeout, c.Search.PersistTimeout)
	}

	// a cold search waits for the upstream fetch and then the write-through
	if budget := c.Search.UpstreamTimeout + c.Search.PersistTimeout; budget >= c.Server.RequestTimeout {
		return fmt.Errorf("upstream plus persist timeout must be shorter than the request timeout (%v), got: %v",
			c.Server.RequestTimeout, budget)
	}

	if c.Upstream.MaxRetries < 0 {
		return fmt.Errorf("upstream retries cannot be negative, got: %d", c.Upstream.MaxRetries)
	}

	if c.Refresh.Enabled && c.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh interval must be positive, got: %v", c.Refresh.Interval)
	}

	if err := c.Enrichment.Validate(); err != nil {
		return fmt.Errorf("invalid enrichment policy: %w", err)
	}

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
