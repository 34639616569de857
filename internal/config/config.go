package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Clicks    ClicksConfig
	Usage     UsageConfig
	NATS      NATSConfig
	Retry     RetryConfig
}

type AppConfig struct {
	Port    string
	BaseURL string
	Env     string
	// TrustedProxies lists proxy IPs/CIDRs allowed to set X-Forwarded-For. Empty trusts none.
	TrustedProxies []string
}

type DBConfig struct {
	Host        string
	Port        string
	User        string
	Password    string
	Name        string
	MaxConns    int32
	MinConns    int32
	AutoMigrate bool
}

// DSN returns the postgres:// connection string shared by pgx and the migrator.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
	)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	PoolSize int
}

type AuthConfig struct {
	APIKeys map[string]string // API key -> user id
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

type CacheConfig struct {
	ProjectionTTL    time.Duration
	OperationTimeout time.Duration
	LocalEnabled     bool
	LocalTTL         time.Duration
	LocalMaxSizeMB   int
	LocalCounters    int64
}

type ClicksConfig struct {
	FlushInterval    time.Duration
	UniqueWindow     time.Duration
	Workers          int
	BufferSize       int
	BatchSize        int
	FlushParallelism int
}

type UsageConfig struct {
	CounterTTL         time.Duration
	SubscriptionMinTTL time.Duration
	SubscriptionMaxTTL time.Duration
	RoleTTL            time.Duration
	QueueDriver        string // memory | nats
	Workers            int
	BufferSize         int
}

type NATSConfig struct {
	URL     string
	Stream  string
	Subject string
	Durable string
}

type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("APP_BASE_URL", "http://localhost:8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("TRUSTED_PROXIES", "")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_NAME", "shortlink")
	v.SetDefault("DB_MAX_CONNS", 25)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 100)

	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)

	v.SetDefault("CACHE_PROJECTION_TTL", "30s")
	v.SetDefault("CACHE_OP_TIMEOUT", "500ms")
	v.SetDefault("CACHE_LOCAL_ENABLED", false)
	v.SetDefault("CACHE_LOCAL_TTL", "5s")
	v.SetDefault("CACHE_LOCAL_MAX_SIZE_MB", 64)
	v.SetDefault("CACHE_LOCAL_COUNTERS", 1_000_000)

	v.SetDefault("CLICKS_FLUSH_INTERVAL", "30s")
	v.SetDefault("CLICKS_UNIQUE_WINDOW", "24h")
	v.SetDefault("CLICKS_WORKERS", 3)
	v.SetDefault("CLICKS_BUFFER_SIZE", 1000)
	v.SetDefault("CLICKS_BATCH_SIZE", 50)
	v.SetDefault("CLICKS_FLUSH_PARALLELISM", 4)

	v.SetDefault("USAGE_COUNTER_TTL", "60s")
	v.SetDefault("USAGE_SUBSCRIPTION_MIN_TTL", "60s")
	v.SetDefault("USAGE_SUBSCRIPTION_MAX_TTL", "1h")
	v.SetDefault("USAGE_ROLE_TTL", "5m")
	v.SetDefault("USAGE_QUEUE_DRIVER", "memory")
	v.SetDefault("USAGE_WORKERS", 2)
	v.SetDefault("USAGE_BUFFER_SIZE", 500)

	v.SetDefault("NATS_URL", "nats://localhost:4222")
	v.SetDefault("NATS_STREAM", "BILLING")
	v.SetDefault("NATS_SUBJECT", "billing.usage")
	v.SetDefault("NATS_DURABLE", "usage-sync")

	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_INITIAL_INTERVAL", "50ms")
	v.SetDefault("RETRY_MAX_INTERVAL", "1s")
}

// Load reads .env when present and lets the process environment override it.
func Load() (*Config, error) {
	return LoadFile(".env")
}

func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var pathErr *fs.PathError
			if !errors.As(err, &pathErr) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	cfg.App.Port = v.GetString("APP_PORT")
	cfg.App.BaseURL = strings.TrimRight(v.GetString("APP_BASE_URL"), "/")
	cfg.App.Env = v.GetString("APP_ENV")
	cfg.App.TrustedProxies = parseList(v.GetString("TRUSTED_PROXIES"))

	cfg.DB.Host = v.GetString("DB_HOST")
	cfg.DB.Port = v.GetString("DB_PORT")
	cfg.DB.User = v.GetString("DB_USER")
	cfg.DB.Password = v.GetString("DB_PASSWORD")
	cfg.DB.Name = v.GetString("DB_NAME")
	cfg.DB.MaxConns = v.GetInt32("DB_MAX_CONNS")
	cfg.DB.MinConns = v.GetInt32("DB_MIN_CONNS")
	cfg.DB.AutoMigrate = v.GetBool("DB_AUTO_MIGRATE")

	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetString("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")

	// Format: key1:user1,key2:user2
	cfg.Auth.APIKeys = parseAPIKeys(v.GetString("API_KEYS"))

	cfg.RateLimit.RequestsPerSecond = v.GetFloat64("RATE_LIMIT_RPS")
	cfg.RateLimit.BurstSize = v.GetInt("RATE_LIMIT_BURST")

	cfg.Cache.ProjectionTTL = v.GetDuration("CACHE_PROJECTION_TTL")
	cfg.Cache.OperationTimeout = v.GetDuration("CACHE_OP_TIMEOUT")
	cfg.Cache.LocalEnabled = v.GetBool("CACHE_LOCAL_ENABLED")
	cfg.Cache.LocalTTL = v.GetDuration("CACHE_LOCAL_TTL")
	cfg.Cache.LocalMaxSizeMB = v.GetInt("CACHE_LOCAL_MAX_SIZE_MB")
	cfg.Cache.LocalCounters = v.GetInt64("CACHE_LOCAL_COUNTERS")

	cfg.Clicks.FlushInterval = v.GetDuration("CLICKS_FLUSH_INTERVAL")
	cfg.Clicks.UniqueWindow = v.GetDuration("CLICKS_UNIQUE_WINDOW")
	cfg.Clicks.Workers = v.GetInt("CLICKS_WORKERS")
	cfg.Clicks.BufferSize = v.GetInt("CLICKS_BUFFER_SIZE")
	cfg.Clicks.BatchSize = v.GetInt("CLICKS_BATCH_SIZE")
	cfg.Clicks.FlushParallelism = v.GetInt("CLICKS_FLUSH_PARALLELISM")

	cfg.Usage.CounterTTL = v.GetDuration("USAGE_COUNTER_TTL")
	cfg.Usage.SubscriptionMinTTL = v.GetDuration("USAGE_SUBSCRIPTION_MIN_TTL")
	cfg.Usage.SubscriptionMaxTTL = v.GetDuration("USAGE_SUBSCRIPTION_MAX_TTL")
	cfg.Usage.RoleTTL = v.GetDuration("USAGE_ROLE_TTL")
	cfg.Usage.QueueDriver = strings.ToLower(v.GetString("USAGE_QUEUE_DRIVER"))
	cfg.Usage.Workers = v.GetInt("USAGE_WORKERS")
	cfg.Usage.BufferSize = v.GetInt("USAGE_BUFFER_SIZE")

	cfg.NATS.URL = v.GetString("NATS_URL")
	cfg.NATS.Stream = v.GetString("NATS_STREAM")
	cfg.NATS.Subject = v.GetString("NATS_SUBJECT")
	cfg.NATS.Durable = v.GetString("NATS_DURABLE")

	cfg.Retry.MaxAttempts = v.GetInt("RETRY_MAX_ATTEMPTS")
	cfg.Retry.InitialInterval = v.GetDuration("RETRY_INITIAL_INTERVAL")
	cfg.Retry.MaxInterval = v.GetDuration("RETRY_MAX_INTERVAL")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Usage.QueueDriver {
	case "memory", "nats":
	default:
		return fmt.Errorf("unknown USAGE_QUEUE_DRIVER %q", c.Usage.QueueDriver)
	}
	for _, proxy := range c.App.TrustedProxies {
		if net.ParseIP(proxy) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(proxy); err != nil {
			return fmt.Errorf("invalid TRUSTED_PROXIES entry %q", proxy)
		}
	}
	if c.Cache.ProjectionTTL <= 0 {
		return errors.New("CACHE_PROJECTION_TTL must be positive")
	}
	if c.Clicks.FlushInterval <= 0 {
		return errors.New("CLICKS_FLUSH_INTERVAL must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		c.Retry.MaxAttempts = 1
	}
	return nil
}

// parseAPIKeys parses comma-separated API keys in format "key1:user1,key2:user2"
func parseAPIKeys(raw string) map[string]string {
	keys := make(map[string]string)
	if raw == "" {
		return keys
	}

	pairs := strings.Split(raw, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) == 2 {
			keys[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}

	return keys
}

// parseList splits a comma-separated value, dropping blanks.
func parseList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
