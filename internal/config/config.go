package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`

	Backend         string `envconfig:"STORE_BACKEND" default:"memory"`
	SQLitePath      string `envconfig:"SQLITE_PATH" default:"maktabshop.db"`
	DatabaseURL     string `envconfig:"DATABASE_URL"`
	DatabaseMigrate bool   `envconfig:"DATABASE_MIGRATE" default:"true"`

	RedisAddr         string `envconfig:"REDIS_ADDR"`
	RedisPassword     string `envconfig:"REDIS_PASSWORD"`
	RedisDB           int    `envconfig:"REDIS_DB" default:"0"`
	RedisKeyPrefix    string `envconfig:"REDIS_KEY_PREFIX" default:"maktab"`
	RedisAtomicCommit bool   `envconfig:"REDIS_ATOMIC_COMMIT" default:"true"`

	DocumentCacheTTL time.Duration `envconfig:"DOCUMENT_CACHE_TTL" default:"24h"`

	ShopName    string `envconfig:"SHOP_NAME" default:"MAKTAB SHOP"`
	ShopTagline string `envconfig:"SHOP_TAGLINE" default:"Stationery & Islamic Books"`
	Currency    string `envconfig:"CURRENCY" default:"PKR"`

	LowStockThreshold int `envconfig:"LOW_STOCK_THRESHOLD" default:"10"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	SnowflakeNode      int64 `envconfig:"SNOWFLAKE_NODE" default:"1"`
	RateLimitPerMinute int   `envconfig:"RATE_LIMIT_PER_MINUTE" default:"240"`
}

// Load reads an optional .env file, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.RedisAddr = strings.TrimSpace(cfg.RedisAddr)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres backend")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required for the redis backend")
		}
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.Backend)
	}
	if c.SnowflakeNode < 0 || c.SnowflakeNode > 1023 {
		return fmt.Errorf("SNOWFLAKE_NODE must be between 0 and 1023, got %d", c.SnowflakeNode)
	}
	if c.LowStockThreshold < 0 {
		return errors.New("LOW_STOCK_THRESHOLD must not be negative")
	}
	if c.RateLimitPerMinute < 1 {
		return errors.New("RATE_LIMIT_PER_MINUTE must be at least 1")
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
