package config

import (
	"os"
	"testing"
	"time"
)

// unsetEnv clears keys for the test; envconfig treats a set but empty
// variable as a value rather than falling back to the default.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}
}

// chdir switches the working directory for the test and restores it on
// cleanup (testing.T.Chdir needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir %s: %v", dir, err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatalf("restore wd %s: %v", wd, err)
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	unsetEnv(t, "STORE_BACKEND", "PORT", "DOCUMENT_CACHE_TTL", "REDIS_ATOMIC_COMMIT",
		"DATABASE_MIGRATE", "CURRENCY", "LOW_STOCK_THRESHOLD", "SNOWFLAKE_NODE", "RATE_LIMIT_PER_MINUTE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != BackendMemory {
		t.Fatalf("expected memory backend, got %q", cfg.Backend)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected :8080, got %q", cfg.Address())
	}
	if cfg.DocumentCacheTTL != 24*time.Hour {
		t.Fatalf("expected 24h document ttl, got %s", cfg.DocumentCacheTTL)
	}
	if !cfg.RedisAtomicCommit || !cfg.DatabaseMigrate {
		t.Fatalf("expected atomic redis commits and migrations on by default")
	}
	if cfg.Currency != "PKR" || cfg.LowStockThreshold != 10 {
		t.Fatalf("unexpected shop defaults: %+v", cfg)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("STORE_BACKEND", " Redis ")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("REDIS_ATOMIC_COMMIT", "false")
	t.Setenv("DOCUMENT_CACHE_TTL", "90m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != BackendRedis {
		t.Fatalf("expected redis backend, got %q", cfg.Backend)
	}
	if cfg.RedisAtomicCommit {
		t.Fatalf("expected atomic commit to be disabled")
	}
	if cfg.DocumentCacheTTL != 90*time.Minute {
		t.Fatalf("expected 90m, got %s", cfg.DocumentCacheTTL)
	}
}

func TestValidateRejectsIncompleteBackends(t *testing.T) {
	base := Config{Backend: BackendMemory, SnowflakeNode: 1, RateLimitPerMinute: 10}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{name: "unknown backend", modify: func(c *Config) { c.Backend = "mongo" }},
		{name: "postgres without url", modify: func(c *Config) { c.Backend = BackendPostgres }},
		{name: "redis without addr", modify: func(c *Config) { c.Backend = BackendRedis }},
		{name: "node out of range", modify: func(c *Config) { c.SnowflakeNode = 1024 }},
		{name: "negative threshold", modify: func(c *Config) { c.LowStockThreshold = -1 }},
		{name: "zero rate limit", modify: func(c *Config) { c.RateLimitPerMinute = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected %s to be rejected", tc.name)
			}
		})
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("expected base config to pass, got %v", err)
	}
}
