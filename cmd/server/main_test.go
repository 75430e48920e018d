package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"maktabshop/backend/internal/config"
)

func TestOpenRepositoryRejectsUnknownBackend(t *testing.T) {
	_, _, err := openRepository(context.Background(), config.Config{Backend: "mongo"}, nil, zaptest.NewLogger(t))
	if err == nil {
		t.Fatalf("expected an unsupported backend to be rejected")
	}
}

func TestOpenRepositoryRedisNeedsClient(t *testing.T) {
	_, _, err := openRepository(context.Background(), config.Config{Backend: config.BackendRedis}, nil, zaptest.NewLogger(t))
	if err == nil {
		t.Fatalf("expected redis backend without a client to fail")
	}
}

func TestOpenRepositoryBackends(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tests := []struct {
		cfg  config.Config
		want string
	}{
		{cfg: config.Config{Backend: config.BackendMemory}, want: "memory"},
		{cfg: config.Config{Backend: config.BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "shop.db")}, want: "sqlite"},
		{cfg: config.Config{Backend: config.BackendRedis, RedisKeyPrefix: "test", RedisAtomicCommit: true}, want: "redis"},
	}
	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			repo, closeRepo, err := openRepository(context.Background(), tc.cfg, client, zaptest.NewLogger(t))
			if err != nil {
				t.Fatalf("open %s: %v", tc.want, err)
			}
			if closeRepo != nil {
				t.Cleanup(func() { _ = closeRepo() })
			}
			if got := repo.Backend(); got != tc.want {
				t.Fatalf("expected backend %q, got %q", tc.want, got)
			}
		})
	}
}
