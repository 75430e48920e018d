package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"maktabshop/backend/internal/cache"
	"maktabshop/backend/internal/cart"
	"maktabshop/backend/internal/config"
	"maktabshop/backend/internal/httpapi"
	"maktabshop/backend/internal/invoicedoc"
	"maktabshop/backend/internal/logger"
	"maktabshop/backend/internal/metrics"
	"maktabshop/backend/internal/service"
	"maktabshop/backend/internal/store"
	"maktabshop/backend/internal/store/memory"
	pgstore "maktabshop/backend/internal/store/postgres"
	"maktabshop/backend/internal/store/redisdoc"
	"maktabshop/backend/internal/store/sqlite"
	"maktabshop/backend/internal/xid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	zl, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, zl *zap.Logger) error {
	ids, err := xid.NewGenerator(cfg.SnowflakeNode)
	if err != nil {
		return fmt.Errorf("id generator: %w", err)
	}
	xid.SetDefault(ids)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var redisClient *redis.Client
	closers := make([]func() error, 0, 3)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				zl.Warn("close error", zap.Error(err))
			}
		}
	}()

	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		closers = append(closers, redisClient.Close)
	}

	repo, closeRepo, err := openRepository(ctx, cfg, redisClient, zl)
	if err != nil {
		return err
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}
	zl.Info("repository ready", zap.String("backend", repo.Backend()))

	documentCache := cache.DocumentCache(cache.NoopDocumentCache{})
	if redisClient != nil {
		redisCache := cache.NewRedisDocumentCacheFromClient(redisClient)
		if err := redisCache.Ping(ctx); err != nil {
			zl.Warn("redis unavailable, documents will not be cached", zap.Error(err))
		} else {
			documentCache = redisCache
			zl.Info("document cache: redis")
		}
	} else {
		zl.Info("document cache: noop")
	}

	renderer := invoicedoc.NewRenderer(invoicedoc.Shop{
		Name:     cfg.ShopName,
		Tagline:  cfg.ShopTagline,
		Currency: cfg.Currency,
	})
	recorder := metrics.New()
	svc := service.New(repo, renderer, documentCache, recorder, zl, service.Config{
		LowStockThreshold: cfg.LowStockThreshold,
		DocumentTTL:       cfg.DocumentCacheTTL,
		CachePrefix:       cfg.RedisKeyPrefix,
	})
	if err := svc.EnsureDefaultCategories(ctx); err != nil {
		return fmt.Errorf("seed categories: %w", err)
	}

	api := httpapi.New(svc, cart.NewSession(), zl, httpapi.Options{
		AllowedOrigin:      cfg.AllowedOrigin,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Metrics:            recorder.Handler(),
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		zl.Info("POS backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Warn("shutdown error", zap.Error(err))
	}
	zl.Info("server stopped")
	return nil
}

// openRepository builds the configured backend. The returned close func may
// be nil.
func openRepository(ctx context.Context, cfg config.Config, redisClient *redis.Client, zl *zap.Logger) (store.Repository, func() error, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.NewSeeded(), nil, nil

	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath, zl)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite %s: %w", cfg.SQLitePath, err)
		}
		return db, db.Close, nil

	case config.BackendPostgres:
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable: %w", err)
		}
		if cfg.DatabaseMigrate {
			if err := pg.Migrate(); err != nil {
				_ = pg.Close()
				return nil, nil, fmt.Errorf("postgres migrations: %w", err)
			}
		}
		return pg, pg.Close, nil

	case config.BackendRedis:
		if redisClient == nil {
			return nil, nil, errors.New("redis backend needs REDIS_ADDR")
		}
		rs := redisdoc.New(redisClient, redisdoc.Options{
			Prefix:       cfg.RedisKeyPrefix,
			AtomicCommit: cfg.RedisAtomicCommit,
			Logger:       zl,
		})
		if err := rs.Ping(ctx); err != nil {
			return nil, nil, fmt.Errorf("redis unavailable: %w", err)
		}
		// The client is shared with the document cache and closed by run.
		return rs, nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}
