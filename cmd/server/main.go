// Server runs the management API and the daily cleanup scheduler. Delivery
// workers run in the worker binary; both can also be colocated by running
// one of each against the same Postgres and Redis.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/AbdullahHassan176/hookrelay/internal/api"
	"github.com/AbdullahHassan176/hookrelay/internal/cleanup"
	"github.com/AbdullahHassan176/hookrelay/internal/clock"
	"github.com/AbdullahHassan176/hookrelay/internal/config"
	"github.com/AbdullahHassan176/hookrelay/internal/dispatcher"
	"github.com/AbdullahHassan176/hookrelay/internal/migrate"
	"github.com/AbdullahHassan176/hookrelay/internal/observability"
	"github.com/AbdullahHassan176/hookrelay/internal/queue"
	recordpg "github.com/AbdullahHassan176/hookrelay/internal/record/postgres"
	registrypg "github.com/AbdullahHassan176/hookrelay/internal/registry/postgres"
	"github.com/AbdullahHassan176/hookrelay/internal/schedule"
)

type redisChecker struct {
	client *redis.Client
}

func (c redisChecker) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.NewLogger("info", "json").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if err := migrate.Run(ctx, pool); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("invalid redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to ping redis", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to redis")

	metrics := observability.NewMetrics("hookrelay")
	health := observability.NewHealthHandler(map[string]observability.HealthChecker{
		"database": pool,
		"redis":    redisChecker{client: redisClient},
	})

	endpoints := registrypg.NewRegistry(pool)
	records := recordpg.NewStore(pool)
	broker := queue.NewRedisBroker(redisClient, queue.DefaultRedisConfig())

	d := dispatcher.New(
		dispatcher.Config{
			UserAgent:      cfg.UserAgent,
			DefaultTimeout: cfg.RequestTimeout,
		},
		endpoints,
		records,
		broker,
		// No client-level timeout: each attempt is bounded by its endpoint's
		// configured timeout (or the default) via the request context.
		&http.Client{},
		clock.RealClock{},
		logger,
	).WithMetrics(metrics)

	handler := api.NewHandler(d, records, broker, logger)
	router := api.NewRouter(api.RouterConfig{
		Handler:       handler,
		HealthHandler: health,
		Metrics:       metrics,
		Logger:        logger,
	})

	// Daily cleanup trigger; the cleanup queue worker does the sweeping.
	go schedule.DailyAt(ctx, clock.RealClock{}, cfg.CleanupHour, func(ctx context.Context) {
		if err := cleanup.EnqueueSweep(ctx, broker, time.Now()); err != nil {
			logger.Error("failed to enqueue sweep", "error", err)
		}
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	health.SetReady(true)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	health.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
}
