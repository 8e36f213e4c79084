// Worker runs the delivery engine's queue consumers: delivery and retry
// workers, the cleanup sweeper, and the optional Kafka ingest bridge.
// Multiple worker instances can run against the same Redis; job claims are
// atomic, so they never execute the same job concurrently.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/AbdullahHassan176/hookrelay/internal/cleanup"
	"github.com/AbdullahHassan176/hookrelay/internal/clock"
	"github.com/AbdullahHassan176/hookrelay/internal/config"
	"github.com/AbdullahHassan176/hookrelay/internal/dispatcher"
	"github.com/AbdullahHassan176/hookrelay/internal/ingest"
	"github.com/AbdullahHassan176/hookrelay/internal/observability"
	"github.com/AbdullahHassan176/hookrelay/internal/queue"
	recordpg "github.com/AbdullahHassan176/hookrelay/internal/record/postgres"
	registrypg "github.com/AbdullahHassan176/hookrelay/internal/registry/postgres"
	"github.com/AbdullahHassan176/hookrelay/internal/resilience"
)

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

	metrics := observability.NewMetrics("hookrelay_worker")

	endpoints := registrypg.NewRegistry(pool)
	records := recordpg.NewStore(pool)
	broker := queue.NewRedisBroker(redisClient, queue.DefaultRedisConfig())

	limiters := resilience.NewLimiterSet(resilience.LimiterConfig{
		RequestsPerSecond: cfg.RatePerSecond,
		Burst:             cfg.RateBurst,
	})
	breakers := resilience.NewBreakerSet(resilience.DefaultBreakerConfig())

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
	).WithMetrics(metrics).WithResilience(limiters, breakers)

	sweeper := cleanup.NewSweeper(
		cleanup.Config{
			Retention:  cfg.Retention(),
			StaleAfter: cfg.StaleAfter(),
		},
		records,
		clock.RealClock{},
		logger,
	).WithMetrics(metrics)

	deliveryCfg := queue.DefaultWorkerConfig(queue.QueueDelivery)
	deliveryCfg.Concurrency = cfg.DeliveryConcurrency
	retryCfg := queue.DefaultWorkerConfig(queue.QueueRetry)
	retryCfg.Concurrency = cfg.RetryConcurrency

	pools := []*queue.Pool{
		queue.NewPool(deliveryCfg, broker, d.Execute, logger).WithMetrics(metrics),
		queue.NewPool(retryCfg, broker, d.Execute, logger).WithMetrics(metrics),
		queue.NewPool(queue.DefaultWorkerConfig(queue.QueueCleanup), broker, sweeper.Execute, logger).WithMetrics(metrics),
	}
	for _, p := range pools {
		p.Start(ctx)
	}

	var consumer *ingest.Consumer
	if len(cfg.KafkaBrokers) > 0 {
		consumer = ingest.NewConsumer(ingest.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroup,
		}, d, logger)
		consumer.Start(ctx)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	if consumer != nil {
		consumer.Stop()
	}
	for _, p := range pools {
		p.Stop()
	}

	logger.Info("shutdown complete")
}
