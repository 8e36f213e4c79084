// Package cleanup implements the retention sweeper for delivery records.
package cleanup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/AbdullahHassan176/hookrelay/internal/clock"
	"github.com/AbdullahHassan176/hookrelay/internal/observability"
	"github.com/AbdullahHassan176/hookrelay/internal/queue"
	"github.com/AbdullahHassan176/hookrelay/internal/record"
)

// Config defines retention windows.
//
// Retention is how long terminal records are kept before deletion.
// StaleAfter is how long a record may sit in pending or retrying before the
// sweeper declares it expired; it should comfortably exceed the longest
// possible retry schedule.
type Config struct {
	Retention  time.Duration
	StaleAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		Retention:  30 * 24 * time.Hour,
		StaleAfter: 7 * 24 * time.Hour,
	}
}

// Sweeper expires stuck deliveries and purges old terminal records. It
// runs as the handler of the cleanup queue, so concurrency and scheduling
// are the queue's concern.
type Sweeper struct {
	config  Config
	records record.Store
	clock   clock.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewSweeper(config Config, records record.Store, clk clock.Clock, logger *slog.Logger) *Sweeper {
	if config.Retention <= 0 {
		config.Retention = 30 * 24 * time.Hour
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = 7 * 24 * time.Hour
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sweeper{
		config:  config,
		records: records,
		clock:   clk,
		logger:  logger,
	}
}

// WithMetrics enables Prometheus metrics collection.
func (s *Sweeper) WithMetrics(m *observability.Metrics) *Sweeper {
	s.metrics = m
	return s
}

// Sweep expires stale non-terminal records, then purges terminal records
// past retention. Expiry runs first so a record stuck since before the
// retention cutoff is marked expired and removed on the next sweep rather
// than lingering forever.
func (s *Sweeper) Sweep(ctx context.Context) (expired, purged int64, err error) {
	now := s.clock.Now()

	expired, err = s.records.ExpireStale(ctx, now.Add(-s.config.StaleAfter))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to expire stale records: %w", err)
	}
	if s.metrics != nil {
		s.metrics.DeliveriesExpired.Add(float64(expired))
	}

	purged, err = s.records.Purge(ctx, now.Add(-s.config.Retention))
	if err != nil {
		return expired, 0, fmt.Errorf("failed to purge records: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordsPurged.Add(float64(purged))
	}

	s.logger.Info("sweep completed", "expired", expired, "purged", purged)
	return expired, purged, nil
}

// Execute is the cleanup queue handler.
func (s *Sweeper) Execute(ctx context.Context, job *queue.Job) error {
	_, _, err := s.Sweep(ctx)
	return err
}

// EnqueueSweep queues one sweep run. The job id is derived from the
// scheduled date, so multiple schedulers enqueueing the same daily run
// collapse onto one job.
func EnqueueSweep(ctx context.Context, broker queue.Broker, at time.Time) error {
	job, err := queue.NewJob(
		fmt.Sprintf("cleanup:%s", at.UTC().Format("2006-01-02")),
		queue.KindCleanup,
		struct{}{},
	)
	if err != nil {
		return err
	}
	job.MaxAttempts = 2
	return broker.Enqueue(ctx, queue.QueueCleanup, job)
}
