package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/AbdullahHassan176/hookrelay/internal/observability"
)

// HandlerFunc processes one claimed job. Returning nil completes the job;
// returning RetryAfter releases it without consuming a queue-level
// attempt; any other error counts as a failed run.
type HandlerFunc func(ctx context.Context, job *Job) error

// WorkerConfig defines the fixed-size pool for one queue.
type WorkerConfig struct {
	Queue       string
	Concurrency int
	// PollInterval is the idle wait between claims on an empty queue.
	PollInterval time.Duration
	// Visibility is how long a claimed job stays invisible before a
	// crashed worker's job is reclaimed.
	Visibility time.Duration
	// MaintenanceInterval paces delayed-job promotion and reclaims.
	MaintenanceInterval time.Duration
}

func DefaultWorkerConfig(queue string) WorkerConfig {
	cfg := WorkerConfig{
		Queue:               queue,
		Concurrency:         1,
		PollInterval:        100 * time.Millisecond,
		Visibility:          2 * time.Minute,
		MaintenanceInterval: time.Second,
	}
	switch queue {
	case QueueDelivery:
		cfg.Concurrency = 10
	case QueueRetry:
		cfg.Concurrency = 5
	case QueueCleanup:
		cfg.Concurrency = 1
	}
	return cfg
}

// Pool runs a fixed set of worker goroutines against one queue. Each
// worker claims a job, runs it to completion (the blocking HTTP call
// included) and acknowledges the outcome before claiming the next.
type Pool struct {
	config  WorkerConfig
	broker  Broker
	handler HandlerFunc
	logger  *slog.Logger
	metrics *observability.Metrics

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewPool(config WorkerConfig, broker Broker, handler HandlerFunc, logger *slog.Logger) *Pool {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 100 * time.Millisecond
	}
	if config.Visibility <= 0 {
		config.Visibility = 2 * time.Minute
	}
	if config.MaintenanceInterval <= 0 {
		config.MaintenanceInterval = time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pool{
		config:  config,
		broker:  broker,
		handler: handler,
		logger:  logger.With("queue", config.Queue),
	}
}

// WithMetrics enables Prometheus metrics collection.
func (p *Pool) WithMetrics(m *observability.Metrics) *Pool {
	p.metrics = m
	return p
}

func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.maintenance(ctx)

	for i := 0; i < p.config.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.logger.Info("worker pool started", "concurrency", p.config.Concurrency)
}

func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// maintenance promotes due delayed jobs and reclaims jobs from crashed
// workers on a fixed cadence.
func (p *Pool) maintenance(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.broker.Promote(ctx, p.config.Queue); err != nil && ctx.Err() == nil {
				p.logger.Error("failed to promote delayed jobs", "error", err)
			}
			if n, err := p.broker.Reclaim(ctx, p.config.Queue); err != nil && ctx.Err() == nil {
				p.logger.Error("failed to reclaim stalled jobs", "error", err)
			} else if n > 0 {
				p.logger.Warn("reclaimed stalled jobs", "count", n)
			}
			p.observeDepth(ctx)
		}
	}
}

func (p *Pool) observeDepth(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	stats, err := p.broker.Stats(ctx, p.config.Queue)
	if err != nil {
		return
	}
	p.metrics.QueueWaiting.WithLabelValues(p.config.Queue).Set(float64(stats.Waiting))
	p.metrics.QueueDelayed.WithLabelValues(p.config.Queue).Set(float64(stats.Delayed))
	p.metrics.QueueActive.WithLabelValues(p.config.Queue).Set(float64(stats.Active))
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("worker shutting down", "worker_id", id)
			return
		default:
		}

		job, err := p.broker.Claim(ctx, p.config.Queue, p.config.Visibility)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Error("failed to claim job", "error", err)
			}
			p.sleep(ctx)
			continue
		}
		if job == nil {
			p.sleep(ctx)
			continue
		}

		p.run(ctx, job)
	}
}

func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.config.PollInterval):
	}
}

func (p *Pool) run(ctx context.Context, job *Job) {
	start := time.Now()
	err := p.handle(ctx, job)
	duration := time.Since(start)

	if p.metrics != nil {
		p.metrics.JobDuration.WithLabelValues(p.config.Queue).Observe(duration.Seconds())
	}

	switch {
	case err == nil:
		if ackErr := p.broker.Complete(ctx, p.config.Queue, job); ackErr != nil {
			p.logger.Error("failed to complete job", "error", ackErr, "job_id", job.ID)
		}
	default:
		if delay, ok := retryAfterDelay(err); ok {
			p.logger.Debug("job released", "job_id", job.ID, "delay", delay)
			if relErr := p.broker.Release(ctx, p.config.Queue, job, delay); relErr != nil {
				p.logger.Error("failed to release job", "error", relErr, "job_id", job.ID)
			}
			return
		}
		p.logger.Warn("job failed",
			"job_id", job.ID,
			"kind", job.Kind,
			"attempt", job.Attempts,
			"error", err,
		)
		if p.metrics != nil {
			p.metrics.JobFailures.WithLabelValues(p.config.Queue).Inc()
		}
		if ackErr := p.broker.Fail(ctx, p.config.Queue, job, err.Error()); ackErr != nil {
			p.logger.Error("failed to requeue job", "error", ackErr, "job_id", job.ID)
		}
	}
}

// handle converts handler panics into job failures so one bad job cannot
// take a worker down.
func (p *Pool) handle(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.handler(ctx, job)
}
