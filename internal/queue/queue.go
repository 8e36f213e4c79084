// Package queue provides the durable job substrate for the delivery engine.
//
// Three logical queues carry the engine's work: delivery (new deliveries,
// highest priority), retry (scheduled re-attempts, delayed activation) and
// cleanup (the daily sweeper). Jobs survive process restarts; a crashed
// worker's job becomes visible again after its visibility timeout and is
// redelivered, so every handler must be idempotent.
//
// Queue-level attempts are a safety net against crashes and are distinct
// from business-level delivery retries: a job that keeps crashing its
// worker is dead-lettered after MaxAttempts redeliveries no matter how
// many delivery attempts its record has left.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Queue names.
const (
	QueueDelivery = "delivery"
	QueueRetry    = "retry"
	QueueCleanup  = "cleanup"
)

// Job kinds.
const (
	KindDeliver = "deliver"
	KindRetry   = "retry"
	KindCleanup = "cleanup"
)

// Job states reported by Broker.Job.
const (
	StateWaiting   = "waiting"
	StateDelayed   = "delayed"
	StateActive    = "active"
	StateCompleted = "completed"
	StateDead      = "dead"
)

// DefaultMaxAttempts caps queue-level redeliveries of a single job.
const DefaultMaxAttempts = 5

// Job is one unit of queued work.
type Job struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	AvailableAt time.Time       `json:"available_at"`
	LastError   string          `json:"last_error,omitempty"`
}

// Unmarshal decodes the job payload into v.
func (j *Job) Unmarshal(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("failed to decode job payload: %w", err)
	}
	return nil
}

// JobInfo is a job plus its current position in the queue.
type JobInfo struct {
	Job   *Job   `json:"job"`
	State string `json:"state"`
}

// Stats aggregates per-queue counts for the management API.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

var ErrUnknownQueue = errors.New("unknown queue")

// Broker is the durable queue backend. Claim returns (nil, nil) when the
// queue is empty or paused.
type Broker interface {
	Enqueue(ctx context.Context, queue string, job *Job) error
	EnqueueDelayed(ctx context.Context, queue string, job *Job, delay time.Duration) error

	Claim(ctx context.Context, queue string, visibility time.Duration) (*Job, error)
	Complete(ctx context.Context, queue string, job *Job) error
	// Fail records a handler failure: the job is redelivered with a short
	// backoff until its queue-level MaxAttempts is exhausted, then
	// dead-lettered.
	Fail(ctx context.Context, queue string, job *Job, reason string) error
	// Release puts an active job back on the delayed set without consuming
	// a queue-level attempt (backpressure, not failure).
	Release(ctx context.Context, queue string, job *Job, delay time.Duration) error

	// Promote moves due delayed jobs to the waiting list.
	Promote(ctx context.Context, queue string) (int, error)
	// Reclaim requeues active jobs whose visibility deadline passed
	// (crashed or stalled workers).
	Reclaim(ctx context.Context, queue string) (int, error)

	Pause(ctx context.Context, queue string) error
	Resume(ctx context.Context, queue string) error
	Paused(ctx context.Context, queue string) (bool, error)
	Clear(ctx context.Context, queue string) (int64, error)

	Job(ctx context.Context, queue, jobID string) (*JobInfo, error)
	Remove(ctx context.Context, queue, jobID string) (bool, error)
	// PromoteJob forces a delayed or dead job to run now.
	PromoteJob(ctx context.Context, queue, jobID string) (bool, error)

	Stats(ctx context.Context, queue string) (Stats, error)
}

// NewJob builds a job with the queue-level defaults applied.
func NewJob(id, kind string, payload any) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	return &Job{
		ID:          id,
		Kind:        kind,
		Payload:     data,
		MaxAttempts: DefaultMaxAttempts,
	}, nil
}

// retryAfterError signals the pool to release a job back to the delayed
// set instead of counting a failure.
type retryAfterError struct {
	delay time.Duration
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("retry after %s", e.delay)
}

// RetryAfter returns an error a handler can use to reschedule the current
// job without consuming a queue-level attempt.
func RetryAfter(delay time.Duration) error {
	return &retryAfterError{delay: delay}
}

func retryAfterDelay(err error) (time.Duration, bool) {
	var ra *retryAfterError
	if errors.As(err, &ra) {
		return ra.delay, true
	}
	return 0, false
}
