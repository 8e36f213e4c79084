package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/AbdullahHassan176/hookrelay/internal/clock"
	"github.com/AbdullahHassan176/hookrelay/internal/domain"
)

// MemoryBroker is an in-process Broker with the same semantics as the
// Redis broker. It backs unit tests and single-process deployments where
// durability across restarts is not required.
type MemoryBroker struct {
	mu    sync.Mutex
	clock clock.Clock

	queues map[string]*memoryQueue
}

type memoryQueue struct {
	waiting   []string
	delayed   map[string]time.Time
	active    map[string]time.Time
	dead      []string
	jobs      map[string]*Job
	attempts  map[string]int
	errors    map[string]string
	completed int64
	failed    int64
	paused    bool
}

func NewMemoryBroker(clk clock.Clock) *MemoryBroker {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &MemoryBroker{
		clock:  clk,
		queues: make(map[string]*memoryQueue),
	}
}

func (b *MemoryBroker) queue(name string) *memoryQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memoryQueue{
			delayed:  make(map[string]time.Time),
			active:   make(map[string]time.Time),
			jobs:     make(map[string]*Job),
			attempts: make(map[string]int),
			errors:   make(map[string]string),
		}
		b.queues[name] = q
	}
	return q
}

func (b *MemoryBroker) Enqueue(ctx context.Context, queue string, job *Job) error {
	return b.enqueue(queue, job, 0)
}

func (b *MemoryBroker) EnqueueDelayed(ctx context.Context, queue string, job *Job, delay time.Duration) error {
	return b.enqueue(queue, job, delay)
}

func (b *MemoryBroker) enqueue(queue string, job *Job, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = DefaultMaxAttempts
	}
	now := b.clock.Now()
	job.EnqueuedAt = now
	job.AvailableAt = now.Add(delay)

	cp := cloneJob(job)
	q.jobs[job.ID] = cp
	q.dead = removeID(q.dead, job.ID)
	delete(q.attempts, job.ID)
	delete(q.errors, job.ID)
	delete(q.delayed, job.ID)
	q.waiting = removeID(q.waiting, job.ID)

	if delay > 0 {
		q.delayed[job.ID] = job.AvailableAt
	} else {
		q.waiting = append(q.waiting, job.ID)
	}
	return nil
}

func (b *MemoryBroker) Claim(ctx context.Context, queue string, visibility time.Duration) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	if q.paused || len(q.waiting) == 0 {
		return nil, nil
	}

	id := q.waiting[0]
	q.waiting = q.waiting[1:]

	job, ok := q.jobs[id]
	if !ok {
		return nil, nil
	}
	q.active[id] = b.clock.Now().Add(visibility)
	q.attempts[id]++

	cp := cloneJob(job)
	cp.Attempts = q.attempts[id]
	return cp, nil
}

func (b *MemoryBroker) Complete(ctx context.Context, queue string, job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	delete(q.active, job.ID)
	delete(q.attempts, job.ID)
	delete(q.errors, job.ID)
	q.completed++
	return nil
}

func (b *MemoryBroker) Fail(ctx context.Context, queue string, job *Job, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	delete(q.active, job.ID)
	q.errors[job.ID] = reason

	if q.attempts[job.ID] >= job.MaxAttempts {
		q.dead = append(q.dead, job.ID)
		q.failed++
		return nil
	}
	backoff := time.Duration(job.Attempts) * 5 * time.Second
	q.delayed[job.ID] = b.clock.Now().Add(backoff)
	return nil
}

func (b *MemoryBroker) Release(ctx context.Context, queue string, job *Job, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	delete(q.active, job.ID)
	q.attempts[job.ID]--
	q.delayed[job.ID] = b.clock.Now().Add(delay)
	return nil
}

func (b *MemoryBroker) Promote(ctx context.Context, queue string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	now := b.clock.Now()
	promoted := 0
	for id, at := range q.delayed {
		if !at.After(now) {
			delete(q.delayed, id)
			q.waiting = append(q.waiting, id)
			promoted++
		}
	}
	return promoted, nil
}

func (b *MemoryBroker) Reclaim(ctx context.Context, queue string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	now := b.clock.Now()
	reclaimed := 0
	for id, deadline := range q.active {
		if !deadline.After(now) {
			delete(q.active, id)
			job := q.jobs[id]
			max := DefaultMaxAttempts
			if job != nil && job.MaxAttempts > 0 {
				max = job.MaxAttempts
			}
			if q.attempts[id] >= max {
				q.dead = append(q.dead, id)
				q.failed++
			} else {
				q.waiting = append(q.waiting, id)
			}
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (b *MemoryBroker) Pause(ctx context.Context, queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue(queue).paused = true
	return nil
}

func (b *MemoryBroker) Resume(ctx context.Context, queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue(queue).paused = false
	return nil
}

func (b *MemoryBroker) Paused(ctx context.Context, queue string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue(queue).paused, nil
}

func (b *MemoryBroker) Clear(ctx context.Context, queue string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	count := int64(len(q.jobs))
	delete(b.queues, queue)
	return count, nil
}

func (b *MemoryBroker) Job(ctx context.Context, queue, jobID string) (*JobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	cp := cloneJob(job)
	cp.Attempts = q.attempts[jobID]
	cp.LastError = q.errors[jobID]

	state := StateCompleted
	switch {
	case contains(q.dead, jobID):
		state = StateDead
	case hasKey(q.active, jobID):
		state = StateActive
	case hasKey(q.delayed, jobID):
		state = StateDelayed
	case contains(q.waiting, jobID):
		state = StateWaiting
	}
	return &JobInfo{Job: cp, State: state}, nil
}

func (b *MemoryBroker) Remove(ctx context.Context, queue, jobID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	_, existed := q.jobs[jobID]
	delete(q.jobs, jobID)
	delete(q.delayed, jobID)
	delete(q.active, jobID)
	delete(q.attempts, jobID)
	delete(q.errors, jobID)
	q.waiting = removeID(q.waiting, jobID)
	q.dead = removeID(q.dead, jobID)
	return existed, nil
}

func (b *MemoryBroker) PromoteJob(ctx context.Context, queue, jobID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	if hasKey(q.delayed, jobID) {
		delete(q.delayed, jobID)
		q.waiting = append(q.waiting, jobID)
		return true, nil
	}
	if contains(q.dead, jobID) {
		q.dead = removeID(q.dead, jobID)
		delete(q.attempts, jobID)
		q.waiting = append(q.waiting, jobID)
		return true, nil
	}
	return false, nil
}

func (b *MemoryBroker) Stats(ctx context.Context, queue string) (Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	return Stats{
		Waiting:   int64(len(q.waiting)),
		Delayed:   int64(len(q.delayed)),
		Active:    int64(len(q.active)),
		Completed: q.completed,
		Failed:    q.failed,
	}, nil
}

func cloneJob(job *Job) *Job {
	cp := *job
	cp.Payload = append(json.RawMessage{}, job.Payload...)
	return &cp
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func hasKey(m map[string]time.Time, id string) bool {
	_, ok := m[id]
	return ok
}
