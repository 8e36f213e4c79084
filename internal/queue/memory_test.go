package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AbdullahHassan176/hookrelay/internal/clock"
	"github.com/AbdullahHassan176/hookrelay/internal/domain"
)

func newTestBroker() (*MemoryBroker, *clock.MockClock) {
	clk := &clock.MockClock{NowTime: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewMemoryBroker(clk), clk
}

func mustJob(t *testing.T, id string) *Job {
	t.Helper()
	job, err := NewJob(id, KindDeliver, map[string]string{"deliveryId": id})
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	return job
}

func TestMemoryBroker_EnqueueClaimComplete(t *testing.T) {
	broker, _ := newTestBroker()
	ctx := context.Background()

	if err := broker.Enqueue(ctx, QueueDelivery, mustJob(t, "job-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := broker.Claim(ctx, QueueDelivery, time.Minute)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if job == nil {
		t.Fatal("expected a job, got nil")
	}
	if job.ID != "job-1" {
		t.Errorf("job ID = %q, want job-1", job.ID)
	}
	if job.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", job.Attempts)
	}

	if err := broker.Complete(ctx, QueueDelivery, job); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	stats, err := broker.Stats(ctx, QueueDelivery)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Completed != 1 || stats.Active != 0 || stats.Waiting != 0 {
		t.Errorf("stats = %+v, want 1 completed and nothing in flight", stats)
	}
}

func TestMemoryBroker_ClaimEmptyQueue(t *testing.T) {
	broker, _ := newTestBroker()

	job, err := broker.Claim(context.Background(), QueueDelivery, time.Minute)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if job != nil {
		t.Errorf("expected nil job on empty queue, got %+v", job)
	}
}

func TestMemoryBroker_DelayedJobNotVisibleUntilPromoted(t *testing.T) {
	broker, clk := newTestBroker()
	ctx := context.Background()

	if err := broker.EnqueueDelayed(ctx, QueueRetry, mustJob(t, "job-1"), 30*time.Second); err != nil {
		t.Fatalf("EnqueueDelayed: %v", err)
	}

	if job, _ := broker.Claim(ctx, QueueRetry, time.Minute); job != nil {
		t.Fatal("delayed job should not be claimable before promotion")
	}

	// Not due yet.
	if n, _ := broker.Promote(ctx, QueueRetry); n != 0 {
		t.Errorf("promoted %d jobs before activation time, want 0", n)
	}

	clk.Advance(30 * time.Second)
	if n, _ := broker.Promote(ctx, QueueRetry); n != 1 {
		t.Errorf("promoted %d jobs, want 1", n)
	}

	job, err := broker.Claim(ctx, QueueRetry, time.Minute)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if job == nil || job.ID != "job-1" {
		t.Fatalf("claimed job = %+v, want job-1", job)
	}
}

func TestMemoryBroker_ReclaimExpiredActive(t *testing.T) {
	broker, clk := newTestBroker()
	ctx := context.Background()

	if err := broker.Enqueue(ctx, QueueDelivery, mustJob(t, "job-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := broker.Claim(ctx, QueueDelivery, time.Minute); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	// Worker still holds the job.
	if n, _ := broker.Reclaim(ctx, QueueDelivery); n != 0 {
		t.Errorf("reclaimed %d jobs within visibility window, want 0", n)
	}

	clk.Advance(2 * time.Minute)
	if n, _ := broker.Reclaim(ctx, QueueDelivery); n != 1 {
		t.Errorf("reclaimed %d jobs, want 1", n)
	}

	job, err := broker.Claim(ctx, QueueDelivery, time.Minute)
	if err != nil {
		t.Fatalf("Claim after reclaim: %v", err)
	}
	if job == nil {
		t.Fatal("reclaimed job should be claimable again")
	}
	if job.Attempts != 2 {
		t.Errorf("attempts after redelivery = %d, want 2", job.Attempts)
	}
}

func TestMemoryBroker_FailDeadLettersAtMaxAttempts(t *testing.T) {
	broker, clk := newTestBroker()
	ctx := context.Background()

	job := mustJob(t, "job-1")
	job.MaxAttempts = 2
	if err := broker.Enqueue(ctx, QueueDelivery, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for attempt := 1; attempt <= 2; attempt++ {
		claimed, err := broker.Claim(ctx, QueueDelivery, time.Minute)
		if err != nil || claimed == nil {
			t.Fatalf("Claim attempt %d: job=%v err=%v", attempt, claimed, err)
		}
		if err := broker.Fail(ctx, QueueDelivery, claimed, "handler crashed"); err != nil {
			t.Fatalf("Fail: %v", err)
		}
		clk.Advance(time.Minute)
		broker.Promote(ctx, QueueDelivery)
	}

	if claimed, _ := broker.Claim(ctx, QueueDelivery, time.Minute); claimed != nil {
		t.Fatal("dead-lettered job should not be redelivered")
	}

	info, err := broker.Job(ctx, QueueDelivery, "job-1")
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if info.State != StateDead {
		t.Errorf("state = %q, want %q", info.State, StateDead)
	}
	if info.Job.LastError != "handler crashed" {
		t.Errorf("last error = %q, want handler crashed", info.Job.LastError)
	}

	stats, _ := broker.Stats(ctx, QueueDelivery)
	if stats.Failed != 1 {
		t.Errorf("failed count = %d, want 1", stats.Failed)
	}
}

func TestMemoryBroker_ReleaseDoesNotConsumeAttempt(t *testing.T) {
	broker, clk := newTestBroker()
	ctx := context.Background()

	if err := broker.Enqueue(ctx, QueueDelivery, mustJob(t, "job-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	claimed, err := broker.Claim(ctx, QueueDelivery, time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("Claim: job=%v err=%v", claimed, err)
	}
	if err := broker.Release(ctx, QueueDelivery, claimed, 10*time.Second); err != nil {
		t.Fatalf("Release: %v", err)
	}

	clk.Advance(10 * time.Second)
	broker.Promote(ctx, QueueDelivery)

	claimed, err = broker.Claim(ctx, QueueDelivery, time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("Claim after release: job=%v err=%v", claimed, err)
	}
	if claimed.Attempts != 1 {
		t.Errorf("attempts after release = %d, want 1", claimed.Attempts)
	}
}

func TestMemoryBroker_PauseBlocksClaims(t *testing.T) {
	broker, _ := newTestBroker()
	ctx := context.Background()

	if err := broker.Enqueue(ctx, QueueDelivery, mustJob(t, "job-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := broker.Pause(ctx, QueueDelivery); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	if paused, _ := broker.Paused(ctx, QueueDelivery); !paused {
		t.Error("Paused = false after Pause")
	}
	if job, _ := broker.Claim(ctx, QueueDelivery, time.Minute); job != nil {
		t.Fatal("paused queue should not hand out jobs")
	}

	if err := broker.Resume(ctx, QueueDelivery); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if job, _ := broker.Claim(ctx, QueueDelivery, time.Minute); job == nil {
		t.Fatal("resumed queue should hand out jobs again")
	}
}

func TestMemoryBroker_EnqueueSameIDResetsDeadJob(t *testing.T) {
	broker, clk := newTestBroker()
	ctx := context.Background()

	job := mustJob(t, "job-1")
	job.MaxAttempts = 1
	broker.Enqueue(ctx, QueueDelivery, job)

	claimed, _ := broker.Claim(ctx, QueueDelivery, time.Minute)
	broker.Fail(ctx, QueueDelivery, claimed, "boom")

	info, _ := broker.Job(ctx, QueueDelivery, "job-1")
	if info.State != StateDead {
		t.Fatalf("state = %q, want dead", info.State)
	}

	// Re-enqueue under the same ID starts fresh.
	broker.Enqueue(ctx, QueueDelivery, mustJob(t, "job-1"))
	clk.Advance(time.Second)

	claimed, _ = broker.Claim(ctx, QueueDelivery, time.Minute)
	if claimed == nil {
		t.Fatal("re-enqueued job should be claimable")
	}
	if claimed.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 after reset", claimed.Attempts)
	}
}

func TestMemoryBroker_PromoteJob(t *testing.T) {
	broker, _ := newTestBroker()
	ctx := context.Background()

	broker.EnqueueDelayed(ctx, QueueRetry, mustJob(t, "delayed-1"), time.Hour)

	ok, err := broker.PromoteJob(ctx, QueueRetry, "delayed-1")
	if err != nil || !ok {
		t.Fatalf("PromoteJob(delayed) = %v, %v; want true, nil", ok, err)
	}
	if job, _ := broker.Claim(ctx, QueueRetry, time.Minute); job == nil {
		t.Fatal("promoted job should be claimable immediately")
	}

	ok, err = broker.PromoteJob(ctx, QueueRetry, "missing")
	if err != nil {
		t.Fatalf("PromoteJob(missing): %v", err)
	}
	if ok {
		t.Error("PromoteJob should report false for unknown job")
	}
}

func TestMemoryBroker_RemoveAndClear(t *testing.T) {
	broker, _ := newTestBroker()
	ctx := context.Background()

	broker.Enqueue(ctx, QueueDelivery, mustJob(t, "job-1"))
	broker.Enqueue(ctx, QueueDelivery, mustJob(t, "job-2"))

	removed, err := broker.Remove(ctx, QueueDelivery, "job-1")
	if err != nil || !removed {
		t.Fatalf("Remove = %v, %v; want true, nil", removed, err)
	}
	if _, err := broker.Job(ctx, QueueDelivery, "job-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Job after Remove: err = %v, want ErrNotFound", err)
	}

	count, err := broker.Clear(ctx, QueueDelivery)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if count != 1 {
		t.Errorf("Clear removed %d jobs, want 1", count)
	}

	stats, _ := broker.Stats(ctx, QueueDelivery)
	if stats.Waiting != 0 {
		t.Errorf("waiting after Clear = %d, want 0", stats.Waiting)
	}
}
