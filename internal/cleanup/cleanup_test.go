package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/AbdullahHassan176/hookrelay/internal/clock"
	"github.com/AbdullahHassan176/hookrelay/internal/domain"
	"github.com/AbdullahHassan176/hookrelay/internal/queue"
	"github.com/AbdullahHassan176/hookrelay/internal/record"
	recmem "github.com/AbdullahHassan176/hookrelay/internal/record/memory"
)

func newRecord(id string, createdAt time.Time) *domain.DeliveryRecord {
	return &domain.DeliveryRecord{
		ID:          id,
		EndpointID:  "ep_1",
		EventID:     "evt_" + id,
		EventType:   "order.created",
		Payload:     []byte(`{}`),
		Status:      domain.DeliveryStatusPending,
		MaxAttempts: 3,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func deliver(t *testing.T, store record.Store, id string) {
	t.Helper()
	code := 200
	if _, err := store.RecordAttemptResult(context.Background(), id, record.AttemptOutcome{
		StatusCode: &code,
		Delivered:  true,
	}); err != nil {
		t.Fatalf("RecordAttemptResult(%s): %v", id, err)
	}
}

func TestSweeper_Sweep(t *testing.T) {
	clk := &clock.MockClock{NowTime: time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)}
	store := recmem.NewStore(clk)
	ctx := context.Background()

	// Old cohort: one delivered, one still pending.
	store.Create(ctx, newRecord("old-delivered", clk.Now()))
	store.Create(ctx, newRecord("old-stuck", clk.Now()))
	deliver(t, store, "old-delivered")

	clk.Advance(40 * 24 * time.Hour)

	// Recent cohort.
	store.Create(ctx, newRecord("new-delivered", clk.Now()))
	store.Create(ctx, newRecord("new-pending", clk.Now()))
	deliver(t, store, "new-delivered")

	sweeper := NewSweeper(DefaultConfig(), store, clk, nil)

	expired, purged, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if expired != 1 {
		t.Errorf("expired = %d, want 1 (only the old stuck record)", expired)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1 (only the old delivered record)", purged)
	}

	// The stuck record was marked expired, never deleted outright.
	rec, err := store.Get(ctx, "old-stuck")
	if err != nil {
		t.Fatalf("Get(old-stuck): %v", err)
	}
	if rec.Status != domain.DeliveryStatusExpired {
		t.Errorf("old-stuck status = %s, want expired", rec.Status)
	}

	if _, err := store.Get(ctx, "old-delivered"); err == nil {
		t.Error("old-delivered should have been purged")
	}
	if _, err := store.Get(ctx, "new-delivered"); err != nil {
		t.Error("new-delivered is within retention and must remain")
	}
	if _, err := store.Get(ctx, "new-pending"); err != nil {
		t.Error("new-pending must never be touched by the sweeper")
	}

	// Once past retention, the expired record is purged by a later sweep.
	clk.Advance(20 * 24 * time.Hour)
	_, purged, err = sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if purged != 1 {
		t.Errorf("second sweep purged = %d, want 1 (the expired record)", purged)
	}
}

func TestSweeper_Execute(t *testing.T) {
	clk := &clock.MockClock{NowTime: time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)}
	store := recmem.NewStore(clk)
	sweeper := NewSweeper(DefaultConfig(), store, clk, nil)

	job, err := queue.NewJob("cleanup:2025-06-01", queue.KindCleanup, struct{}{})
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	if err := sweeper.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestEnqueueSweep_CollapsesSameDay(t *testing.T) {
	clk := &clock.MockClock{NowTime: time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)}
	broker := queue.NewMemoryBroker(clk)
	ctx := context.Background()

	at := clk.Now()
	if err := EnqueueSweep(ctx, broker, at); err != nil {
		t.Fatalf("EnqueueSweep: %v", err)
	}
	if err := EnqueueSweep(ctx, broker, at); err != nil {
		t.Fatalf("EnqueueSweep (duplicate): %v", err)
	}

	stats, err := broker.Stats(ctx, queue.QueueCleanup)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Waiting != 1 {
		t.Errorf("waiting = %d, want 1 (same-day sweeps share a job id)", stats.Waiting)
	}
}
