// Package record defines the durable store for delivery records.
//
// The store is the only mutable shared state in the engine. All mutations
// are single-row, keyed by delivery id, and every status transition is a
// compare-and-set guarded on the record still being non-terminal, so two
// concurrent workers can never both finalize the same record.
package record

import (
	"context"
	"time"

	"github.com/AbdullahHassan176/hookrelay/internal/domain"
)

// AttemptOutcome describes the result of one HTTP delivery attempt.
type AttemptOutcome struct {
	StatusCode   *int
	ResponseBody *string
	Error        *string

	// Delivered marks a 2xx/3xx response.
	Delivered bool
	// Retryable marks a failure eligible for another attempt if the record
	// has attempts remaining (network error, timeout, 5xx, 408, 429).
	Retryable bool
	// NextRetryAt is the candidate activation time for the next attempt,
	// applied only when the record actually transitions to retrying.
	NextRetryAt *time.Time
}

// Store persists delivery records and their attempt history.
type Store interface {
	Create(ctx context.Context, rec *domain.DeliveryRecord) error
	Get(ctx context.Context, deliveryID string) (*domain.DeliveryRecord, error)

	// RecordAttemptResult atomically increments the attempt counter and
	// applies the state transition for one attempt. The increment is a
	// read-modify-write on the stored counter, never on caller-supplied
	// data, which makes redelivered queue jobs safe. Returns
	// domain.ErrTerminal when the record already reached a terminal state.
	RecordAttemptResult(ctx context.Context, deliveryID string, outcome AttemptOutcome) (*domain.DeliveryRecord, error)

	// Fail force-finalizes a non-terminal record without an HTTP attempt,
	// e.g. when the target endpoint was deactivated after a retry was
	// scheduled.
	Fail(ctx context.Context, deliveryID, reason string) (*domain.DeliveryRecord, error)

	ListByEndpoint(ctx context.Context, endpointID string, limit int) ([]*domain.DeliveryRecord, error)
	ListByStatus(ctx context.Context, status domain.DeliveryStatus, limit int) ([]*domain.DeliveryRecord, error)

	// Purge deletes terminal records created before the cutoff. Records in
	// pending or retrying state are never deleted regardless of age.
	Purge(ctx context.Context, olderThan time.Time) (int64, error)

	// ExpireStale transitions non-terminal records created before the
	// cutoff to expired. This is the only path into the expired state.
	ExpireStale(ctx context.Context, olderThan time.Time) (int64, error)
}
