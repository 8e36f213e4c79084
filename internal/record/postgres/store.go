package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AbdullahHassan176/hookrelay/internal/domain"
	"github.com/AbdullahHassan176/hookrelay/internal/record"
)

const recordColumns = `delivery_id, endpoint_id, event_id, event_type, payload, signature,
	       status, attempt_count, max_attempts, response_code, response_body,
	       last_error, next_retry_at, delivered_at, failed_at, created_at, updated_at`

// Store is the pgx-backed delivery record store. Status transitions are
// single UPDATE statements guarded on the record being non-terminal, so
// they are atomic without explicit locking.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Create(ctx context.Context, rec *domain.DeliveryRecord) error {
	const query = `
		INSERT INTO delivery_records (delivery_id, endpoint_id, event_id, event_type,
		                              payload, signature, status, attempt_count,
		                              max_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (delivery_id) DO NOTHING
	`

	_, err := s.pool.Exec(ctx, query,
		rec.ID,
		rec.EndpointID,
		rec.EventID,
		rec.EventType,
		rec.Payload,
		rec.Signature,
		rec.Status,
		rec.AttemptCount,
		rec.MaxAttempts,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, deliveryID string) (*domain.DeliveryRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM delivery_records WHERE delivery_id = $1`

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, deliveryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rec, err
}

func (s *Store) RecordAttemptResult(ctx context.Context, deliveryID string, outcome record.AttemptOutcome) (*domain.DeliveryRecord, error) {
	// A single UPDATE performs the read-modify-write: the counter and the
	// resulting status are computed from the stored attempt_count, and the
	// WHERE clause rejects records that already reached a terminal state.
	const query = `
		UPDATE delivery_records SET
			attempt_count = attempt_count + 1,
			response_code = $2,
			response_body = $3,
			last_error    = $4,
			status = CASE
				WHEN $5::bool THEN 'delivered'
				WHEN $6::bool AND attempt_count + 1 < max_attempts THEN 'retrying'
				ELSE 'failed'
			END,
			next_retry_at = CASE
				WHEN NOT $5::bool AND $6::bool AND attempt_count + 1 < max_attempts THEN $7
				ELSE NULL
			END,
			delivered_at = CASE WHEN $5::bool THEN NOW() ELSE delivered_at END,
			failed_at = CASE
				WHEN NOT $5::bool AND NOT ($6::bool AND attempt_count + 1 < max_attempts) THEN NOW()
				ELSE failed_at
			END,
			updated_at = NOW()
		WHERE delivery_id = $1 AND status IN ('pending', 'retrying')
		RETURNING ` + recordColumns

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, deliveryID,
		outcome.StatusCode,
		outcome.ResponseBody,
		outcome.Error,
		outcome.Delivered,
		outcome.Retryable,
		outcome.NextRetryAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.missOrTerminal(ctx, deliveryID)
	}
	return rec, err
}

func (s *Store) Fail(ctx context.Context, deliveryID, reason string) (*domain.DeliveryRecord, error) {
	const query = `
		UPDATE delivery_records SET
			status = 'failed',
			last_error = $2,
			next_retry_at = NULL,
			failed_at = NOW(),
			updated_at = NOW()
		WHERE delivery_id = $1 AND status IN ('pending', 'retrying')
		RETURNING ` + recordColumns

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, deliveryID, reason))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.missOrTerminal(ctx, deliveryID)
	}
	return rec, err
}

// missOrTerminal distinguishes a CAS miss caused by a terminal record from
// one caused by a missing record.
func (s *Store) missOrTerminal(ctx context.Context, deliveryID string) error {
	if _, err := s.Get(ctx, deliveryID); err != nil {
		return err
	}
	return domain.ErrTerminal
}

func (s *Store) ListByEndpoint(ctx context.Context, endpointID string, limit int) ([]*domain.DeliveryRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM delivery_records
		WHERE endpoint_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, endpointID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *Store) ListByStatus(ctx context.Context, status domain.DeliveryStatus, limit int) ([]*domain.DeliveryRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM delivery_records
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *Store) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	const query = `
		DELETE FROM delivery_records
		WHERE status IN ('delivered', 'failed', 'expired')
		AND created_at < $1
	`

	tag, err := s.pool.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ExpireStale(ctx context.Context, olderThan time.Time) (int64, error) {
	const query = `
		UPDATE delivery_records SET
			status = 'expired',
			next_retry_at = NULL,
			updated_at = NOW()
		WHERE status IN ('pending', 'retrying')
		AND created_at < $1
	`

	tag, err := s.pool.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanRecord(row pgx.Row) (*domain.DeliveryRecord, error) {
	var rec domain.DeliveryRecord
	err := row.Scan(
		&rec.ID,
		&rec.EndpointID,
		&rec.EventID,
		&rec.EventType,
		&rec.Payload,
		&rec.Signature,
		&rec.Status,
		&rec.AttemptCount,
		&rec.MaxAttempts,
		&rec.ResponseCode,
		&rec.ResponseBody,
		&rec.LastError,
		&rec.NextRetryAt,
		&rec.DeliveredAt,
		&rec.FailedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanRecords(rows pgx.Rows) ([]*domain.DeliveryRecord, error) {
	var records []*domain.DeliveryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
