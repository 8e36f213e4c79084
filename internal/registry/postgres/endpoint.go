package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AbdullahHassan176/hookrelay/internal/domain"
)

// Registry reads endpoint configuration from the portal's endpoints table.
type Registry struct {
	pool *pgxpool.Pool
}

func NewRegistry(pool *pgxpool.Pool) *Registry {
	return &Registry{pool: pool}
}

const endpointColumns = `id, name, url, event_types, secret, headers, timeout_ms,
	       max_attempts, initial_delay_ms, backoff_multiplier, max_delay_ms,
	       active, created_at`

func (r *Registry) Get(ctx context.Context, endpointID string) (*domain.Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM endpoints WHERE id = $1`

	ep, err := scanEndpoint(r.pool.QueryRow(ctx, query, endpointID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return ep, err
}

func (r *Registry) GetActiveSubscribers(ctx context.Context, eventType string) ([]*domain.Endpoint, error) {
	// Wildcard subscriptions ("invoice.*") can't be matched in SQL without
	// duplicating the pattern rules, so filtering happens in Go over the
	// active set.
	query := `
		SELECT ` + endpointColumns + `
		FROM endpoints
		WHERE active = TRUE
		ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subscribers []*domain.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		if ep.SubscribesTo(eventType) {
			subscribers = append(subscribers, ep)
		}
	}
	return subscribers, rows.Err()
}

func scanEndpoint(row pgx.Row) (*domain.Endpoint, error) {
	var (
		ep             domain.Endpoint
		headersJSON    []byte
		timeoutMs      int64
		initialDelayMs int64
		maxDelayMs     int64
	)
	err := row.Scan(
		&ep.ID,
		&ep.Name,
		&ep.URL,
		&ep.EventTypes,
		&ep.Secret,
		&headersJSON,
		&timeoutMs,
		&ep.RetryPolicy.MaxAttempts,
		&initialDelayMs,
		&ep.RetryPolicy.Multiplier,
		&maxDelayMs,
		&ep.Active,
		&ep.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &ep.Headers); err != nil {
			return nil, err
		}
	}
	ep.Timeout = time.Duration(timeoutMs) * time.Millisecond
	ep.RetryPolicy.InitialDelay = time.Duration(initialDelayMs) * time.Millisecond
	ep.RetryPolicy.MaxDelay = time.Duration(maxDelayMs) * time.Millisecond
	return &ep, nil
}
