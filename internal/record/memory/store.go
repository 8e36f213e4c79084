// Package memory provides an in-memory delivery record store with the same
// transition semantics as the postgres store. It backs unit tests and
// single-process deployments without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AbdullahHassan176/hookrelay/internal/clock"
	"github.com/AbdullahHassan176/hookrelay/internal/domain"
	"github.com/AbdullahHassan176/hookrelay/internal/record"
)

type Store struct {
	mu      sync.RWMutex
	records map[string]*domain.DeliveryRecord
	clock   clock.Clock
}

func NewStore(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Store{
		records: make(map[string]*domain.DeliveryRecord),
		clock:   clk,
	}
}

func (s *Store) Create(ctx context.Context, rec *domain.DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return nil // same semantics as ON CONFLICT DO NOTHING
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *Store) Get(ctx context.Context, deliveryID string) (*domain.DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[deliveryID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) RecordAttemptResult(ctx context.Context, deliveryID string, outcome record.AttemptOutcome) (*domain.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[deliveryID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if rec.Status.Terminal() {
		return nil, domain.ErrTerminal
	}

	now := s.clock.Now()
	rec.AttemptCount++
	rec.ResponseCode = outcome.StatusCode
	rec.ResponseBody = outcome.ResponseBody
	rec.LastError = outcome.Error
	rec.NextRetryAt = nil

	switch {
	case outcome.Delivered:
		rec.Status = domain.DeliveryStatusDelivered
		rec.DeliveredAt = &now
	case outcome.Retryable && rec.AttemptCount < rec.MaxAttempts:
		rec.Status = domain.DeliveryStatusRetrying
		rec.NextRetryAt = outcome.NextRetryAt
	default:
		rec.Status = domain.DeliveryStatusFailed
		rec.FailedAt = &now
	}
	rec.UpdatedAt = now

	cp := *rec
	return &cp, nil
}

func (s *Store) Fail(ctx context.Context, deliveryID, reason string) (*domain.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[deliveryID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if rec.Status.Terminal() {
		return nil, domain.ErrTerminal
	}

	now := s.clock.Now()
	rec.Status = domain.DeliveryStatusFailed
	rec.LastError = &reason
	rec.NextRetryAt = nil
	rec.FailedAt = &now
	rec.UpdatedAt = now

	cp := *rec
	return &cp, nil
}

func (s *Store) ListByEndpoint(ctx context.Context, endpointID string, limit int) ([]*domain.DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(limit, func(r *domain.DeliveryRecord) bool {
		return r.EndpointID == endpointID
	}), nil
}

func (s *Store) ListByStatus(ctx context.Context, status domain.DeliveryStatus, limit int) ([]*domain.DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(limit, func(r *domain.DeliveryRecord) bool {
		return r.Status == status
	}), nil
}

func (s *Store) collect(limit int, match func(*domain.DeliveryRecord) bool) []*domain.DeliveryRecord {
	var result []*domain.DeliveryRecord
	for _, rec := range s.records {
		if match(rec) {
			cp := *rec
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func (s *Store) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, rec := range s.records {
		if rec.Status.Terminal() && rec.CreatedAt.Before(olderThan) {
			delete(s.records, id)
			purged++
		}
	}
	return purged, nil
}

func (s *Store) ExpireStale(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var expired int64
	for _, rec := range s.records {
		if !rec.Status.Terminal() && rec.CreatedAt.Before(olderThan) {
			rec.Status = domain.DeliveryStatusExpired
			rec.NextRetryAt = nil
			rec.UpdatedAt = now
			expired++
		}
	}
	return expired, nil
}
