// Package registry exposes read-only access to webhook endpoint
// configuration. Endpoints are created and managed by the portal's admin
// API; the delivery engine only resolves them.
package registry

import (
	"context"

	"github.com/AbdullahHassan176/hookrelay/internal/domain"
)

type Registry interface {
	// Get returns the endpoint regardless of its active flag; callers
	// decide how to treat inactive endpoints.
	Get(ctx context.Context, endpointID string) (*domain.Endpoint, error)

	// GetActiveSubscribers returns the active endpoints subscribed to the
	// given event type, in creation order.
	GetActiveSubscribers(ctx context.Context, eventType string) ([]*domain.Endpoint, error)
}
