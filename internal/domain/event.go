package domain

import (
	"encoding/json"
	"time"
)

// Event is an immutable fact produced by the portal's business services
// (tokenization bridge, marketing, reporting). Events are never mutated
// after creation; the delivery engine only reads them.
type Event struct {
	ID         string          `json:"eventId"`
	Type       string          `json:"eventType"`
	EntityID   string          `json:"entityId"`
	EntityType string          `json:"entityType"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurredAt"`
}

func (e *Event) Validate() error {
	if e.ID == "" || e.Type == "" {
		return ErrInvalidInput
	}
	return nil
}
