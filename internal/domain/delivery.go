package domain

import "time"

type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusRetrying  DeliveryStatus = "retrying"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusExpired   DeliveryStatus = "expired"
)

// Terminal reports whether no further transition may leave this status.
func (s DeliveryStatus) Terminal() bool {
	switch s {
	case DeliveryStatusDelivered, DeliveryStatusFailed, DeliveryStatusExpired:
		return true
	}
	return false
}

// DeliveryRecord is the durable state of one (event, endpoint) delivery,
// owning its full attempt history.
//
// Invariants: AttemptCount only increases, never past MaxAttempts; status
// transitions are monotonic (a terminal record is never mutated again);
// NextRetryAt is set only while status is retrying.
type DeliveryRecord struct {
	ID           string         `json:"delivery_id"`
	EndpointID   string         `json:"endpoint_id"`
	EventID      string         `json:"event_id"`
	EventType    string         `json:"event_type"`
	Payload      []byte         `json:"payload"` // the exact bytes signed, kept for replay/audit
	Signature    string         `json:"signature"`
	Status       DeliveryStatus `json:"status"`
	AttemptCount int            `json:"attempt_count"`
	MaxAttempts  int            `json:"max_attempts"`
	ResponseCode *int           `json:"response_code,omitempty"`
	ResponseBody *string        `json:"response_body,omitempty"`
	LastError    *string        `json:"last_error,omitempty"`
	NextRetryAt  *time.Time     `json:"next_retry_at,omitempty"`
	DeliveredAt  *time.Time     `json:"delivered_at,omitempty"`
	FailedAt     *time.Time     `json:"failed_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (r *DeliveryRecord) CanRetry() bool {
	return r.AttemptCount < r.MaxAttempts
}
