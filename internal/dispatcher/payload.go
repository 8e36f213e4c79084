package dispatcher

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/AbdullahHassan176/hookrelay/internal/domain"
	"github.com/AbdullahHassan176/hookrelay/internal/signature"
)

// envelope is the canonical wire form of one delivery. Struct field order
// fixes the key order, so the same logical event always serializes to the
// same bytes and therefore always signs identically.
type envelope struct {
	EventID    string          `json:"eventId"`
	EventType  string          `json:"eventType"`
	EntityID   string          `json:"entityId"`
	EntityType string          `json:"entityType"`
	Data       json.RawMessage `json:"data"`
	Timestamp  string          `json:"timestamp"`
}

// buildPayload returns the canonical bytes the delivery record stores for
// replay and the hex signature over exactly those bytes.
func buildPayload(event *domain.Event, secret []byte) (payload []byte, sig string, err error) {
	data := event.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	payload, err = json.Marshal(envelope{
		EventID:    event.ID,
		EventType:  event.Type,
		EntityID:   event.EntityID,
		EntityType: event.EntityType,
		Data:       data,
		Timestamp:  event.OccurredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to serialize payload: %w", err)
	}
	return payload, signature.Sign(payload, secret), nil
}

// signedBody splices the signature into the canonical payload as a trailing
// field. Receivers may verify either this embedded copy or the X-Signature
// header; both cover the payload without the signature field.
func signedBody(payload []byte, sig string) []byte {
	body := make([]byte, 0, len(payload)+len(sig)+16)
	body = append(body, payload[:len(payload)-1]...)
	body = append(body, fmt.Sprintf(`,"signature":%q}`, sig)...)
	return body
}
