package domain

import (
	"fmt"
	"net/url"
	"time"
)

// MinSecretLen is the minimum endpoint secret size in bytes.
const MinSecretLen = 16

// Header is a custom header attached to every delivery for an endpoint.
// Headers are an ordered list; names are unique per endpoint.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RetryPolicy controls business-level retry scheduling for an endpoint.
// It is copied onto each delivery record at creation time, so changing an
// endpoint's policy does not affect in-flight deliveries.
type RetryPolicy struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	Multiplier   float64       `json:"multiplier"`
	MaxDelay     time.Duration `json:"max_delay"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Minute,
	}
}

func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be >= 1", ErrInvalidInput)
	}
	if p.Multiplier <= 1.0 {
		return fmt.Errorf("%w: multiplier must be > 1.0", ErrInvalidInput)
	}
	if p.InitialDelay <= 0 {
		return fmt.Errorf("%w: initial_delay must be > 0", ErrInvalidInput)
	}
	if p.MaxDelay < p.InitialDelay {
		return fmt.Errorf("%w: max_delay must be >= initial_delay", ErrInvalidInput)
	}
	return nil
}

// Endpoint is a registered external HTTP target subscribed to one or more
// event types. Endpoints are managed by the portal's admin API and are
// read-only to the delivery engine.
type Endpoint struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	URL         string        `json:"url"`
	EventTypes  []string      `json:"event_types"`
	Secret      []byte        `json:"-"` // never serialized, never logged
	Headers     []Header      `json:"headers,omitempty"`
	Timeout     time.Duration `json:"timeout"`
	RetryPolicy RetryPolicy   `json:"retry_policy"`
	Active      bool          `json:"active"`
	CreatedAt   time.Time     `json:"created_at"`
}

// SubscribesTo reports whether the endpoint is subscribed to the given
// event type. A trailing "*" in a subscription acts as a prefix wildcard,
// and a bare "*" matches everything.
func (e *Endpoint) SubscribesTo(eventType string) bool {
	for _, t := range e.EventTypes {
		if t == "*" || t == eventType {
			return true
		}
		if matchWildcard(t, eventType) {
			return true
		}
	}
	return false
}

func matchWildcard(pattern, eventType string) bool {
	if len(pattern) == 0 {
		return len(eventType) == 0
	}

	if pattern[len(pattern)-1] == '*' {
		prefix := pattern[:len(pattern)-1]
		return len(eventType) >= len(prefix) && eventType[:len(prefix)] == prefix
	}

	return pattern == eventType
}

func (e *Endpoint) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: endpoint id is required", ErrInvalidInput)
	}
	if len(e.Secret) < MinSecretLen {
		return fmt.Errorf("%w: secret must be at least %d bytes", ErrInvalidInput, MinSecretLen)
	}
	u, err := url.Parse(e.URL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: url must be absolute http or https", ErrInvalidInput)
	}
	return e.RetryPolicy.Validate()
}
