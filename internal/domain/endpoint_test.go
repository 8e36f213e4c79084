package domain

import (
	"testing"
	"time"
)

func validEndpoint() *Endpoint {
	return &Endpoint{
		ID:          "ep_1",
		Name:        "billing receiver",
		URL:         "https://example.com/hooks",
		EventTypes:  []string{"invoice.created"},
		Secret:      []byte("0123456789abcdef"),
		Timeout:     10 * time.Second,
		RetryPolicy: DefaultRetryPolicy(),
		Active:      true,
	}
}

func TestEndpoint_SubscribesTo(t *testing.T) {
	tests := []struct {
		name       string
		eventTypes []string
		eventType  string
		want       bool
	}{
		{"exact match", []string{"invoice.created"}, "invoice.created", true},
		{"no match", []string{"invoice.created"}, "invoice.paid", false},
		{"wildcard all", []string{"*"}, "anything.at.all", true},
		{"prefix wildcard", []string{"invoice.*"}, "invoice.paid", true},
		{"prefix wildcard no match", []string{"invoice.*"}, "task.created", false},
		{"empty subscription list", nil, "invoice.created", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := validEndpoint()
			ep.EventTypes = tt.eventTypes
			if got := ep.SubscribesTo(tt.eventType); got != tt.want {
				t.Errorf("SubscribesTo(%q) = %v, want %v", tt.eventType, got, tt.want)
			}
		})
	}
}

func TestEndpoint_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		if err := validEndpoint().Validate(); err != nil {
			t.Errorf("Validate() = %v, want nil", err)
		}
	})

	t.Run("short secret", func(t *testing.T) {
		ep := validEndpoint()
		ep.Secret = []byte("too-short")
		if err := ep.Validate(); err == nil {
			t.Error("expected error for short secret")
		}
	})

	t.Run("relative url", func(t *testing.T) {
		ep := validEndpoint()
		ep.URL = "/hooks"
		if err := ep.Validate(); err == nil {
			t.Error("expected error for relative URL")
		}
	})

	t.Run("non-http scheme", func(t *testing.T) {
		ep := validEndpoint()
		ep.URL = "ftp://example.com/hooks"
		if err := ep.Validate(); err == nil {
			t.Error("expected error for ftp URL")
		}
	})
}

func TestRetryPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		wantErr bool
	}{
		{"default is valid", DefaultRetryPolicy(), false},
		{"zero attempts", RetryPolicy{MaxAttempts: 0, InitialDelay: time.Second, Multiplier: 2, MaxDelay: time.Minute}, true},
		{"multiplier at 1.0", RetryPolicy{MaxAttempts: 3, InitialDelay: time.Second, Multiplier: 1.0, MaxDelay: time.Minute}, true},
		{"zero initial delay", RetryPolicy{MaxAttempts: 3, InitialDelay: 0, Multiplier: 2, MaxDelay: time.Minute}, true},
		{"max below initial", RetryPolicy{MaxAttempts: 3, InitialDelay: time.Minute, Multiplier: 2, MaxDelay: time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDeliveryStatus_Terminal(t *testing.T) {
	terminal := []DeliveryStatus{DeliveryStatusDelivered, DeliveryStatusFailed, DeliveryStatusExpired}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []DeliveryStatus{DeliveryStatusPending, DeliveryStatusRetrying} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
