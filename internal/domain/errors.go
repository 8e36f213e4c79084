// Package domain contains the core business entities and logic.
package domain

import "errors"

// Sentinel errors for common domain error cases.
// These allow handlers to check error types without coupling to infrastructure.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates the input data is invalid or malformed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEndpointInactive indicates the target endpoint has been deactivated.
	// Deliveries to inactive endpoints are a configuration error, not a
	// delivery failure, and are never retried.
	ErrEndpointInactive = errors.New("endpoint inactive")

	// ErrNotSubscribed indicates the endpoint is not subscribed to the
	// event type being delivered.
	ErrNotSubscribed = errors.New("endpoint not subscribed to event type")

	// ErrTerminal indicates a state mutation was attempted on a delivery
	// record that already reached a terminal status.
	ErrTerminal = errors.New("delivery already in terminal state")
)
