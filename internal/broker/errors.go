package broker

import (
	"errors"
	"fmt"
)

// Sentinel errors for correlated calls.
// Use errors.Is() to classify a failed call.
var (
	// ErrTransport is returned when subscribe/publish failed terminally or
	// transient failures exhausted the retry budget.
	ErrTransport = errors.New("broker: transport failure")

	// ErrProtocol is returned for malformed responses on an owned topic or
	// requests that could not be built.
	ErrProtocol = errors.New("broker: protocol error")

	// ErrValidation is returned when a matched response reports failure or
	// lacks every required signal. Use errors.As with *ValidationError to
	// reach the response.
	ErrValidation = errors.New("broker: response validation failed")

	// ErrTimeout is returned when no matching response arrived in time.
	ErrTimeout = errors.New("broker: timed out waiting for response")

	// ErrCancelled is returned when the caller cancelled the call.
	ErrCancelled = errors.New("broker: call cancelled")

	// ErrClosed is returned by calls started after Close.
	ErrClosed = errors.New("broker: closed")
)

// Synthesized failure reasons used when the response carries no message.
const (
	ReasonSuccessFalse  = "success flag false"
	ReasonSignalMissing = "required signal missing"
)

// ValidationError carries the parsed response of a failed call for
// diagnostics.
type ValidationError struct {
	Key      string
	Reason   string
	Response *Response
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Key, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
