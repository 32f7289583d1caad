package model

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientStore marks a store failure the caller should retry:
	// unavailability, throttling, timeouts or an open circuit.
	ErrTransientStore = errors.New("store temporarily unavailable")

	// ErrMalformedEvent marks a change event missing required key fields.
	ErrMalformedEvent = errors.New("malformed change event")

	// ErrBarNotFound is returned when the addressed bar does not exist.
	ErrBarNotFound = errors.New("price bar not found")
)

// MalformedEventError describes why a change event was rejected.
type MalformedEventError struct {
	EventID string
	Reason  string
}

func (e *MalformedEventError) Error() string {
	if e.EventID == "" {
		return "malformed change event: " + e.Reason
	}
	return fmt.Sprintf("malformed change event %s: %s", e.EventID, e.Reason)
}

func (e *MalformedEventError) Unwrap() error { return ErrMalformedEvent }

// TransientStoreError wraps a retryable store failure with the operation
// that produced it.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransientStore) hold for every TransientStoreError.
func (e *TransientStoreError) Is(target error) bool {
	return target == ErrTransientStore
}

// Transient wraps err as a TransientStoreError. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientStoreError{Op: op, Err: err}
}

// IsTransient reports whether err should be retried via redelivery.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientStore)
}
