package faults

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the core. Callers match with errors.Is.
var (
	// ErrStaleSample marks a sample older than the cached value for its
	// point. Expected under at-least-once delivery; dropped, never logged
	// as an error.
	ErrStaleSample = errors.New("stale sample")

	// ErrDeviceUnavailable marks a failed device read/write cycle. The
	// cycle is skipped and retried on the next tick.
	ErrDeviceUnavailable = errors.New("device unavailable")

	ErrNotFound = errors.New("not found")
)

// ConfigurationError is raised at configuration-apply time, never during a
// running tick.
type ConfigurationError struct {
	Object string
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error on %s.%s: %s", e.Object, e.Field, e.Reason)
}

// ValidationError is a structured failure returned to a caller without any
// partial state mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Reason)
}

func Config(object, field, reason string) *ConfigurationError {
	return &ConfigurationError{Object: object, Field: field, Reason: reason}
}

func Validation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
