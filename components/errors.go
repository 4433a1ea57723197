package components

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrCircuitOpen is returned while a provider circuit breaker is open
	ErrCircuitOpen = errors.New("circuit open")
	// ErrCancelled marks a run aborted by its caller
	ErrCancelled = errors.New("run cancelled")
	// ErrUnsupportedRole is returned when a provider cannot serve a model role
	ErrUnsupportedRole = errors.New("unsupported role for provider")
)

// ValidationError model output failed its schema check
type ValidationError struct {
	// Schema is the name of the expected schema
	Schema string
	// Field is the offending field when known
	Field string
	// Raw is the raw model output
	Raw string
	Err error
	// Escalated marks an error whose corrective re-prompt also failed
	Escalated bool
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("validation failed for %s", e.Schema)
	if e.Field != "" {
		msg += fmt.Sprintf(" (field %s)", e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ProviderError upstream model provider failure
type ProviderError struct {
	Provider    string
	Model       string
	StatusCode  int
	Transient   bool
	CircuitOpen bool
	Err         error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.CircuitOpen {
		kind = "circuit open"
	} else if e.Transient {
		kind = "transient"
	}
	msg := fmt.Sprintf("provider %s/%s %s failure", e.Provider, e.Model, kind)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// RetrievalError knowledge index or query embedding unreachable
type RetrievalError struct {
	Operation string
	Query     string
	Err       error
}

func (e *RetrievalError) Error() string {
	if e.Query != "" {
		return fmt.Sprintf("retrieval %s failed for %q: %v", e.Operation, e.Query, e.Err)
	}
	return fmt.Sprintf("retrieval %s failed: %v", e.Operation, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// InputError malformed caller input
type InputError struct {
	Field  string
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	msg := fmt.Sprintf("invalid input %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InputError) Unwrap() error {
	return e.Err
}

// CancellationError run aborted by the caller
type CancellationError struct {
	Step string
	Err  error
}

func (e *CancellationError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("cancelled during %s", e.Step)
	}
	return "cancelled"
}

func (e *CancellationError) Unwrap() error {
	if e.Err != nil {
		return errors.Join(ErrCancelled, e.Err)
	}
	return ErrCancelled
}

// IsRetryable reports whether a node may be re-invoked after err
func IsRetryable(err error) bool {
	if err == nil || IsCancellation(err) {
		return false
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return !verr.Escalated
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Transient && !perr.CircuitOpen
	}
	return false
}

// IsCancellation reports whether err stems from caller cancellation
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	var cerr *CancellationError
	return errors.As(err, &cerr) || errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// IsTransient classifies an arbitrary transport error
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}

// TransientStatus reports whether an HTTP status code is worth retrying
func TransientStatus(code int) bool {
	switch {
	case code == 408, code == 409, code == 429:
		return true
	case code >= 500:
		return true
	}
	return false
}
