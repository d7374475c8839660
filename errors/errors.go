// Package errors provides standardized error handling for ThingBridge
// components. It includes error classification, the bridge's error taxonomy,
// and helper functions for consistent error wrapping across the system.
package errors

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Bridge error taxonomy. The pool, exchange and gateway layers agree on
// these sentinels; the HTTP layer maps them to status codes.
var (
	// ErrUnknownThing indicates no connection handle was ever registered
	// for the requested thing id
	ErrUnknownThing = errors.New("unknown thing")

	// ErrThingRemoved indicates the thing was unregistered while calls
	// were still in flight
	ErrThingRemoved = errors.New("thing removed")

	// ErrHandshakeTimeout indicates the remote end did not acknowledge
	// the handshake within the bounded handshake timeout
	ErrHandshakeTimeout = errors.New("handshake timeout")

	// ErrExchangeTimeout indicates no reply was observed within the
	// envelope's timeout; the correlation id is abandoned
	ErrExchangeTimeout = errors.New("exchange timeout")

	// ErrConnectionAborted indicates the peer is confirmed gone; the pool
	// schedules an asynchronous rebind and the error surfaces immediately
	ErrConnectionAborted = errors.New("connection aborted")

	// ErrConnectionError indicates a recoverable transport failure; the
	// exchange retries the same envelope exactly once after a rebind
	ErrConnectionError = errors.New("connection error")

	// ErrHandleBroken indicates a handle observed in the Broken state;
	// callers must request a rebind before retrying
	ErrHandleBroken = errors.New("connection handle broken")

	// Routing-level errors
	ErrNotFound         = errors.New("resource not found")
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrUnauthorized     = errors.New("origin not allowed")

	// Data errors
	ErrSerialization = errors.New("serialization failed")
	ErrValidation    = errors.New("payload validation failed")

	// Lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Connection and configuration errors
	ErrNoConnection  = errors.New("no connection available")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// RemoteExecutionError carries the structured error description reported by
// the backing resource process. It is never retried: the operation reached
// the resource and the resource itself failed.
type RemoteExecutionError struct {
	ThingID   string `json:"thingID"`
	Member    string `json:"member,omitempty"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	Traceback string `json:"traceback,omitempty"`
}

// Error implements the error interface
func (re *RemoteExecutionError) Error() string {
	if re.Member != "" {
		return fmt.Sprintf("remote execution failed on %s.%s: %s: %s",
			re.ThingID, re.Member, re.Type, re.Message)
	}
	return fmt.Sprintf("remote execution failed on %s: %s: %s", re.ThingID, re.Type, re.Message)
}

// IsRemoteExecution reports whether err carries a remote application failure
func IsRemoteExecution(err error) bool {
	var re *RemoteExecutionError
	return errors.As(err, &re)
}

// AsRemoteExecution extracts the remote error description, if any
func AsRemoteExecution(err error) (*RemoteExecutionError, bool) {
	var re *RemoteExecutionError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and may be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	return errors.Is(err, ErrConnectionError) ||
		errors.Is(err, ErrConnectionAborted) ||
		errors.Is(err, ErrExchangeTimeout) ||
		errors.Is(err, ErrHandshakeTimeout) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, ErrHandleBroken)
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrShuttingDown)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrSerialization) ||
		errors.Is(err, ErrUnknownThing) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrMethodNotAllowed)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	switch {
	case IsFatal(err):
		return ErrorFatal
	case IsInvalid(err):
		return ErrorInvalid
	default:
		// Unknown errors default to transient to allow retry
		return ErrorTransient
	}
}

// newClassified creates a new classified error.
// Internal helper - use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// Sanitize returns a safe error message for external clients. Internal
// details (subjects, addresses, stack traces) stay in operator logs.
func Sanitize(err error) string {
	if err == nil {
		return "internal server error"
	}
	if re, ok := AsRemoteExecution(err); ok {
		return re.Message
	}
	switch {
	case errors.Is(err, ErrUnknownThing), errors.Is(err, ErrNotFound):
		return "resource not found"
	case errors.Is(err, ErrMethodNotAllowed):
		return "method not allowed"
	case errors.Is(err, ErrUnauthorized):
		return "origin not allowed"
	case errors.Is(err, ErrExchangeTimeout), errors.Is(err, ErrHandshakeTimeout):
		return "request timeout"
	case errors.Is(err, ErrConnectionAborted):
		return "backing resource unavailable"
	case errors.Is(err, ErrValidation):
		return "invalid request payload"
	case IsInvalid(err):
		return "invalid request"
	case IsTransient(err):
		return "service temporarily unavailable"
	default:
		return "internal server error"
	}
}

// Describe converts an error to the structured description the gateway
// serializes into response bodies and exception-shaped stream frames.
func Describe(err error) map[string]any {
	if err == nil {
		return nil
	}
	desc := map[string]any{
		"type":    TypeName(err),
		"message": err.Error(),
	}
	if re, ok := AsRemoteExecution(err); ok {
		desc["type"] = re.Type
		desc["message"] = re.Message
		if re.Traceback != "" {
			desc["traceback"] = re.Traceback
		}
	}
	return map[string]any{"exception": desc}
}

// TypeName returns the taxonomy name for an error, used in structured
// exception descriptions.
func TypeName(err error) string {
	switch {
	case errors.Is(err, ErrExchangeTimeout):
		return "ExchangeTimeout"
	case errors.Is(err, ErrHandshakeTimeout):
		return "HandshakeTimeout"
	case errors.Is(err, ErrConnectionAborted):
		return "ConnectionAborted"
	case errors.Is(err, ErrConnectionError):
		return "ConnectionError"
	case errors.Is(err, ErrUnknownThing):
		return "UnknownThing"
	case errors.Is(err, ErrThingRemoved):
		return "ThingRemoved"
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrSerialization):
		return "SerializationError"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrMethodNotAllowed):
		return "MethodNotAllowed"
	default:
		switch Classify(err) {
		case ErrorInvalid:
			return "InvalidError"
		case ErrorFatal:
			return "FatalError"
		default:
			return "TransientError"
		}
	}
}
