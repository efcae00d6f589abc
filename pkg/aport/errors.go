package aport

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrConfiguration is returned when a client cannot be constructed from
	// the supplied configuration (e.g. no API key).
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidArgument is returned when a call carries malformed parameters.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTransport is returned when the verification service could not be
	// reached (connection, DNS, TLS, timeout).
	ErrTransport = errors.New("transport failure")

	// ErrService is returned when the verification service answered with a
	// non-2xx status.
	ErrService = errors.New("service error")
)

// ConfigError is returned at construction time when the client configuration
// is invalid. It is never produced by a verification call.
type ConfigError struct {
	// Reason explains what is missing or malformed.
	Reason string
}

// Error returns the error message.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("aport: %s", e.Reason)
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrConfiguration).
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// ArgumentError is returned when a verification call carries malformed
// parameters. It is fatal to that call only.
type ArgumentError struct {
	// Field names the offending parameter.
	Field string
	// Reason explains why the value was rejected.
	Reason string
}

// Error returns the error message.
func (e *ArgumentError) Error() string {
	return fmt.Sprintf("aport: invalid %s: %s", e.Field, e.Reason)
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrInvalidArgument).
func (e *ArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// TransportError is returned when the request never produced an HTTP
// response: connection refused, DNS failure, TLS failure, or timeout.
type TransportError struct {
	// URL is the request target.
	URL string
	// Err is the underlying transport error.
	Err error
}

// Error returns the error message.
func (e *TransportError) Error() string {
	return fmt.Sprintf("aport: request to %s failed: %v", e.URL, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrTransport).
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// ServiceError is returned when the verification service answered with a
// non-2xx status. Code and Message are filled from the structured error body
// when the service sent one.
type ServiceError struct {
	// Status is the HTTP status code.
	Status int
	// Code is the machine-readable error code from the response body, if any.
	Code string
	// Message is the human-readable message from the response body, if any.
	Message string
	// Body is the raw response body.
	Body string
}

// Error returns the error message.
func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("aport: service returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("aport: service returned %d: %s", e.Status, e.Body)
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrService).
func (e *ServiceError) Is(target error) bool {
	return target == ErrService
}
