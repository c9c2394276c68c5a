// Package domain contains domain errors used throughout the application.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrBackpressure       = errors.New("backpressure: queue is full")
	ErrResourceExhausted  = errors.New("resource exhausted")
	ErrInvalidChannelName = errors.New("invalid channel name")
	ErrTransportClosed    = errors.New("transport closed")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrHubNotRunning      = errors.New("broadcast hub is not running")
)

// Error codes for client responses.
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeBackpressure       = "BACKPRESSURE"
	ErrCodeResourceExhausted  = "RESOURCE_EXHAUSTED"
	ErrCodeInvalidChannelName = "INVALID_CHANNEL_NAME"
	ErrCodeInvalidPayload     = "INVALID_PAYLOAD"
	ErrCodeInvalidCommand     = "INVALID_COMMAND"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// ErrorCode maps an error to the code reported to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrTransportClosed):
		return ErrCodeNotFound
	case errors.Is(err, ErrUnauthorized):
		return ErrCodeUnauthorized
	case errors.Is(err, ErrBackpressure):
		return ErrCodeBackpressure
	case errors.Is(err, ErrResourceExhausted):
		return ErrCodeResourceExhausted
	case errors.Is(err, ErrInvalidChannelName):
		return ErrCodeInvalidChannelName
	case errors.Is(err, ErrInvalidPayload):
		return ErrCodeInvalidPayload
	default:
		return ErrCodeInternalError
	}
}

// ChannelError represents a failed operation on a named channel.
type ChannelError struct {
	Op      string // Operation that failed
	Channel string // Channel name as supplied by the caller
	Err     error  // Underlying error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Channel, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// NewChannelError creates a new ChannelError.
func NewChannelError(op, channel string, err error) *ChannelError {
	return &ChannelError{
		Op:      op,
		Channel: channel,
		Err:     err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap lets validation failures match ErrInvalidPayload.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidPayload
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
