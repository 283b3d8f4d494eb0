package domain

import (
	"errors"
	"strings"
)

// Error taxonomy. Callers match with errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrConfig       = errors.New("config error")
	ErrGeneration   = errors.New("generation error")
	ErrTransport    = errors.New("transport error")
	ErrThrottled    = errors.New("throttled")
	ErrUnknownEvent = errors.New("unknown event type")
)

// ValidationError lists why an inbound message was rejected.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "validation error: " + strings.Join(e.Violations, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConfigError lists the offending bot definitions found at load time.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "config error: " + strings.Join(e.Problems, "; ")
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// Error codes reported to clients.
const (
	CodeValidation   = "validation_error"
	CodeNotFound     = "not_found"
	CodeInvalidState = "invalid_state"
	CodeThrottled    = "throttled"
	CodeInternal     = "internal_error"
)

// ErrorCode classifies err for clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrThrottled):
		return CodeThrottled
	default:
		return CodeInternal
	}
}
