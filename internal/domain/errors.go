package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "connect", "read", "write")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// GatewayError is a request the exchange answered with an error.
type GatewayError struct {
	Op     string // "place", "cancel", "order", "account"
	Status int    // HTTP status, 0 if the exchange never answered
	Msg    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: status=%d: %s", e.Op, e.Status, e.Msg)
}

// IsRetriable treats throttling and server-side failures as transient.
func (e *GatewayError) IsRetriable() bool {
	return e.Status == 429 || e.Status >= 500
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// CorruptStateError means a snapshot exists but cannot be parsed.
// It matches ErrCorruptState with errors.Is.
type CorruptStateError struct {
	Path string
	Err  error
}

func (e *CorruptStateError) Error() string {
	return "corrupt state " + e.Path + ": " + e.Err.Error()
}

func (e *CorruptStateError) Unwrap() error {
	return e.Err
}

func (e *CorruptStateError) Is(target error) bool {
	return target == ErrCorruptState
}

var (
	// ErrNoState is returned by a state store that has never been saved to.
	ErrNoState = errors.New("no saved state")

	// ErrCorruptState is returned when a snapshot exists but is unreadable. Fatal.
	ErrCorruptState = errors.New("corrupt state")

	// ErrLadderComplete is returned once the ladder reached the terminal step.
	ErrLadderComplete = errors.New("ladder complete")

	// ErrUnknownStep is returned when a step id is not part of the ladder.
	ErrUnknownStep = errors.New("unknown ladder step")

	// ErrOrderNotFound is returned by a gateway asked about an order it does not know.
	ErrOrderNotFound = errors.New("order not found")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
