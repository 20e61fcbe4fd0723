package input

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of an input failure
type ErrorType int

const (
	// ErrTypeDriver indicates the button driver could not be opened or read
	ErrTypeDriver ErrorType = iota
	// ErrTypeIndicator indicates the LED indicator failed
	ErrTypeIndicator
	// ErrTypeAction indicates an action could not be carried out
	ErrTypeAction
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeDriver:
		return "Button Driver Error"
	case ErrTypeIndicator:
		return "Indicator Error"
	case ErrTypeAction:
		return "Action Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// Error is an input-side failure. Driver errors are fatal at startup;
// indicator errors are logged and ignored.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// NewDriverError creates a driver error
func NewDriverError(message string, err error) *Error {
	return &Error{Type: ErrTypeDriver, Message: message, Err: err}
}

// NewIndicatorError creates an indicator error
func NewIndicatorError(message string, err error) *Error {
	return &Error{Type: ErrTypeIndicator, Message: message, Err: err}
}

// IsDriverError checks if an error is a button driver failure
func IsDriverError(err error) bool {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Type == ErrTypeDriver
	}
	return false
}

// IsIndicatorError checks if an error is an LED indicator failure
func IsIndicatorError(err error) bool {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Type == ErrTypeIndicator
	}
	return false
}
