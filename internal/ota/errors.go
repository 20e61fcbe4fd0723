package ota

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of an OTA failure
type ErrorType int

const (
	// ErrTypeTransportOpen indicates the stream could not be opened
	ErrTypeTransportOpen ErrorType = iota
	// ErrTypeInvalidLength indicates a missing or non-positive declared length
	ErrTypeInvalidLength
	// ErrTypeStreamRead indicates the stream failed or ended early
	ErrTypeStreamRead
	// ErrTypeFlashWrite indicates the partition rejected a write
	ErrTypeFlashWrite
	// ErrTypeVerify indicates the finished image failed verification
	ErrTypeVerify
	// ErrTypePartition indicates the partition table could not be read or updated
	ErrTypePartition
	// ErrTypeBusy indicates another session is running
	ErrTypeBusy
	// ErrTypeCancelled indicates the context ended while connecting
	ErrTypeCancelled
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeTransportOpen:
		return "Transport Open Error"
	case ErrTypeInvalidLength:
		return "Invalid Length"
	case ErrTypeStreamRead:
		return "Stream Read Error"
	case ErrTypeFlashWrite:
		return "Flash Write Error"
	case ErrTypeVerify:
		return "Verification Error"
	case ErrTypePartition:
		return "Partition Error"
	case ErrTypeBusy:
		return "Update In Progress"
	case ErrTypeCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// Error is the terminal error of a failed session.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
	// Written is how many bytes reached the partition before the failure.
	Written   uint64
	Retryable bool
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

func newError(t ErrorType, message string, err error) *Error {
	return &Error{
		Type:      t,
		Message:   message,
		Err:       err,
		Retryable: t == ErrTypeTransportOpen || t == ErrTypeStreamRead || t == ErrTypeBusy,
	}
}

// ErrorTypeOf returns the type of an OTA error and whether err is one.
func ErrorTypeOf(err error) (ErrorType, bool) {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Type, true
	}
	return 0, false
}

func isType(err error, t ErrorType) bool {
	got, ok := ErrorTypeOf(err)
	return ok && got == t
}

// IsBusyError checks if another session was running
func IsBusyError(err error) bool { return isType(err, ErrTypeBusy) }

// IsInvalidLengthError checks if the declared length was rejected
func IsInvalidLengthError(err error) bool { return isType(err, ErrTypeInvalidLength) }

// IsStreamReadError checks if the download failed mid-stream
func IsStreamReadError(err error) bool { return isType(err, ErrTypeStreamRead) }

// IsFlashWriteError checks if the partition rejected a write
func IsFlashWriteError(err error) bool { return isType(err, ErrTypeFlashWrite) }

// IsTransportOpenError checks if the stream never opened
func IsTransportOpenError(err error) bool { return isType(err, ErrTypeTransportOpen) }

// IsRetryable checks if an error might succeed on a later attempt
func IsRetryable(err error) bool {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Retryable
	}
	return false
}
