package nodeconfig

import (
	"errors"
	"fmt"
)

// StoreErrorType represents the category of a store failure
type StoreErrorType int

const (
	// ErrTypeNotFound indicates the field was absent (handled by seeding)
	ErrTypeNotFound StoreErrorType = iota
	// ErrTypeIO indicates the underlying store failed a read, write or commit
	ErrTypeIO
	// ErrTypeInvalidValue indicates a value out of range for the field
	ErrTypeInvalidValue
	// ErrTypeReadOnly indicates a write to a field only Load may change
	ErrTypeReadOnly
	// ErrTypeIdentityUnreadable indicates identity material exists but could not be read
	ErrTypeIdentityUnreadable
)

// String returns a human-readable name for the error type
func (et StoreErrorType) String() string {
	switch et {
	case ErrTypeNotFound:
		return "Not Found"
	case ErrTypeIO:
		return "Storage I/O Error"
	case ErrTypeInvalidValue:
		return "Invalid Value"
	case ErrTypeReadOnly:
		return "Read-Only Field"
	case ErrTypeIdentityUnreadable:
		return "Identity Unreadable"
	default:
		return fmt.Sprintf("StoreErrorType(%d)", et)
	}
}

// StoreError describes a failure on one field of the record.
type StoreError struct {
	Type      StoreErrorType
	Field     Field
	Message   string
	Err       error
	Retryable bool
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s (caused by: %v)", e.Type, e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Type, e.Field, e.Message)
}

// Unwrap returns the underlying error for error chain inspection
func (e *StoreError) Unwrap() error {
	return e.Err
}

func newIOError(f Field, message string, err error) *StoreError {
	return &StoreError{
		Type:      ErrTypeIO,
		Field:     f,
		Message:   message,
		Err:       err,
		Retryable: true,
	}
}

func newInvalidValueError(f Field, message string) *StoreError {
	return &StoreError{
		Type:    ErrTypeInvalidValue,
		Field:   f,
		Message: message,
	}
}

func hasType(err error, t StoreErrorType) bool {
	// errors.Join results are walked by errors.As, but only the first match
	// is returned, so unpack joins explicitly.
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if hasType(e, t) {
				return true
			}
		}
		return false
	}
	var se *StoreError
	if errors.As(err, &se) {
		return se.Type == t
	}
	return false
}

// IsIOError checks if an error is a storage I/O error
func IsIOError(err error) bool {
	return hasType(err, ErrTypeIO)
}

// IsInvalidValueError checks if an error is a validation error
func IsInvalidValueError(err error) bool {
	return hasType(err, ErrTypeInvalidValue)
}

// IsReadOnlyError checks if an error is a write to a read-only field
func IsReadOnlyError(err error) bool {
	return hasType(err, ErrTypeReadOnly)
}

// IsIdentityError checks if identity material could not be read
func IsIdentityError(err error) bool {
	return hasType(err, ErrTypeIdentityUnreadable)
}
