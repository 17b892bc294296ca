package container

import "errors"

// StoreError represents a domain error from container operations.
//
// These are business logic errors (path not found, selection out of bounds,
// lock not held, etc.) as opposed to infrastructure errors (disk failure,
// network error). Callers translate StoreError codes to whatever surface
// they expose (CLI exit codes, GUI dialogs, protocol errors).
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the container path related to the error (if applicable)
	Path string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

// ErrorCode represents the category of a container error.
//
// The categories mirror the failure taxonomy of the tree/lock/container
// contract: every operation either succeeds or surfaces exactly one of
// these codes to the caller. Nothing is retried automatically except lock
// acquisition's bounded polling (see pkg/lock).
type ErrorCode int

const (
	// ErrAccess indicates the backing file/bucket/database could not be
	// opened: missing path in read modes, permission failure, or an
	// unrecognized container format.
	ErrAccess ErrorCode = iota

	// ErrNotFound indicates the requested node path doesn't exist
	ErrNotFound

	// ErrExists indicates a node with the name already exists in its group
	ErrExists

	// ErrLocked indicates a write was attempted without holding the
	// write lock for the backing file
	ErrLocked

	// ErrLockTimeout indicates the write lock could not be acquired
	// within the caller's deadline
	ErrLockTimeout

	// ErrShape indicates a shape or dtype mismatch on write, including
	// writes past the extent of an axis with a bounded maximum shape
	ErrShape

	// ErrOutOfBounds indicates a slab selection outside the declared extent
	ErrOutOfBounds

	// ErrMemoryLimit indicates whole-array access was attempted on a
	// field whose byte size exceeds the configured memory ceiling
	ErrMemoryLimit

	// ErrNotGroup indicates operation expected a group but got a field or link
	ErrNotGroup

	// ErrNotField indicates operation expected a field but got a group or link
	ErrNotField

	// ErrReadOnly indicates a mutation was attempted on a read-only container
	ErrReadOnly

	// ErrClosed indicates the container has already been closed
	ErrClosed

	// ErrInvalidArgument indicates invalid parameters were provided
	// Examples: empty name, name containing '/', zero-length shape axis
	ErrInvalidArgument

	// ErrIO indicates an I/O error from the underlying storage
	ErrIO
)

// String returns the symbolic name of the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrAccess:
		return "access"
	case ErrNotFound:
		return "not-found"
	case ErrExists:
		return "exists"
	case ErrLocked:
		return "locked"
	case ErrLockTimeout:
		return "lock-timeout"
	case ErrShape:
		return "shape"
	case ErrOutOfBounds:
		return "out-of-bounds"
	case ErrMemoryLimit:
		return "memory-limit"
	case ErrNotGroup:
		return "not-group"
	case ErrNotField:
		return "not-field"
	case ErrReadOnly:
		return "read-only"
	case ErrClosed:
		return "closed"
	case ErrInvalidArgument:
		return "invalid-argument"
	case ErrIO:
		return "io"
	default:
		return "unknown"
	}
}

// NewError creates a StoreError with the given code, message and path.
func NewError(code ErrorCode, message, path string) *StoreError {
	return &StoreError{Code: code, Message: message, Path: path}
}

// CodeOf extracts the ErrorCode from an error, returning ok=false when the
// error is not a StoreError (infrastructure errors, context cancellation).
func CodeOf(err error) (ErrorCode, bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}

// IsCode reports whether err is a StoreError with the given code.
func IsCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
