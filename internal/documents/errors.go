package documents

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrStorage           = errors.New("storage error")
	ErrPersistence       = errors.New("persistence error")
	ErrIndex             = errors.New("index error")
	ErrNotFound          = errors.New("not found")
	ErrDeleteFailed      = errors.New("delete failed")
	ErrInvalidInput      = errors.New("invalid input")

	// ErrDuplicateStorageKey is returned by repos when storage_key is reused.
	ErrDuplicateStorageKey = errors.New("duplicate storage key")
)

// Error is returned by Service operations. It matches its Kind (and, for
// ErrDeleteFailed, ErrPersistence) with errors.Is but never exposes the
// backend error it was built from.
type Error struct {
	Op   string
	Kind error
	msg  string
}

func newError(op string, kind error, cause error) *Error {
	e := &Error{Op: op, Kind: kind}
	if cause != nil {
		e.msg = cause.Error()
	}
	return e
}

func (e *Error) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.msg)
}

// Unwrap exposes the taxonomy sentinels only.
func (e *Error) Unwrap() []error {
	if e.Kind == ErrDeleteFailed {
		return []error{ErrDeleteFailed, ErrPersistence}
	}
	return []error{e.Kind}
}

// Retryable reports whether repeating the whole call may succeed. Backend
// failures are retryable; client errors and not-found are not.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrUnsupportedFormat), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNotFound):
		return false
	case errors.Is(err, ErrDeleteFailed), errors.Is(err, ErrPersistence), errors.Is(err, ErrStorage), errors.Is(err, ErrIndex):
		return true
	default:
		return false
	}
}

// KindName returns a short label for err's kind, used in metrics and logs.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrDeleteFailed):
		return "delete_failed"
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrStorage):
		return "storage"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrIndex):
		return "index"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}
