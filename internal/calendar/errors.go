package calendar

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes reconciliation failures so callers can map them to
// transport-level responses without string matching.
type ErrorCode string

const (
	// ErrCodeResolution indicates a base/instance link could not be resolved,
	// or a series-scoped operation was applied to a non-recurring event.
	ErrCodeResolution ErrorCode = "RESOLUTION"

	// ErrCodeShape indicates a malformed external payload, e.g. an item with
	// no usable identifier.
	ErrCodeShape ErrorCode = "SHAPE"

	// ErrCodeStore wraps an error propagated from the persistence layer.
	ErrCodeStore ErrorCode = "STORE"
)

// Error is the typed domain error returned by all public entry points.
type Error struct {
	Code    ErrorCode
	Message string
	EventID string
	Err     error
}

func (e *Error) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("%s: %s (event=%s)", e.Code, e.Message, e.EventID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newResolutionError(msg, eventID string) *Error {
	return &Error{Code: ErrCodeResolution, Message: msg, EventID: eventID}
}

func newShapeError(msg, eventID string) *Error {
	return &Error{Code: ErrCodeShape, Message: msg, EventID: eventID}
}

func wrapStoreError(op string, err error) *Error {
	return &Error{Code: ErrCodeStore, Message: op, Err: err}
}

// IsResolutionError reports whether err is a resolution failure.
func IsResolutionError(err error) bool {
	return hasCode(err, ErrCodeResolution)
}

// IsShapeError reports whether err is a malformed-payload failure.
func IsShapeError(err error) bool {
	return hasCode(err, ErrCodeShape)
}

// IsStoreError reports whether err originated in the persistence layer.
func IsStoreError(err error) bool {
	return hasCode(err, ErrCodeStore)
}

func hasCode(err error, code ErrorCode) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}
