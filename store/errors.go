package store

import (
	"errors"
	"fmt"
	"net/http"

	kivik "github.com/go-kivik/kivik/v4"
)

// Error is a store operation failure carrying the CouchDB HTTP status.
//
// Fields:
//   - StatusCode: HTTP status from CouchDB (404, 409, 401, ...)
//   - Op: short operation tag ("get", "save", "find", "delete", ...)
//   - Reason: human-readable detail
type Error struct {
	StatusCode int
	Op         string
	Reason     string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("store %s failed (%d): %s", e.Op, e.StatusCode, e.Reason)
}

// IsNotFound reports whether the error is a 404.
func (e *Error) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsConflict reports whether the error is a 409 revision conflict.
func (e *Error) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

// IsUnauthorized reports whether the error is a 401.
func (e *Error) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsNotFound reports whether err wraps a store 404.
func IsNotFound(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.IsNotFound()
}

// IsConflict reports whether err wraps a store 409. Claim loops treat a
// conflict as "another worker won".
func IsConflict(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.IsConflict()
}

// wrapKivik converts a Kivik error into *Error, preserving the status code.
// Non-HTTP errors (network, serialization) are wrapped as plain errors.
func wrapKivik(op string, err error) error {
	if err == nil {
		return nil
	}
	if status := kivik.HTTPStatus(err); status != 0 {
		return &Error{
			StatusCode: status,
			Op:         op,
			Reason:     err.Error(),
		}
	}
	return fmt.Errorf("store %s failed: %w", op, err)
}
