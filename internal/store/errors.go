package store

import (
	"fmt"
	"net/http"

	"github.com/tallyapp/tally-server/internal/catalog"
)

// Error is a store failure carrying the HTTP status it surfaces as.
type Error struct {
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code, so a reworded sentinel still satisfies errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// HTTPCode returns the HTTP status code associated with this error.
func (e *Error) HTTPCode() int { return e.Code }

// Errorf returns a copy of e with a formatted message.
func (e *Error) Errorf(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...), Err: e.Err}
}

// Sentinel errors.
var (
	ErrNotFound     = &Error{Code: http.StatusNotFound, Message: "record not found"}
	ErrInvalidInput = &Error{Code: http.StatusBadRequest, Message: "invalid input"}
)

// CheckScope rejects kinds outside the catalog and empty owners. Every
// RecordStore implementation runs it before touching storage.
func CheckScope(kind catalog.Kind, ownerID string) error {
	if !catalog.IsKnown(kind) {
		return ErrInvalidInput.Errorf("unknown entity kind %q", kind)
	}
	if ownerID == "" {
		return ErrInvalidInput.Errorf("owner id is required")
	}
	return nil
}
