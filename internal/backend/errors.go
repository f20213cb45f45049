package backend

import (
	"errors"
	"fmt"
)

// Error represents an error response from the agent server with the HTTP
// status code and the server's error message.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend: server error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a 404. The store records this
// distinctly so consumers can render a terminal empty state instead of a
// retry affordance.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 404
	}
	return false
}

// IsConflict returns true if the error is a 409 (e.g. cancelling a call
// that already finished).
func IsConflict(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 409
	}
	return false
}
