package attendance

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrClassNotFound         = errors.New("class not found")
	ErrRecordNotFound        = errors.New("attendance record not found")
	ErrNotEnrolled           = errors.New("not enrolled in this class")
	ErrNotRegistered         = errors.New("face not registered")
	ErrDuplicateIdentity     = errors.New("face already registered under another identity")
	ErrLocationNotConfigured = errors.New("class location has not been set")

	// ErrAlreadyRecorded is an idempotent success: the member already has
	// a record for the session.
	ErrAlreadyRecorded = errors.New("attendance already recorded")

	// ErrServiceUnavailable means the vision oracle could not answer. The
	// request is safe to retry later and says nothing about identity.
	ErrServiceUnavailable = errors.New("verification service busy, try again shortly")
)

// ValidationError reports a malformed or missing input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// AuthorizationError reports a caller acting outside its role.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string { return e.Reason }

// WindowClosedError reports a check-in outside the session's window.
type WindowClosedError struct {
	Reason string
}

func (e *WindowClosedError) Error() string { return e.Reason }

// OutOfRangeError carries the distance detail a client needs to guide the
// member closer.
type OutOfRangeError struct {
	Distance      float64
	AllowedRadius float64
	Room          string
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("you are %.0fm away, must be within %.0fm", e.Distance, e.AllowedRadius)
}

// RejectedError reports a failed verification: face mismatch, invalid
// code, and similar.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return e.Reason }
