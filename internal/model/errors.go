package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an operation targets a document id that
	// does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicate is returned by Insert when a document with the same
	// pdf_url_sha256 is already registered.
	ErrDuplicate = errors.New("document already registered")
	// ErrInvalidTransition matches every *TransitionError via errors.Is.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// TransitionError reports a guarded transition whose precondition did not
// hold. Actual is the status observed after the conditional update missed.
type TransitionError struct {
	ID       string
	Expected Status
	Actual   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("document %s: expected status %q, found %q", e.ID, e.Expected, e.Actual)
}

// Is lets errors.Is(err, ErrInvalidTransition) match.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
