package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a job or its archive does not exist or is
	// not visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an active job already exists for the same
	// organization, company, user and project.
	ErrConflict = errors.New("an active backup already exists for this project")
	// ErrNotReady is returned when a download is attempted before completion.
	ErrNotReady = errors.New("backup is not completed")
	// ErrInvalidTransition is returned when a status change violates the job
	// state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError describes a malformed request rejected before any write.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsTransient reports whether err is marked as retryable by its source.
func IsTransient(err error) bool {
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	return false
}
