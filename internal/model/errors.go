package model

import (
	"errors"
	"fmt"
)

// ErrNotFound marks lookups for unknown job or alert ids (HTTP 404).
var ErrNotFound = errors.New("not found")

// ErrValidation marks missing or malformed input (HTTP 400).
var ErrValidation = errors.New("validation failed")

// InvalidTransitionError rejects a job action not legal for the current
// status. The job is left unchanged.
type InvalidTransitionError struct {
	Current   JobStatus
	Attempted JobAction
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s a %s job", e.Attempted, e.Current)
}
