// Package storage defines sentinel errors shared by job store backends.
package storage

import "errors"

// ErrNotFound is returned for unknown job IDs.
var ErrNotFound = errors.New("job not found")

// ErrInvalidTransition is returned when a lifecycle update targets a job not
// in the expected state.
var ErrInvalidTransition = errors.New("invalid job state transition")
