package data

import "errors"

// Shared sentinel errors for job store implementations.
var (
	ErrJobNotFound    = errors.New("job not found")
	ErrResultNotFound = errors.New("result not found")
	ErrJobIDRequired  = errors.New("job_id is required")

	// ErrJobTerminal is returned by UpdateJob when the stored job is already completed or failed.
	ErrJobTerminal = errors.New("job already in a terminal stage")

	// ErrInvalidTransition is returned when a mutation moves a job to a stage it cannot reach.
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrUpdateConflict is returned when an optimistic update kept losing races.
	ErrUpdateConflict = errors.New("job update conflict")
)
