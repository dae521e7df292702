package task

import "errors"

var (
	// ErrInvalidArgument is returned when a caller supplies malformed input
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned when no task has the requested id
	ErrNotFound = errors.New("task not found")

	// ErrInvalidTransition is returned when a status change is not allowed
	ErrInvalidTransition = errors.New("invalid status transition")
)
