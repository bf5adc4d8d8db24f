package domain

import "errors"

var (
	// ErrNotFound indicates that a requested application does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that an application with the same identity
	// already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrChangeInProgress is returned when a change is requested while
	// another change is rolling out without failures.
	ErrChangeInProgress = errors.New("a change is already in progress")

	// ErrLockNotHeld is returned when an application is stored without
	// holding its lock.
	ErrLockNotHeld = errors.New("application lock not held")

	// ErrInvalidChange is returned when NoChange is requested as a rollout.
	ErrInvalidChange = errors.New("invalid change")

	// ErrUnknownJobType is returned for a report naming no known job.
	ErrUnknownJobType = errors.New("unknown job type")
)
