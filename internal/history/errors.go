package history

import "errors"

var (
	// ErrNotFound is returned when a run id does not exist.
	ErrNotFound = errors.New("history: not found")

	// ErrInvalidRun is returned when a run is missing its id or policy.
	ErrInvalidRun = errors.New("history: invalid run")
)
