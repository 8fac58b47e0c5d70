package sequence

import "errors"

var (
	// ErrRunning is returned when a running sequence is started or modified.
	ErrRunning = errors.New("sequence: already running")

	// ErrNoSteps is returned when an empty sequence is started.
	ErrNoSteps = errors.New("sequence: no steps")

	// ErrNoRaceStart is returned when a sequence is started without a race start time.
	ErrNoRaceStart = errors.New("sequence: race start time not set")

	// ErrInvalidStep is returned for a step whose window is empty or negative.
	ErrInvalidStep = errors.New("sequence: invalid step window")

	// ErrInvalidStarts is returned when a policy is asked for fewer than one start.
	ErrInvalidStarts = errors.New("sequence: number of starts must be at least 1")

	// ErrUnknownPolicy is returned by LookupPolicy for an unregistered name.
	ErrUnknownPolicy = errors.New("sequence: unknown policy")
)
