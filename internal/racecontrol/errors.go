package racecontrol

import "errors"

var (
	// ErrInvalidStarts is returned when the number of starts is out of range.
	ErrInvalidStarts = errors.New("racecontrol: number of starts out of range")

	// ErrInvalidMinutes is returned when the minutes to start is out of range.
	ErrInvalidMinutes = errors.New("racecontrol: minutes to start out of range")

	// ErrCountdownActive is returned when an operation conflicts with a
	// scheduled or running countdown.
	ErrCountdownActive = errors.New("racecontrol: countdown already active")

	// ErrUnknownPreset is returned for a light preset name that does not exist.
	ErrUnknownPreset = errors.New("racecontrol: unknown light preset")

	// ErrMissingDependency is returned by New when a required option is nil.
	ErrMissingDependency = errors.New("racecontrol: missing dependency")
)
