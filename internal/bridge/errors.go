package bridge

import "errors"

var (
	// ErrMissingDependency is returned by New when a required option is nil.
	ErrMissingDependency = errors.New("bridge: missing dependency")

	// ErrUnknownAction is returned for a command the bridge does not handle.
	ErrUnknownAction = errors.New("bridge: unknown action")

	// ErrInvalidParameters is returned for missing or malformed parameters.
	ErrInvalidParameters = errors.New("bridge: invalid parameters")
)
