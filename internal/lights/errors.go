package lights

import "errors"

var (
	// ErrInvalidLight is returned when a light name is not off, on or flashing.
	ErrInvalidLight = errors.New("lights: invalid light value")

	// ErrInvalidLength is returned when a pattern does not have exactly Count lights.
	ErrInvalidLength = errors.New("lights: pattern must have 5 lights")
)
