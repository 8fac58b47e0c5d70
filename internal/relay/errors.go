package relay

import "errors"

var (
	// ErrNoOpener is returned by NewSession when Options.Opener is nil.
	ErrNoOpener = errors.New("relay: no serial opener")

	// ErrNoLoop is returned by NewSession when Options.Loop is nil.
	ErrNoLoop = errors.New("relay: no scheduler loop")

	// ErrNoPort is returned by NewSession when no device path is configured.
	ErrNoPort = errors.New("relay: no serial port configured")
)
