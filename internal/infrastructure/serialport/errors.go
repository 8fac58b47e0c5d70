package serialport

import "errors"

var (
	// ErrNoPath is returned when a port is opened without a device path.
	ErrNoPath = errors.New("serialport: no device path")

	// ErrClosed is returned by MockPort after Close.
	ErrClosed = errors.New("serialport: port closed")
)
