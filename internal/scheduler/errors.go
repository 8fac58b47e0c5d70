package scheduler

import "errors"

var (
	// ErrClosed is returned by Do when the loop stops before running fn.
	ErrClosed = errors.New("scheduler: loop closed")

	// ErrRunning is returned by Run when another goroutine is already driving the loop.
	ErrRunning = errors.New("scheduler: loop already running")
)
