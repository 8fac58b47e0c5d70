// Package serialport abstracts the serial link to the relay card.
//
// Port is the small surface the relay session needs (read, write, close,
// read timeout). Opener creates ports; the real implementation opens a
// device through go.bug.st/serial and MockOpener hands out in-memory
// MockPort values for tests.
package serialport
