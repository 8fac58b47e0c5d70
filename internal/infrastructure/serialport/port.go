package serialport

import (
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Port is an open serial connection.
type Port interface {
	io.ReadWriter
	io.Closer

	// SetReadTimeout bounds how long Read waits for data. A Read that times
	// out returns 0, nil.
	SetReadTimeout(timeout time.Duration) error
}

// Opener opens serial ports.
type Opener interface {
	Open(path string, opts Options) (Port, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(path string, opts Options) (Port, error)

// Open implements Opener.
func (f OpenerFunc) Open(path string, opts Options) (Port, error) {
	return f(path, opts)
}

// Options describes line settings. Zero values take the EasyDaq defaults
// (9600 8N1).
type Options struct {
	BaudRate int    `yaml:"baud_rate" json:"baud_rate"`
	DataBits int    `yaml:"data_bits" json:"data_bits"`
	StopBits int    `yaml:"stop_bits" json:"stop_bits"`
	Parity   string `yaml:"parity" json:"parity"`
}

// DefaultBaudRate is the fixed speed of the relay card.
const DefaultBaudRate = 9600

// Normalize validates the options and fills unset fields with defaults.
func (o Options) Normalize() (Options, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.ToUpper(strings.TrimSpace(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}

	return opts, nil
}

// Mode converts the options into a go.bug.st/serial mode.
func (o Options) Mode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// SystemOpener opens real serial devices.
type SystemOpener struct{}

// Open implements Opener.
func (SystemOpener) Open(path string, opts Options) (Port, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrNoPath
	}
	mode, err := opts.Mode()
	if err != nil {
		return nil, err
	}
	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return p, nil
}

// List returns the serial device names present on the system.
func List() ([]string, error) {
	return serial.GetPortsList()
}
