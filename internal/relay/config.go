package relay

import (
	"time"

	"github.com/hillheadsc/racelights/internal/infrastructure/serialport"
)

// Default timings for the EasyDaq card.
const (
	DefaultSettleDelay       = 2 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultPacingInterval    = 100 * time.Millisecond
	DefaultReconnectBackoff  = 5 * time.Second
	DefaultReadTimeout       = 500 * time.Millisecond
)

// Config holds the session's endpoint and timings.
type Config struct {
	// Port is the serial device path, e.g. /dev/ttyUSB0 or COM3.
	Port string

	// Serial holds line settings. Zero means 9600 8N1.
	Serial serialport.Options

	// SettleDelay is the wait between opening the port and the
	// configuration packet.
	SettleDelay time.Duration

	// HeartbeatInterval is the idle time after which a status query is sent.
	HeartbeatInterval time.Duration

	// PacingInterval is the minimum gap between two transmitted packets.
	PacingInterval time.Duration

	// ReconnectBackoff is the fixed wait before retrying a failed connection.
	ReconnectBackoff time.Duration

	// ReadTimeout bounds the status read after a heartbeat query, and is
	// also the delay between the query and the read.
	ReadTimeout time.Duration
}

// withDefaults fills zero durations with the card defaults.
func (c Config) withDefaults() Config {
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.PacingInterval <= 0 {
		c.PacingInterval = DefaultPacingInterval
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = DefaultReconnectBackoff
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	return c
}
