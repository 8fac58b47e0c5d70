// Package lights encodes the five-light start board into the EasyDaq relay
// card's wire format.
//
// A board state is five logical lights, each Off, On or Flashing. Flashing
// never reaches the wire: a driver resolves it to On or Off for the current
// flash phase before encoding. The encoded form is a single bitmask byte
// where bit i is set iff light i is lit, carried in a two-byte packet
// {prefix, mask}.
//
// Prefixes:
//
//	A  query relay status (mask ignored, conventionally 0)
//	B  configure relays (sent once when a session is established)
//	C  set relay state (drives the lights)
package lights
