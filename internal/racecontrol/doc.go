// Package racecontrol is the race officer's console without the screen.
//
// A Controller ties one relay session to one race sequence and offers the
// operations the committee boat needs: schedule a countdown to a number of
// starts, reset it, set the lights by hand (including a flashing light),
// switch everything off, and shut down cleanly.
//
// Every operation is marshalled onto the scheduler loop with Loop.Do, so
// HTTP handlers and MQTT callbacks may call the Controller from their own
// goroutines. Observers registered with Subscribe run on the loop goroutine
// and must hand any I/O to their own queues.
//
// Countdown lifecycle:
//
//	StartCountdown ──▶ scheduled ──(minutes to start)──▶ started ──(last step)──▶ completed
//	                       │                                 │
//	                       └────────────── Reset ────────────┴──▶ reset
package racecontrol
