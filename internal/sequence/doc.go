// Package sequence runs race-start light sequences.
//
// A Sequence is an ordered list of Steps counting down to a race start
// time. Each Step holds a light pattern for a window expressed in seconds
// before the start (From down to To). Steps with a flashing light blink it
// every flash interval until the step ends.
//
// Step deadlines are absolute (raceStart - To), so a long multi-race
// sequence does not drift however late individual callbacks run. When the
// last step ends the board is switched off exactly once.
//
// Which steps make up a sequence is a Policy. The built-in policies are
// "flag" (an F-flag warning step followed by a five-minute countdown per
// race) and "class" (five-minute countdowns only).
//
// Like the relay session, a Sequence belongs to one scheduler.Loop and
// must only be used from that loop's goroutine.
package sequence
