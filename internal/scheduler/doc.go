// Package scheduler provides the single cooperative timer queue that every
// timed behaviour in racelights runs on.
//
// A Loop holds one-shot callbacks ordered by fire time. Callbacks scheduled
// for the same instant fire in the order they were scheduled. One goroutine
// drains the queue (Run), so state touched only from callbacks needs no
// locking. Other goroutines hand work to the loop with Post or Do.
//
// Tests drive the loop with a ManualClock and Advance instead of Run, which
// fires due callbacks on the caller's goroutine in simulated time:
//
//	clock := scheduler.NewManualClock(start)
//	loop := scheduler.New(clock)
//	loop.AfterFunc(100*time.Millisecond, fn)
//	loop.Advance(time.Second) // fn runs with clock.Now() == start+100ms
package scheduler
