package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Loop is a single-threaded timer queue.
//
// Scheduling (AfterFunc, At, Post, Timer.Stop) is safe from any goroutine.
// Callbacks always run one at a time: on the Run goroutine, or on the
// goroutine calling Advance when the loop is driven by a ManualClock.
type Loop struct {
	clock  Clock
	manual bool

	mu     sync.Mutex
	queue  timerQueue
	seq    uint64
	wake   chan struct{}
	closed chan struct{}

	running atomic.Bool
	fired   atomic.Uint64
}

// Timer is a handle to a scheduled callback.
type Timer struct {
	loop *Loop
	e    *entry
}

// New creates a loop on the given clock. A nil clock means SystemClock.
func New(clock Clock) *Loop {
	if clock == nil {
		clock = SystemClock{}
	}
	_, manual := clock.(*ManualClock)
	return &Loop{
		clock:  clock,
		manual: manual,
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Now returns the loop clock's current time.
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// AfterFunc schedules fn to run d after now. A non-positive d runs fn on
// the next pass of the loop, after anything already due.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	if d < 0 {
		d = 0
	}
	return l.At(l.clock.Now().Add(d), fn)
}

// At schedules fn to run at t. Callbacks with equal t run in scheduling order.
func (l *Loop) At(t time.Time, fn func()) *Timer {
	l.mu.Lock()
	l.seq++
	e := &entry{at: t, seq: l.seq, fn: fn}
	heap.Push(&l.queue, e)
	l.mu.Unlock()

	l.signal()
	return &Timer{loop: l, e: e}
}

// Post runs fn on the loop as soon as possible.
func (l *Loop) Post(fn func()) {
	l.AfterFunc(0, fn)
}

// Do runs fn on the loop and waits for it to return.
//
// Returns ctx.Err() if ctx ends first, or ErrClosed if the loop stops
// before fn runs. On a ManualClock loop Do runs fn directly on the caller's
// goroutine, since simulated time is driven by the caller.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}
	if l.manual {
		fn()
		return nil
	}

	done := make(chan struct{})
	t := l.AfterFunc(0, func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if t.Stop() {
			return ctx.Err()
		}
		// Already executing; wait for it so callers never race with fn.
		select {
		case <-done:
			return nil
		case <-l.closed:
			return ErrClosed
		}
	case <-l.closed:
		if t.Stop() {
			return ErrClosed
		}
		<-done
		return nil
	}
}

// Run drives the loop until ctx is cancelled. Pending callbacks are left
// in the queue and the loop is marked closed.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	select {
	case <-l.closed:
		l.running.Store(false)
		return ErrClosed
	default:
	}
	defer func() {
		l.running.Store(false)
		l.mu.Lock()
		select {
		case <-l.closed:
		default:
			close(l.closed)
		}
		l.mu.Unlock()
	}()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		l.runDue(l.clock.Now())

		wait := time.Hour
		if next, ok := l.nextAt(); ok {
			wait = next.Sub(l.clock.Now())
			if wait <= 0 {
				continue
			}
		}

		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		case <-timer.C:
		}
	}
}

// Advance moves a ManualClock forward by d, firing every callback that
// comes due on the way. Each callback sees the clock at its own fire time.
func (l *Loop) Advance(d time.Duration) {
	l.AdvanceTo(l.clock.Now().Add(d))
}

// AdvanceTo moves a ManualClock forward to t, firing due callbacks in
// order. It panics if the loop was not created with a *ManualClock.
func (l *Loop) AdvanceTo(t time.Time) {
	mc, ok := l.clock.(*ManualClock)
	if !ok {
		panic("scheduler: AdvanceTo requires a *ManualClock")
	}

	for {
		l.mu.Lock()
		if len(l.queue) == 0 || l.queue[0].at.After(t) {
			l.mu.Unlock()
			break
		}
		e := heap.Pop(&l.queue).(*entry) //nolint:errcheck // only *entry is pushed
		l.mu.Unlock()

		mc.Set(e.at)
		l.fire(e)
	}
	mc.Set(t)
}

// Pending returns the number of scheduled callbacks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Fired returns the number of callbacks run so far.
func (l *Loop) Fired() uint64 {
	return l.fired.Load()
}

// Stop withdraws the callback. It returns false if the callback has
// already run or been stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.e == nil {
		return false
	}
	l := t.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.e.index < 0 {
		return false
	}
	heap.Remove(&l.queue, t.e.index)
	return true
}

// When returns the time the callback is scheduled for.
func (t *Timer) When() time.Time {
	if t == nil || t.e == nil {
		return time.Time{}
	}
	return t.e.at
}

// runDue fires every callback due at or before now, including ones that
// become due while it runs (scheduled with zero delay by earlier callbacks).
func (l *Loop) runDue(now time.Time) {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 || l.queue[0].at.After(now) {
			l.mu.Unlock()
			return
		}
		e := heap.Pop(&l.queue).(*entry) //nolint:errcheck // only *entry is pushed
		l.mu.Unlock()

		l.fire(e)
		now = l.clock.Now()
	}
}

func (l *Loop) fire(e *entry) {
	l.fired.Add(1)
	e.fn()
}

func (l *Loop) nextAt() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return time.Time{}, false
	}
	return l.queue[0].at, true
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
