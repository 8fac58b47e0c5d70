// Package notify provides an ordered set of observer callbacks.
//
// Components that publish state changes (relay session, race sequence,
// controller) hold an Observers value and call Notify with the new value.
// Observers run synchronously, in registration order, on the notifying
// goroutine.
package notify

import "sync"

// Observers is a registration-ordered list of callbacks for values of T.
// The zero value is ready to use.
type Observers[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscription[T]
}

type subscription[T any] struct {
	id uint64
	fn func(T)
}

// Add registers fn and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (o *Observers[T]) Add(fn func(T)) (cancel func()) {
	if fn == nil {
		return func() {}
	}

	o.mu.Lock()
	o.nextID++
	id := o.nextID
	o.subs = append(o.subs, subscription[T]{id: id, fn: fn})
	o.mu.Unlock()

	return func() { o.remove(id) }
}

// Notify calls every registered observer with v. Observers added or removed
// during the call take effect from the next Notify.
func (o *Observers[T]) Notify(v T) {
	o.mu.Lock()
	snapshot := make([]func(T), len(o.subs))
	for i, s := range o.subs {
		snapshot[i] = s.fn
	}
	o.mu.Unlock()

	for _, fn := range snapshot {
		fn(v)
	}
}

// Len returns the number of registered observers.
func (o *Observers[T]) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.subs)
}

func (o *Observers[T]) remove(id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, s := range o.subs {
		if s.id == id {
			o.subs = append(o.subs[:i], o.subs[i+1:]...)
			return
		}
	}
}
