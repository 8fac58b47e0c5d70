package scheduler

import "time"

// entry is one pending callback. index is maintained by timerQueue so a
// stopped timer can be removed in O(log n).
type entry struct {
	at    time.Time
	seq   uint64
	fn    func()
	index int
}

// timerQueue is a min-heap on (at, seq) for container/heap.
type timerQueue []*entry

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x any) {
	e := x.(*entry) //nolint:errcheck // only *entry is pushed
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}
