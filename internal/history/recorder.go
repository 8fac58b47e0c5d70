package history

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hillheadsc/racelights/internal/racecontrol"
)

const (
	// QueueSize bounds the writes waiting for the database.
	QueueSize = 64

	writeTimeout = 5 * time.Second
)

// Logger is the logging surface the history package needs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// EventSource publishes controller events. *racecontrol.Controller
// implements it.
type EventSource interface {
	Subscribe(fn func(racecontrol.Event)) (cancel func())
}

type job struct {
	name string
	fn   func(ctx context.Context) error
}

// Recorder turns controller events into repository writes on a single
// worker goroutine. When the queue is full the write is dropped and
// counted, so the publisher never blocks.
type Recorder struct {
	repo   Repository
	port   string
	logger Logger

	mu     sync.Mutex
	closed bool
	queue  chan job
	done   chan struct{}
	cancel func()

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// RecorderStats counts the recorder's writes.
type RecorderStats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// NewRecorder starts a recorder writing to repo. port is stored with each
// session event.
func NewRecorder(repo Repository, port string, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	r := &Recorder{
		repo:   repo,
		port:   port,
		logger: logger,
		queue:  make(chan job, QueueSize),
		done:   make(chan struct{}),
	}
	go r.worker()
	return r
}

// Attach subscribes the recorder to src. Close unsubscribes.
func (r *Recorder) Attach(src EventSource) {
	cancel := src.Subscribe(r.Handle)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
}

// Handle converts one event into a queued write. It never blocks.
func (r *Recorder) Handle(ev racecontrol.Event) {
	switch ev.Kind {
	case racecontrol.KindSession:
		if ev.Session == nil {
			return
		}
		rec := SessionEvent{
			At:     ev.Time,
			State:  ev.Session.State.String(),
			Port:   r.port,
			Detail: ev.Session.Description,
		}
		r.enqueue("session event", func(ctx context.Context) error {
			return r.repo.RecordSessionEvent(ctx, rec)
		})

	case racecontrol.KindCountdown:
		cd := ev.Countdown
		if cd == nil || cd.ID == "" {
			return
		}
		switch cd.Phase {
		case racecontrol.PhaseScheduled:
			run := Run{
				ID:             cd.ID,
				Policy:         cd.Policy,
				Starts:         cd.Starts,
				MinutesToStart: cd.MinutesToStart,
				RaceStart:      cd.RaceStart,
				StartedAt:      cd.ScheduledAt,
				Outcome:        OutcomeRunning,
			}
			r.enqueue("start run", func(ctx context.Context) error {
				return r.repo.StartRun(ctx, run)
			})
		case racecontrol.PhaseCompleted, racecontrol.PhaseReset, racecontrol.PhaseFailed:
			id, outcome, at := cd.ID, outcomeFor(cd.Phase), ev.Time
			r.enqueue("finish run", func(ctx context.Context) error {
				return r.repo.FinishRun(ctx, id, outcome, at)
			})
		}
	}
}

func outcomeFor(p racecontrol.Phase) Outcome {
	switch p {
	case racecontrol.PhaseCompleted:
		return OutcomeCompleted
	case racecontrol.PhaseReset:
		return OutcomeReset
	default:
		return OutcomeFailed
	}
}

func (r *Recorder) enqueue(name string, fn func(ctx context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- job{name: name, fn: fn}:
	default:
		r.dropped.Add(1)
		r.logger.Warn("history queue full, dropping write", "write", name)
	}
}

func (r *Recorder) worker() {
	defer close(r.done)
	for j := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := j.fn(ctx)
		cancel()
		if err != nil {
			r.failed.Add(1)
			r.logger.Error("history write failed", "write", j.name, "error", err)
			continue
		}
		r.written.Add(1)
	}
}

// Close unsubscribes, writes everything already queued and stops the
// worker. Later events are ignored.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	cancel := r.cancel
	close(r.queue)
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-r.done
}

// Stats returns the write counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
		Failed:  r.failed.Load(),
	}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
