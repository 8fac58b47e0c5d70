package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Page size limits for list queries.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeCompleted Outcome = "completed"
	OutcomeReset     Outcome = "reset"
	OutcomeFailed    Outcome = "failed"
)

// Run is one countdown started by the race officer.
type Run struct {
	ID             string     `json:"id"`
	Policy         string     `json:"policy"`
	Starts         int        `json:"starts"`
	MinutesToStart int        `json:"minutes_to_start"`
	RaceStart      time.Time  `json:"race_start"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Outcome        Outcome    `json:"outcome"`
}

// SessionEvent is one relay session state change.
type SessionEvent struct {
	ID     int64     `json:"id"`
	At     time.Time `json:"at"`
	State  string    `json:"state"`
	Port   string    `json:"port,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Repository stores runs and session events.
type Repository interface {
	StartRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, id string, outcome Outcome, endedAt time.Time) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	RecordSessionEvent(ctx context.Context, ev SessionEvent) error
	ListSessionEvents(ctx context.Context, since time.Time, limit int) ([]SessionEvent, error)
	PruneSessionEvents(ctx context.Context, olderThan time.Time) (int64, error)
}

// SQLiteRepository implements Repository on the tables created by the
// history migration.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository returns a repository using db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// StartRun inserts a run. A run with an existing id is replaced.
func (r *SQLiteRepository) StartRun(ctx context.Context, run Run) error {
	if run.ID == "" || run.Policy == "" {
		return fmt.Errorf("%w: id and policy are required", ErrInvalidRun)
	}
	if run.Outcome == "" {
		run.Outcome = OutcomeRunning
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sequence_runs
			(id, policy, starts, minutes, race_start, started_at, finished_at, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Policy, run.Starts, run.MinutesToStart,
		formatTime(run.RaceStart), formatTime(run.StartedAt), formatTimePtr(run.EndedAt), string(run.Outcome),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun records how a run ended.
func (r *SQLiteRepository) FinishRun(ctx context.Context, id string, outcome Outcome, endedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sequence_runs SET outcome = ?, finished_at = ? WHERE id = ?`,
		string(outcome), formatTime(endedAt), id,
	)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, policy, starts, minutes, race_start, started_at, finished_at, outcome
		FROM sequence_runs
		ORDER BY started_at DESC, id
		LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run                  Run
			raceStart, startedAt string
			finishedAt           sql.NullString
			outcome              string
		)
		if err := rows.Scan(&run.ID, &run.Policy, &run.Starts, &run.MinutesToStart,
			&raceStart, &startedAt, &finishedAt, &outcome); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if run.RaceStart, err = parseTime(raceStart); err != nil {
			return nil, err
		}
		if run.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if finishedAt.Valid {
			t, err := parseTime(finishedAt.String)
			if err != nil {
				return nil, err
			}
			run.EndedAt = &t
		}
		run.Outcome = Outcome(outcome)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// RecordSessionEvent appends a session event.
func (r *SQLiteRepository) RecordSessionEvent(ctx context.Context, ev SessionEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO session_events (at, state, port, detail) VALUES (?, ?, ?, ?)`,
		formatTime(ev.At), ev.State, ev.Port, ev.Detail,
	)
	if err != nil {
		return fmt.Errorf("inserting session event: %w", err)
	}
	return nil
}

// ListSessionEvents returns events at or after since, newest first. A
// zero since returns the latest events.
func (r *SQLiteRepository) ListSessionEvents(ctx context.Context, since time.Time, limit int) ([]SessionEvent, error) {
	query := `SELECT id, at, state, port, detail FROM session_events`
	args := []any{}
	if !since.IsZero() {
		query += ` WHERE at >= ?`
		args = append(args, formatTime(since))
	}
	query += ` ORDER BY at DESC, id DESC LIMIT ?`
	args = append(args, clampLimit(limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying session events: %w", err)
	}
	defer rows.Close()

	var events []SessionEvent
	for rows.Next() {
		var ev SessionEvent
		var at string
		if err := rows.Scan(&ev.ID, &at, &ev.State, &ev.Port, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scanning session event: %w", err)
		}
		if ev.At, err = parseTime(at); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session events: %w", err)
	}
	return events, nil
}

// PruneSessionEvents deletes events before olderThan and returns how many
// were removed.
func (r *SQLiteRepository) PruneSessionEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM session_events WHERE at < ?`, formatTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("pruning session events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning session events: %w", err)
	}
	return n, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// timeLayout sorts lexically in time order for UTC values: fixed-width
// fractional seconds, unlike RFC3339Nano.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// sqliteLayout is SQLite's CURRENT_TIMESTAMP format.
const sqliteLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, sqliteLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("history: unparseable timestamp %q", s)
}
