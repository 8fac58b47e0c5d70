// Package audit records the operator commands received over the HTTP API
// and the MQTT bridge, so the race committee can see who switched what and
// when.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Command sources.
const (
	SourceAPI  = "api"
	SourceMQTT = "mqtt"
)

// Command results.
const (
	ResultAccepted = "accepted"
	ResultFailed   = "failed"
)

// Page size limits for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Entry is one audited command.
type Entry struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Source string `json:"source"`

	// Subject is the token subject for API calls, or the sender named in
	// an MQTT command.
	Subject string         `json:"subject,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Result  string         `json:"result"`
	Error   string         `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewEntry builds an entry for action from source. A nil err is accepted.
func NewEntry(action, source, subject string, details map[string]any, err error) *Entry {
	e := &Entry{
		Action:  action,
		Source:  source,
		Subject: subject,
		Details: details,
		Result:  ResultAccepted,
	}
	if err != nil {
		e.Result = ResultFailed
		e.Error = err.Error()
	}
	return e
}

// Filter controls which entries List returns.
type Filter struct {
	Action string // optional
	Source string // optional
	Limit  int    // default 50, max 200
	Offset int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores audit entries.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository keeps entries in the command_audit table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts entry. The ID and CreatedAt are filled in if empty.
func (r *SQLiteRepository) Create(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = "cmd-" + uuid.NewString()[:8]
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Result == "" {
		entry.Result = ResultAccepted
	}

	var detailsJSON *string
	if len(entry.Details) > 0 {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		s := string(b)
		detailsJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_audit (id, action, source, subject, details, result, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, entry.Source,
		nullableString(entry.Subject), detailsJSON,
		entry.Result, nullableString(entry.Error),
		entry.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// nullableString returns nil for empty strings, for nullable TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultLimit
	case filter.Limit > MaxLimit:
		filter.Limit = MaxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, filter.Source)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM command_audit " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	query := "SELECT id, action, source, subject, details, result, error, created_at FROM command_audit " + //nolint:gosec // WHERE built from parameterised conditions
		where + " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var subject, details, errText sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Action, &e.Source, &subject, &details,
			&e.Result, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Subject = subject.String
		e.Error = errText.String
		if details.Valid && details.String != "" {
			var m map[string]any
			if json.Unmarshal([]byte(details.String), &m) == nil {
				e.Details = m
			}
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// timeLayout has fixed-width fractional seconds so stored values sort in
// time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
