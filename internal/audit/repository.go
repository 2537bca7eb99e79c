// Package audit records operator actions taken through the API and lists
// them for diagnostics.
//
// Each entry says who (the token subject) did what (switch, dim, refresh)
// to which output, and how the command ended. Output state itself is not
// kept here; the current snapshot lives in dobiss_output_state.
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

// Actions recorded by the API.
const (
	ActionSetState   = "set_state"
	ActionRefresh    = "refresh"
	ActionRefreshAll = "refresh_all"
)

// Outcomes of a recorded action.
const (
	OutcomeAccepted  = "accepted"  // Sent; confirmation not awaited
	OutcomeConfirmed = "confirmed" // The module acknowledged
	OutcomeQueued    = "queued"    // Refresh polls scheduled
	OutcomeFailed    = "failed"
)

// Page size limits for List.
const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Entry is a single audit trail record.
type Entry struct {
	ID       string         `json:"id"`
	Action   string         `json:"action"`
	DeviceID string         `json:"device_id,omitempty"`
	Address  string         `json:"address,omitempty"`
	Subject  string         `json:"subject,omitempty"`
	Source   string         `json:"source"`
	Outcome  string         `json:"outcome"`
	Details  map[string]any `json:"details,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which entries to return.
type Filter struct {
	Action   string // optional: set_state, refresh or refresh_all
	DeviceID string // optional: one output
	Subject  string // optional: one caller
	Limit    int    // default 50, max 200
	Offset   int    // pagination offset
}

// ListResult contains a page of entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the audit trail operations.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository stores entries in the audit_logs table.
type SQLiteRepository struct {
	db *sql.DB
}

// Ensure SQLiteRepository implements Repository.
var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a new audit repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an entry. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.Action == "" || e.Source == "" || e.Outcome == "" {
		return fmt.Errorf("audit entry requires action, source and outcome")
	}
	if e.ID == "" {
		e.ID = "aud-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var detailsJSON *string
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		s := string(b)
		detailsJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, device_id, address, subject, source, outcome, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action,
		nullableString(e.DeviceID), nullableString(e.Address), nullableString(e.Subject),
		e.Source, e.Outcome, detailsJSON,
		e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings so SQLite stores NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
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
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Subject != "" {
		conditions = append(conditions, "subject = ?")
		args = append(args, filter.Subject)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_logs %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, action, device_id, address, subject, source, outcome, details, created_at
		 FROM audit_logs %s ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e                          Entry
			deviceID, address, subject sql.NullString
			detailsJSON                sql.NullString
			createdAt                  int64
		)
		if err := rows.Scan(&e.ID, &e.Action, &deviceID, &address, &subject,
			&e.Source, &e.Outcome, &detailsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit log: %w", err)
		}

		e.DeviceID = deviceID.String
		e.Address = address.String
		e.Subject = subject.String
		if detailsJSON.Valid && detailsJSON.String != "" {
			var details map[string]any
			if json.Unmarshal([]byte(detailsJSON.String), &details) == nil {
				e.Details = details
			}
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// Prune deletes entries created before the cutoff and returns how many
// were removed.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("pruning audit logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning audit logs: %w", err)
	}
	return n, nil
}
