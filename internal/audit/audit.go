// Package audit records who changed or commanded which device.
//
// Entries are written by the REST API after device changes, provisioning,
// refresh, discovery and command execution, and are pruned by age.
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

// Actions recorded in the log.
const (
	ActionDeviceCreate    = "device.create"
	ActionDeviceUpdate    = "device.update"
	ActionDeviceDelete    = "device.delete"
	ActionDeviceProvision = "device.provision"
	ActionDeviceRefresh   = "device.refresh"
	ActionHubDiscover     = "hub.discover"
	ActionCommandExecute  = "command.execute"
)

// Outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	// timeLayout is fixed width so stored timestamps sort lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Entry is one audit record.
type Entry struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	DeviceID  string         `json:"device_id,omitempty"`
	LogicalID string         `json:"logical_id,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	Source    string         `json:"source"`
	Outcome   string         `json:"outcome"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	Action   string
	DeviceID string
	Subject  string
	Since    time.Time
	Limit    int // default 50, max 200
	Offset   int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Logger defines the logging interface used by the audit package.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// SQLiteRepository stores entries in the audit_log table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository over db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Record inserts e, filling ID, CreatedAt and Outcome when empty.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if e.Action == "" {
		return fmt.Errorf("audit action is required")
	}
	if e.ID == "" {
		e.ID = "aud-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeOK
		if e.Error != "" {
			e.Outcome = OutcomeError
		}
	}

	var details any
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		details = string(b)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, action, device_id, logical_id, subject, source, outcome, error, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, nullable(e.DeviceID), nullable(e.LogicalID), nullable(e.Subject),
		e.Source, e.Outcome, nullable(e.Error), details,
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns the entries matching f, newest first.
func (r *SQLiteRepository) List(ctx context.Context, f Filter) (*ListResult, error) {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	f.Limit = min(f.Limit, maxLimit)
	f.Offset = max(f.Offset, 0)

	var conds []string
	var args []any
	for _, c := range []struct {
		column, value string
	}{
		{"action", f.Action},
		{"device_id", f.DeviceID},
		{"subject", f.Subject},
	} {
		if c.value != "" {
			conds = append(conds, c.column+" = ?")
			args = append(args, c.value)
		}
	}
	if !f.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_log " + where //nolint:gosec // WHERE holds only placeholders
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	query := `SELECT id, action, device_id, logical_id, subject, source, outcome, error, details, created_at
		FROM audit_log ` + where + ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?` //nolint:gosec // WHERE holds only placeholders
	rows, err := r.db.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &ListResult{Entries: entries, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var deviceID, logicalID, subject, errText, details sql.NullString
	var createdAt string
	if err := rows.Scan(&e.ID, &e.Action, &deviceID, &logicalID, &subject,
		&e.Source, &e.Outcome, &errText, &details, &createdAt); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}
	e.DeviceID = deviceID.String
	e.LogicalID = logicalID.String
	e.Subject = subject.String
	e.Error = errText.String
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
			return e, fmt.Errorf("decoding audit details of %s: %w", e.ID, err)
		}
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return e, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return e, nil
}

// Prune deletes entries older than before and returns how many went.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM audit_log WHERE created_at < ?",
		before.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("pruning audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning audit entries: %w", err)
	}
	return n, nil
}

// RunRetention prunes entries older than keep now and then every interval
// until ctx ends.
func (r *SQLiteRepository) RunRetention(ctx context.Context, keep, interval time.Duration, logger Logger) {
	prune := func() {
		n, err := r.Prune(ctx, r.now().Add(-keep))
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("audit retention failed", "error", err)
			}
			return
		}
		if n > 0 {
			logger.Info("audit entries pruned", "count", n, "keep", keep)
		}
	}

	prune()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
