// Package audit stores the control command trail in the audit_logs table.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/cdp-core/internal/control"
	"github.com/nerrad567/cdp-core/internal/infrastructure/database"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Log is one audited dispatch.
type Log struct {
	ID         string    `json:"id"`
	CallerID   string    `json:"caller_id,omitempty"`
	Source     string    `json:"source,omitempty"`
	Privileged bool      `json:"privileged"`
	Command    string    `json:"command"`
	Code       uint32    `json:"code"`
	Target     string    `json:"target,omitempty"`
	Errno      int       `json:"errno"`
	Error      string    `json:"error,omitempty"`
	ElapsedUS  int64     `json:"elapsed_us"`
	CreatedAt  time.Time `json:"created_at"`
}

// Filter controls which logs List returns.
type Filter struct {
	Command  string // optional: VERSION, DEV_CREATE, ...
	CallerID string // optional
	Target   string // optional: device name
	Failed   bool   // only dispatches that returned an errno
	Limit    int    // default 50, max 200
	Offset   int
}

// ListResult is a page of audit logs.
type ListResult struct {
	Logs   []Log `json:"logs"`
	Total  int   `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store writes and queries audit logs. It implements control.Sink.
type Store struct {
	db     *database.DB
	logger Logger
}

// NewStore creates an audit store on db.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, logger: noopLogger{}}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// RecordDispatch persists e. The write is detached from ctx cancellation
// so commands aborted by their caller are still audited; failures are
// logged, not returned.
func (s *Store) RecordDispatch(ctx context.Context, e control.Entry) {
	log := FromEntry(e)
	if err := s.Create(context.WithoutCancel(ctx), &log); err != nil {
		s.logger.Error("writing audit log", "command", e.Command, "error", err)
	}
}

// FromEntry converts a dispatch entry to an audit log.
func FromEntry(e control.Entry) Log {
	l := Log{
		CallerID:   e.Caller.ID,
		Source:     e.Caller.Source,
		Privileged: e.Caller.Privileged,
		Command:    e.Command,
		Code:       uint32(e.Code),
		Target:     e.Target,
		Errno:      int(e.Errno),
		ElapsedUS:  e.Elapsed.Microseconds(),
		CreatedAt:  e.At,
	}
	if e.Err != nil {
		l.Error = e.Err.Error()
	}
	return l
}

// Create inserts log, filling ID and CreatedAt when empty.
func (s *Store) Create(ctx context.Context, log *Log) error {
	if log.ID == "" {
		log.ID = "aud-" + uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	log.CreatedAt = log.CreatedAt.UTC()

	var errText any
	if log.Error != "" {
		errText = log.Error
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, caller_id, source, privileged, command, code,
		                        target, errno, error, elapsed_us, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.CallerID, log.Source, log.Privileged, log.Command, int64(log.Code),
		log.Target, log.Errno, errText, log.ElapsedUS,
		log.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

// List returns logs matching filter, most recent first.
func (s *Store) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	filter.Limit = min(filter.Limit, maxLimit)
	filter.Offset = max(filter.Offset, 0)

	var conds []string
	var args []any
	if filter.Command != "" {
		conds = append(conds, "command = ?")
		args = append(args, filter.Command)
	}
	if filter.CallerID != "" {
		conds = append(conds, "caller_id = ?")
		args = append(args, filter.CallerID)
	}
	if filter.Target != "" {
		conds = append(conds, "target = ?")
		args = append(args, filter.Target)
	}
	if filter.Failed {
		conds = append(conds, "errno <> 0")
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_logs " + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, caller_id, source, privileged, command, code,
		target, errno, error, elapsed_us, created_at
		FROM audit_logs %s ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`, where) //nolint:gosec // WHERE built from fixed conditions
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	logs := []Log{}
	for rows.Next() {
		var (
			l         Log
			code      int64
			errText   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&l.ID, &l.CallerID, &l.Source, &l.Privileged, &l.Command, &code,
			&l.Target, &l.Errno, &errText, &l.ElapsedUS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit log: %w", err)
		}
		l.Code = uint32(code) //nolint:gosec // stored from a uint32
		l.Error = errText.String
		if l.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing audit log timestamp %q: %w", createdAt, err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}

	return &ListResult{Logs: logs, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}
