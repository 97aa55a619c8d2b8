package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/cdp-core/internal/device"
	"github.com/nerrad567/cdp-core/internal/infrastructure/database"
	"github.com/nerrad567/cdp-core/internal/minor"
)

// Row status values.
const (
	StatusPublished = "published"
	StatusRemoved   = "removed"
	StatusOrphaned  = "orphaned"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// ErrNotPublished is returned by Unpublish when no published row matches.
var ErrNotPublished = errors.New("inventory: device not published")

// Record is one row of the device inventory.
type Record struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Minor       minor.Minor   `json:"minor"`
	Generation  uint64        `json:"generation"`
	Host        device.DevNum `json:"host"`
	Repository  device.DevNum `json:"repository"`
	Metadata    device.DevNum `json:"metadata"`
	BackingKind string        `json:"backing_kind,omitempty"`
	BackingDisk string        `json:"backing_disk,omitempty"`
	Status      string        `json:"status"`
	RunID       string        `json:"run_id"`
	PublishedAt time.Time     `json:"published_at"`
	RemovedAt   *time.Time    `json:"removed_at,omitempty"`
}

// Filter selects inventory rows. Zero values match everything.
type Filter struct {
	Status string
	Name   string
	Limit  int
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

// Store persists device publication in SQLite. It implements the
// lifecycle manager's Publisher interface.
//
// Every Store carries a run ID so rows left "published" by a previous
// process that died without unpublishing can be told apart and marked
// orphaned at startup.
type Store struct {
	db     *database.DB
	runID  string
	logger Logger
}

// New creates a Store for one daemon run.
func New(db *database.DB) *Store {
	return &Store{
		db:     db,
		runID:  uuid.NewString(),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// RunID returns the identifier stamped on rows written by this store.
func (s *Store) RunID() string {
	return s.runID
}

// Publish records a device that has become Active.
func (s *Store) Publish(ctx context.Context, info device.Info) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (id, name, minor, generation, host, repository, metadata,
		                     backing_kind, backing_disk, status, run_id, published_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), info.Name, int64(info.Minor), int64(info.Generation), //nolint:gosec // generations stay far below 2^63
		info.Host.String(), info.Repository.String(), info.Metadata.String(),
		info.Backing.Kind, info.Backing.Disk, StatusPublished, s.runID,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting device %s: %w", info.Name, err)
	}
	s.logger.Debug("device published to inventory", "name", info.Name, "minor", info.Minor)
	return nil
}

// Unpublish marks the device's row removed.
func (s *Store) Unpublish(ctx context.Context, info device.Info) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE devices SET status = ?, removed_at = ?
		WHERE minor = ? AND generation = ? AND run_id = ? AND status = ?`,
		StatusRemoved, time.Now().UTC().Format(time.RFC3339Nano),
		int64(info.Minor), int64(info.Generation), s.runID, StatusPublished, //nolint:gosec // see Publish
	)
	if err != nil {
		return fmt.Errorf("updating device %s: %w", info.Name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s (%s)", ErrNotPublished, info.Name, info.Handle())
	}
	s.logger.Debug("device removed from inventory", "name", info.Name, "minor", info.Minor)
	return nil
}

// MarkOrphaned flags rows still published by earlier runs. Call once at
// startup, before the first Publish.
//
// Returns:
//   - int64: Number of rows marked orphaned
//   - error: If the update fails
func (s *Store) MarkOrphaned(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE devices SET status = ? WHERE status = ? AND run_id <> ?",
		StatusOrphaned, StatusPublished, s.runID)
	if err != nil {
		return 0, fmt.Errorf("marking orphaned devices: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting orphaned devices: %w", err)
	}
	if n > 0 {
		s.logger.Warn("devices left published by a previous run", "count", n)
	}
	return n, nil
}

// List returns inventory rows, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Record, error) {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	f.Limit = min(f.Limit, maxLimit)

	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.Name != "" {
		conds = append(conds, "name = ?")
		args = append(args, f.Name)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	query := fmt.Sprintf(`SELECT id, name, minor, generation, host, repository, metadata,
		backing_kind, backing_disk, status, run_id, published_at, removed_at
		FROM devices %s ORDER BY published_at DESC LIMIT ?`, where) //nolint:gosec // WHERE built from fixed conditions
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return out, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		r                Record
		m, gen           int64
		host, repo, meta string
		publishedAt      string
		removedAt        sql.NullString
	)
	if err := rows.Scan(&r.ID, &r.Name, &m, &gen, &host, &repo, &meta,
		&r.BackingKind, &r.BackingDisk, &r.Status, &r.RunID, &publishedAt, &removedAt); err != nil {
		return Record{}, fmt.Errorf("scanning device row: %w", err)
	}
	r.Minor = minor.Minor(m)   //nolint:gosec // written from a minor.Minor
	r.Generation = uint64(gen) //nolint:gosec // written from a uint64

	var err error
	if r.Host, err = device.ParseDevNum(host); err != nil {
		return Record{}, fmt.Errorf("device %s host: %w", r.ID, err)
	}
	if r.Repository, err = device.ParseDevNum(repo); err != nil {
		return Record{}, fmt.Errorf("device %s repository: %w", r.ID, err)
	}
	if r.Metadata, err = device.ParseDevNum(meta); err != nil {
		return Record{}, fmt.Errorf("device %s metadata: %w", r.ID, err)
	}

	if r.PublishedAt, err = time.Parse(time.RFC3339Nano, publishedAt); err != nil {
		return Record{}, fmt.Errorf("parsing published_at %q: %w", publishedAt, err)
	}
	if removedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, removedAt.String)
		if err != nil {
			return Record{}, fmt.Errorf("parsing removed_at %q: %w", removedAt.String, err)
		}
		r.RemovedAt = &t
	}
	return r, nil
}
