// Package state persists update-check history and installs in a small
// SQLite database so the CLI can honour check intervals and rate limits
// across launches.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, WAL-friendly

	"dbconv/internal/debug"
	appErrors "dbconv/internal/errors"
)

// RateLimitCooldown is the minimum wait after a rate-limited check.
const RateLimitCooldown = time.Hour

const schema = `
CREATE TABLE IF NOT EXISTS update_checks (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	checked_at INTEGER NOT NULL,
	current    TEXT NOT NULL DEFAULT '',
	latest     TEXT NOT NULL DEFAULT '',
	available  INTEGER NOT NULL DEFAULT 0,
	error_code TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS installs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	installed_at INTEGER NOT NULL,
	version      TEXT NOT NULL,
	path         TEXT NOT NULL,
	verification TEXT NOT NULL DEFAULT '',
	session_id   TEXT NOT NULL DEFAULT ''
);
`

// Check is one recorded update check.
type Check struct {
	CheckedAt time.Time
	Current   string
	Latest    string
	Available bool
	ErrorCode string
}

// Install is one recorded installation.
type Install struct {
	InstalledAt  time.Time
	Version      string
	Path         string
	Verification string
	SessionID    string
}

// Store wraps the state database.
type Store struct {
	db   *sql.DB
	path string
}

// buildDSN creates a read-write WAL DSN for the given path.
func buildDSN(dbPath string) string {
	u := url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(dbPath),
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(3000)")
	q.Add("_pragma", "journal_mode(WAL)")
	u.RawQuery = q.Encode()
	return u.String()
}

// Open opens (creating if needed) the state database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, appErrors.New(appErrors.CodeStateStore, "state path is empty", nil)
	}
	//nolint:gosec // G301: User config directory needs standard permissions
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, appErrors.New(appErrors.CodeStateStore, "create state directory", err)
	}

	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, appErrors.New(appErrors.CodeStateStore, "open state db", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, appErrors.New(appErrors.CodeStateStore, "ping state db", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, appErrors.New(appErrors.CodeStateStore, "migrate state db", err)
	}
	debug.Info("state store opened", "path", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordCheck appends a check result.
func (s *Store) RecordCheck(ctx context.Context, c Check) error {
	if c.CheckedAt.IsZero() {
		c.CheckedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO update_checks (checked_at, current, latest, available, error_code)
		VALUES (?, ?, ?, ?, ?)
	`, c.CheckedAt.UnixNano(), c.Current, c.Latest, boolToInt(c.Available), c.ErrorCode)
	if err != nil {
		return appErrors.New(appErrors.CodeStateStore, "record update check", err)
	}
	return nil
}

// LastCheck returns the most recent check; ok is false if none was recorded.
func (s *Store) LastCheck(ctx context.Context) (Check, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT checked_at, current, latest, available, error_code
		FROM update_checks
		ORDER BY checked_at DESC, id DESC
		LIMIT 1
	`)
	var (
		c         Check
		at        int64
		available int
	)
	err := row.Scan(&at, &c.Current, &c.Latest, &available, &c.ErrorCode)
	if errors.Is(err, sql.ErrNoRows) {
		return Check{}, false, nil
	}
	if err != nil {
		return Check{}, false, appErrors.New(appErrors.CodeStateStore, "read last update check", err)
	}
	c.CheckedAt = time.Unix(0, at).UTC()
	c.Available = available != 0
	return c, true, nil
}

// NextCheckAllowed reports when the next check may run and whether that is
// already the case at now. A rate-limited last check pushes the wait to at
// least RateLimitCooldown.
func (s *Store) NextCheckAllowed(ctx context.Context, now time.Time, interval time.Duration) (time.Time, bool, error) {
	last, ok, err := s.LastCheck(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	if !ok {
		return now, true, nil
	}
	wait := interval
	if last.ErrorCode == string(appErrors.CodeRateLimited) && wait < RateLimitCooldown {
		wait = RateLimitCooldown
	}
	next := last.CheckedAt.Add(wait)
	return next, !now.Before(next), nil
}

// RecordInstall appends an install record.
func (s *Store) RecordInstall(ctx context.Context, in Install) error {
	if in.InstalledAt.IsZero() {
		in.InstalledAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO installs (installed_at, version, path, verification, session_id)
		VALUES (?, ?, ?, ?, ?)
	`, in.InstalledAt.UnixNano(), in.Version, in.Path, in.Verification, in.SessionID)
	if err != nil {
		return appErrors.New(appErrors.CodeStateStore, "record install", err)
	}
	return nil
}

// Installs returns up to limit installs, newest first. limit <= 0 means all.
func (s *Store) Installs(ctx context.Context, limit int) ([]Install, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT installed_at, version, path, verification, session_id
		FROM installs
		ORDER BY installed_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, appErrors.New(appErrors.CodeStateStore, "query installs", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []Install
	for rows.Next() {
		var (
			in Install
			at int64
		)
		if err := rows.Scan(&at, &in.Version, &in.Path, &in.Verification, &in.SessionID); err != nil {
			return nil, appErrors.New(appErrors.CodeStateStore, "scan install", err)
		}
		in.InstalledAt = time.Unix(0, at).UTC()
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.New(appErrors.CodeStateStore, "iterate installs", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// String renders a check for logs and the CLI.
func (c Check) String() string {
	switch {
	case c.ErrorCode != "":
		return fmt.Sprintf("%s: check failed (%s)", c.CheckedAt.Format(time.RFC3339), c.ErrorCode)
	case c.Available:
		return fmt.Sprintf("%s: %s available (running %s)", c.CheckedAt.Format(time.RFC3339), c.Latest, c.Current)
	default:
		return fmt.Sprintf("%s: up to date (%s)", c.CheckedAt.Format(time.RFC3339), c.Current)
	}
}
