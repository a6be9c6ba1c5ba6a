// Package storage provides the persistent store for users, trading ideas and
// tags, backed by SQLite.
//
// The store owns the denormalized counters (idea like counts, per-user idea
// counts, per-tag usage counts). Every mutation that changes a relation
// feeding a counter adjusts the counter in the same transaction, using a
// relative update (count = count ± 1) rather than writing back a value read
// earlier, so concurrent mutations never lose updates.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrorKind classifies store failures.
type ErrorKind int

const (
	// Unavailable means the database could not serve the request.
	Unavailable ErrorKind = iota + 1
	// ConstraintViolation means the request conflicts with stored data.
	ConstraintViolation
	// NotFound means a referenced row does not exist.
	NotFound
	// Forbidden means the requester may not modify the row.
	Forbidden
)

func (k ErrorKind) String() string {
	switch k {
	case Unavailable:
		return "store unavailable"
	case ConstraintViolation:
		return "constraint violation"
	case NotFound:
		return "not found"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Error is a store-specific error
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

// Sentinels for errors.Is matching on Kind.
var (
	ErrStoreUnavailable    = &Error{Kind: Unavailable}
	ErrConstraintViolation = &Error{Kind: ConstraintViolation}
	ErrNotFound            = &Error{Kind: NotFound}
	ErrForbidden           = &Error{Kind: Forbidden}
)

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("storage %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("storage %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

func newError(op string, kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// wrap classifies a database error.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &Error{Op: op, Kind: NotFound, Err: err}
	}
	msg := err.Error()
	if strings.Contains(msg, "constraint failed") || strings.Contains(msg, "CONSTRAINT") {
		return &Error{Op: op, Kind: ConstraintViolation, Err: err}
	}
	return &Error{Op: op, Kind: Unavailable, Err: err}
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	image          TEXT NOT NULL DEFAULT '',
	wallet_address TEXT,
	ideas_count    INTEGER NOT NULL DEFAULT 0 CHECK (ideas_count >= 0),
	created_at     INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_wallet ON users(wallet_address) WHERE wallet_address IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_users_ideas_count ON users(ideas_count DESC, id);

CREATE TABLE IF NOT EXISTS tags (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	usage_count INTEGER NOT NULL DEFAULT 0 CHECK (usage_count >= 0)
);
CREATE INDEX IF NOT EXISTS idx_tags_usage ON tags(usage_count DESC, id);

CREATE TABLE IF NOT EXISTS ideas (
	id         TEXT PRIMARY KEY,
	author_id  TEXT NOT NULL REFERENCES users(id),
	title      TEXT NOT NULL,
	body       TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	like_count INTEGER NOT NULL DEFAULT 0 CHECK (like_count >= 0)
);
CREATE INDEX IF NOT EXISTS idx_ideas_trending ON ideas(like_count DESC, created_at DESC, id);
CREATE INDEX IF NOT EXISTS idx_ideas_recent ON ideas(created_at DESC, id);
CREATE INDEX IF NOT EXISTS idx_ideas_author ON ideas(author_id);

CREATE TABLE IF NOT EXISTS idea_tags (
	idea_id TEXT NOT NULL REFERENCES ideas(id) ON DELETE CASCADE,
	tag_id  TEXT NOT NULL REFERENCES tags(id),
	PRIMARY KEY (idea_id, tag_id)
);
CREATE INDEX IF NOT EXISTS idx_idea_tags_tag ON idea_tags(tag_id);

CREATE TABLE IF NOT EXISTS idea_likes (
	idea_id    TEXT NOT NULL REFERENCES ideas(id) ON DELETE CASCADE,
	user_id    TEXT NOT NULL REFERENCES users(id),
	created_at INTEGER NOT NULL,
	PRIMARY KEY (idea_id, user_id)
);
`

// Storage is the SQLite-backed store. It is safe for concurrent use.
type Storage struct {
	db  *sql.DB
	now func() time.Time
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// New opens (creating if needed) the database at dbPath and applies the schema.
// Use ":memory:" for an ephemeral database.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "coinpulse", "coinpulse.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer. One connection serializes transactions in
	// process instead of surfacing SQLITE_BUSY, and keeps ":memory:" databases
	// on a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if dbPath != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Storage{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return wrap("ping", s.db.PingContext(ctx))
}

// withTx runs fn inside a transaction, committing on success.
func (s *Storage) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return wrap(op, err)
	}
	if err := tx.Commit(); err != nil {
		return wrap(op, err)
	}
	return nil
}

func (s *Storage) timestamp() int64 {
	return s.now().UTC().UnixNano()
}

func fromTimestamp(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// placeholders returns "?, ?, ..." for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
