// Package history provides local SQLite storage for the audit trail of
// grant and revoke actions performed through grantly.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Action is the kind of mutation recorded.
type Action string

const (
	ActionGrant  Action = "grant"
	ActionRevoke Action = "revoke"
)

// Entry is one recorded mutation.
type Entry struct {
	ID          int64
	Time        time.Time
	Action      Action
	ObjectKind  string
	ObjectID    int
	AccessType  string
	GranteeKind string // "user" or "group"
	GranteeID   int
	GranteeName string
	Succeeded   bool
}

// Store persists audit entries in a local SQLite database.
type Store struct {
	conn *sql.DB
	path string
}

// DefaultPath returns the standard history database location.
func DefaultPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.TempDir()
	}
	return filepath.Join(homeDir, ".config", "grantly", "history.db")
}

// Open opens or creates the history database at the given path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL mode for concurrent access; _loc=auto for datetime parsing.
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_loc=auto")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Store) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS actions (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    recorded_at  DATETIME NOT NULL,
    action       TEXT NOT NULL,
    object_kind  TEXT NOT NULL,
    object_id    INTEGER NOT NULL,
    access_type  TEXT NOT NULL,
    grantee_kind TEXT NOT NULL,
    grantee_id   INTEGER NOT NULL,
    grantee_name TEXT NOT NULL,
    succeeded    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_actions_recorded_at ON actions(recorded_at);
`
	_, err := s.conn.Exec(schema)
	return err
}

// Record appends one entry. Time defaults to now when zero.
func (s *Store) Record(e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	_, err := s.conn.Exec(`
INSERT INTO actions (recorded_at, action, object_kind, object_id, access_type, grantee_kind, grantee_id, grantee_name, succeeded)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Time, string(e.Action), e.ObjectKind, e.ObjectID, e.AccessType,
		e.GranteeKind, e.GranteeID, e.GranteeName, e.Succeeded,
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

// Recent returns the latest entries, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(`
SELECT id, recorded_at, action, object_kind, object_id, access_type, grantee_kind, grantee_id, grantee_name, succeeded
FROM actions
ORDER BY id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var action string
		if err := rows.Scan(&e.ID, &e.Time, &action, &e.ObjectKind, &e.ObjectID,
			&e.AccessType, &e.GranteeKind, &e.GranteeID, &e.GranteeName, &e.Succeeded); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		e.Action = Action(action)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
