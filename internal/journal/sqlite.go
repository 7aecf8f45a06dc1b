package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using SQLite via modernc.org/sqlite (pure Go).
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the journal database at dbPath.
// Use ":memory:" for testing.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and an in-memory
	// database exists only on the connection that created it.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: ping database: %w", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			server      TEXT NOT NULL DEFAULT '',
			session_id  TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT '',
			progress    REAL DEFAULT 0,
			state_json  TEXT NOT NULL,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_remote ON sessions(server, session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: create schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Save upserts an entry. An empty ID is replaced with a new UUID.
func (s *SQLiteStore) Save(ctx context.Context, e *Entry) error {
	if e.SessionID == "" {
		return errors.New("journal: entry has no session id")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	e.UpdatedAt = now
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}

	stateJSON, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("journal: marshal entry: %w", err)
	}

	query := `
		INSERT INTO sessions (id, server, session_id, status, progress, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			server     = excluded.server,
			session_id = excluded.session_id,
			status     = excluded.status,
			progress   = excluded.progress,
			state_json = excluded.state_json,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		e.ID,
		e.Server,
		e.SessionID,
		e.Status,
		e.Progress,
		string(stateJSON),
		e.CreatedAt.Format(timeLayout),
		e.UpdatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("journal: save entry: %w", err)
	}
	return nil
}

// Load retrieves an entry by its local ID.
// Returns (nil, nil) if no entry is found.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*Entry, error) {
	return s.loadOne(ctx, `SELECT state_json FROM sessions WHERE id = ?`, id)
}

// LoadBySession retrieves the most recently updated entry for a remote
// session on server. Returns (nil, nil) if no entry is found.
func (s *SQLiteStore) LoadBySession(ctx context.Context, server, sessionID string) (*Entry, error) {
	query := `
		SELECT state_json FROM sessions
		WHERE server = ? AND session_id = ?
		ORDER BY updated_at DESC
		LIMIT 1
	`
	return s.loadOne(ctx, query, server, sessionID)
}

// loadOne executes a query that returns a single state_json column and
// deserializes it into an Entry.
func (s *SQLiteStore) loadOne(ctx context.Context, query string, args ...any) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, query, args...)

	var stateJSON string
	if err := row.Scan(&stateJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("journal: scan row: %w", err)
	}

	var e Entry
	if err := json.Unmarshal([]byte(stateJSON), &e); err != nil {
		return nil, fmt.Errorf("journal: unmarshal entry: %w", err)
	}
	return &e, nil
}

// List returns every entry, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state_json FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("journal: list entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var stateJSON string
		if err := rows.Scan(&stateJSON); err != nil {
			return nil, fmt.Errorf("journal: scan entry row: %w", err)
		}
		var e Entry
		if err := json.Unmarshal([]byte(stateJSON), &e); err != nil {
			return nil, fmt.Errorf("journal: unmarshal entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate rows: %w", err)
	}
	return entries, nil
}

// Delete removes an entry by its local ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("journal: delete entry: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Cleanup removes entries whose updated_at is older than maxAge from now.
// It returns the number of deleted entries.
func (s *SQLiteStore) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(timeLayout)

	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("journal: cleanup entries: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("journal: rows affected: %w", err)
	}
	return deleted, nil
}
