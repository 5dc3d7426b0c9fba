// Package archive keeps a queryable record of every processed inbound
// message in SQLite, so operators can audit what the assistant did with an
// email long after the mailbox itself has moved on.
package archive

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a lookup matches no archived message.
var ErrNotFound = errors.New("archive: not found")

// Entry is one processed inbound message.
type Entry struct {
	ID             string    `json:"id"`
	Sender         string    `json:"sender"`
	Subject        string    `json:"subject"`
	Outcome        string    `json:"outcome"`
	ConversationID string    `json:"conversation_id,omitempty"`
	TasksExtracted int       `json:"tasks_extracted"`
	ProcessedAt    time.Time `json:"processed_at"`
}

// Store wraps the SQLite archive database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the archive database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "taskpilot.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't
// been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// Record stores a processed message. Recording the same message id again
// overwrites the previous row; reprocessing is an operator action and the
// latest outcome is the interesting one.
func (s *Store) Record(e Entry) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO processed_messages (id, sender, subject, outcome, conversation_id, tasks_extracted, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Sender, e.Subject, e.Outcome, e.ConversationID, e.TasksExtracted,
		e.ProcessedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// Get returns one archived message by id.
func (s *Store) Get(id string) (Entry, error) {
	row := s.db.QueryRow(`
		SELECT id, sender, subject, outcome, conversation_id, tasks_extracted, processed_at
		FROM processed_messages WHERE id = ?`, id)
	return scanEntry(row)
}

// Seen reports whether a message id is already archived.
func (s *Store) Seen(id string) (bool, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM processed_messages WHERE id = ?", id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Recent returns the most recently processed messages, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, sender, subject, outcome, conversation_id, tasks_extracted, processed_at
		FROM processed_messages ORDER BY processed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// BySender returns a sender's processed messages, newest first.
func (s *Store) BySender(sender string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, sender, subject, outcome, conversation_id, tasks_extracted, processed_at
		FROM processed_messages WHERE sender = ? ORDER BY processed_at DESC, id DESC LIMIT ?`, sender, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var processedAt string
	err := row.Scan(&e.ID, &e.Sender, &e.Subject, &e.Outcome, &e.ConversationID, &e.TasksExtracted, &processedAt)
	if err == sql.ErrNoRows {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	t, err := time.Parse(time.RFC3339, processedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing processed_at: %w", err)
	}
	e.ProcessedAt = t
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
