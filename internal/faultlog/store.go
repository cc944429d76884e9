package faultlog

import (
	"database/sql"
	_ "embed"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store is a SQLite-backed fault sink with query access.
// Uses WAL mode so operators can read fault history while the process
// is still writing.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenStore creates or opens a fault database at the given path and
// applies the schema. Idempotent; safe to call on an existing database.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open fault database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect fault database: %w", err)
	}

	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent task completions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply fault schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Record inserts one failure row.
func (s *Store) Record(f Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO failures (occurred_at, tx, module, handler, seq, error, stack)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.Time.UTC().Format("2006-01-02 15:04:05.000000"),
		f.Transaction, f.Module, f.Handler, f.Seq, f.Err, string(f.Stack),
	)
	if err != nil {
		return fmt.Errorf("insert failure: %w", err)
	}
	return nil
}

// Count returns the number of recorded failures.
func (s *Store) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM failures`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count failures: %w", err)
	}
	return n, nil
}

// Failures returns all recorded failures in admission-sequence order.
func (s *Store) Failures() ([]Failure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT occurred_at, tx, module, handler, seq, error, stack
		 FROM failures ORDER BY seq, id`)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		var occurredAt, stack string
		if err := rows.Scan(&occurredAt, &f.Transaction, &f.Module, &f.Handler, &f.Seq, &f.Err, &stack); err != nil {
			return nil, fmt.Errorf("scan failure row: %w", err)
		}
		if t, err := parseStoredTime(occurredAt); err == nil {
			f.Time = t
		}
		if stack != "" {
			f.Stack = []byte(stack)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
