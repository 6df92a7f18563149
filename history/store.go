// Package history records completed runs in a local SQLite database.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run is one recorded execution.
type Run struct {
	ID       string
	Program  string
	Outcome  string // "ok" or the fault text
	Steps    uint64
	Duration time.Duration
	Started  time.Time
}

// Store handles SQLite storage for run records.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		program TEXT NOT NULL,
		outcome TEXT NOT NULL,
		steps INTEGER NOT NULL,
		duration_us INTEGER NOT NULL,
		started_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record inserts a completed run. A missing ID is generated; the assigned
// ID is returned.
func (s *Store) Record(run Run) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := run.ID
	if id == "" {
		id = uuid.New().String()
	}

	_, err := s.db.Exec(
		"INSERT INTO runs (id, program, outcome, steps, duration_us, started_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, run.Program, run.Outcome, run.Steps,
		run.Duration.Microseconds(), run.Started.UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("recording run: %w", err)
	}
	return id, nil
}

// Recent returns the latest n runs, newest first.
func (s *Store) Recent(n int) ([]Run, error) {
	rows, err := s.db.Query(
		"SELECT id, program, outcome, steps, duration_us, started_at FROM runs ORDER BY started_at DESC LIMIT ?",
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ByProgram returns the latest n runs of one program, newest first.
func (s *Store) ByProgram(program string, n int) ([]Run, error) {
	rows, err := s.db.Query(
		"SELECT id, program, outcome, steps, duration_us, started_at FROM runs WHERE program = ? ORDER BY started_at DESC LIMIT ?",
		program, n,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs by program: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		var (
			run        Run
			durationUS int64
			startedNS  int64
		)
		if err := rows.Scan(&run.ID, &run.Program, &run.Outcome, &run.Steps, &durationUS, &startedNS); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		run.Duration = time.Duration(durationUS) * time.Microsecond
		run.Started = time.Unix(0, startedNS)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
