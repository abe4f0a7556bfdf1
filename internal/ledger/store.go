// Package ledger keeps the observational record of a run: an append-only
// SQLite event log per pipeline and the failure sentinels that stop a
// pipeline from being resumed.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fentz26/showerflow/internal/models"
)

// ErrNoLedger is returned by OpenExisting when the run has no ledger.
var ErrNoLedger = errors.New("no ledger in run directory")

// Store provides access to the ledger database.
type Store struct {
	db    *sql.DB
	runID string
}

// Open opens or creates the ledger at dbPath and runs migrations.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode so inspection can read while a run writes
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// OpenExisting opens the ledger only if it already exists.
func OpenExisting(dbPath string) (*Store, error) {
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoLedger
	}
	return Open(dbPath)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		args TEXT,
		pid INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		outcome TEXT
	);

	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		run_id TEXT,
		timestamp DATETIME NOT NULL,
		pipeline TEXT NOT NULL,
		step TEXT NOT NULL,
		input_hash TEXT,
		event TEXT NOT NULL,
		value TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_events_pipeline ON events(pipeline, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- Run Operations ---

// BeginRun records the start of a run invocation. Events recorded
// afterwards carry its id.
func (s *Store) BeginRun(ctx context.Context, command string, args []string) (*models.RunRecord, error) {
	run := &models.RunRecord{
		ID:        uuid.New().String(),
		Command:   command,
		Args:      args,
		PID:       os.Getpid(),
		StartedAt: time.Now().UTC(),
	}
	argsJSON, _ := json.Marshal(args)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, command, args, pid, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Command, string(argsJSON), run.PID, run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	s.runID = run.ID
	return run, nil
}

// EndRun stores the outcome of a run invocation.
func (s *Store) EndRun(ctx context.Context, id, outcome string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET ended_at = ?, outcome = ? WHERE id = ?`,
		time.Now().UTC(), outcome, id,
	)
	return err
}

// Runs returns every run, most recent first.
func (s *Store) Runs(ctx context.Context) ([]models.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, command, args, pid, started_at, ended_at, outcome FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunRecord
	for rows.Next() {
		var run models.RunRecord
		var argsJSON, outcome sql.NullString
		var endedAt sql.NullTime
		if err := rows.Scan(&run.ID, &run.Command, &argsJSON, &run.PID, &run.StartedAt, &endedAt, &outcome); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if argsJSON.Valid && argsJSON.String != "" {
			json.Unmarshal([]byte(argsJSON.String), &run.Args)
		}
		if endedAt.Valid {
			run.EndedAt = &endedAt.Time
		}
		run.Outcome = outcome.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- Event Operations ---

// Record appends one event. ID, run id and timestamp are filled in when
// empty.
func (s *Store) Record(ctx context.Context, e models.LedgerEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.RunID == "" {
		e.RunID = s.runID
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, run_id, timestamp, pipeline, step, input_hash, event, value) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunID, e.Timestamp.UTC(), e.Pipeline, e.Step, e.InputHash, string(e.Event), e.Value,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Entries returns the events of one pipeline, or of every pipeline when
// pipeline is empty, in append order.
func (s *Store) Entries(ctx context.Context, pipeline string) ([]models.LedgerEntry, error) {
	query := `SELECT id, run_id, timestamp, pipeline, step, input_hash, event, value FROM events`
	var args []interface{}
	if pipeline != "" {
		query += ` WHERE pipeline = ?`
		args = append(args, pipeline)
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var runID, hash, value sql.NullString
		var event string
		if err := rows.Scan(&e.ID, &runID, &e.Timestamp, &e.Pipeline, &e.Step, &hash, &event, &value); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.RunID = runID.String
		e.InputHash = hash.String
		e.Event = models.EventType(event)
		e.Value = value.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Pipelines returns the ids of every pipeline with at least one event.
func (s *Store) Pipelines(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT pipeline FROM events ORDER BY pipeline`)
	if err != nil {
		return nil, fmt.Errorf("query pipelines: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
