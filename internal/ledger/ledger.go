// Package ledger keeps a SQLite record of what each import run did to each
// message, so failed messages can be found and re-run.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Entry is one message outcome.
type Entry struct {
	RunID      string    `db:"run_id"`
	MessageID  string    `db:"message_id"`
	Folder     string    `db:"folder"`
	Status     string    `db:"status"`
	RemoteIDs  string    `db:"remote_ids"`
	Attempts   int       `db:"attempts"`
	Error      string    `db:"error"`
	RecordedAt time.Time `db:"recorded_at"`
}

// Run is one invocation of the importer.
type Run struct {
	ID         string       `db:"id"`
	Mailbox    string       `db:"mailbox"`
	Account    string       `db:"account"`
	DryRun     bool         `db:"dry_run"`
	StartedAt  time.Time    `db:"started_at"`
	FinishedAt sql.NullTime `db:"finished_at"`
	State      string       `db:"state"`
	Error      string       `db:"error"`
}

// Store is the SQLite-backed ledger.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the ledger at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One writer; the importer is sequential anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// StartRun inserts a running row for run.
func (s *Store) StartRun(ctx context.Context, run Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Account == "" {
		run.Account = "me"
	}
	run.State = "running"
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO runs (id, mailbox, account, dry_run, started_at, state)
		VALUES (:id, :mailbox, :account, :dry_run, :started_at, :state)`, run)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun marks a run done, or failed when runErr is non-nil.
func (s *Store) FinishRun(ctx context.Context, id string, runErr error) error {
	state, msg := "done", ""
	if runErr != nil {
		state, msg = "failed", runErr.Error()
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE runs SET finished_at = ?, state = ?, error = ? WHERE id = ?",
		time.Now().UTC(), state, msg, id)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", id, err)
	}
	return nil
}

// Record appends entries in one transaction.
func (s *Store) Record(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO outcomes (
			run_id, message_id, folder, status,
			remote_ids, attempts, error, recorded_at
		) VALUES (
			:run_id, :message_id, :folder, :status,
			:remote_ids, :attempts, :error, :recorded_at
		)`
	stmt, err := tx.PrepareNamedContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, e := range entries {
		if e.RecordedAt.IsZero() {
			e.RecordedAt = now
		}
		if e.Attempts == 0 {
			e.Attempts = 1
		}
		if _, err := stmt.ExecContext(ctx, e); err != nil {
			return fmt.Errorf("inserting outcome for %s: %w", e.MessageID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing outcomes: %w", err)
	}
	return nil
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	var run Run
	err := s.db.GetContext(ctx, &run, "SELECT * FROM runs ORDER BY started_at DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("no runs recorded: %w", err)
	}
	if err != nil {
		return Run{}, fmt.Errorf("querying latest run: %w", err)
	}
	return run, nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	var run Run
	if err := s.db.GetContext(ctx, &run, "SELECT * FROM runs WHERE id = ?", id); err != nil {
		return Run{}, fmt.Errorf("querying run %s: %w", id, err)
	}
	return run, nil
}

// Counts returns outcome counts per status for a run.
func (s *Store) Counts(ctx context.Context, runID string) (map[string]int, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	err := s.db.SelectContext(ctx, &rows,
		"SELECT status, COUNT(*) AS n FROM outcomes WHERE run_id = ? GROUP BY status", runID)
	if err != nil {
		return nil, fmt.Errorf("counting outcomes: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// Failed lists a run's entries whose status is in statuses, oldest first.
func (s *Store) Failed(ctx context.Context, runID string, statuses ...string) ([]Entry, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT run_id, message_id, folder, status, remote_ids, attempts, error, recorded_at
		FROM outcomes WHERE run_id = ? AND status IN (?) ORDER BY id`, runID, statuses)
	if err != nil {
		return nil, fmt.Errorf("building failed query: %w", err)
	}
	var entries []Entry
	if err := s.db.SelectContext(ctx, &entries, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("querying failed outcomes: %w", err)
	}
	return entries, nil
}
