package recorder

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store keeps the run history in a local SQLite database. The status files
// remain the authoritative per-layer record; the store exists so past runs
// stay inspectable after the staging directory is cleaned.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a store backed by the database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &Store{path: path}, nil
}

// Init opens the database and enables WAL mode.
func (s *Store) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// A single agent process writes at a time; keep the pool tiny.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// CreateRun inserts a new run in the running state.
func (s *Store) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, project, roles, environment, status, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Project,
		strings.Join(run.Roles, ","),
		run.Environment,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished with the given status.
func (s *Store) CompleteRun(ctx context.Context, id string, status RunStatus) error {
	query := `UPDATE runs SET status = ?, completed_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, project, roles, environment, status, started_at, completed_at
		FROM runs
		WHERE id = ?
	`
	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, project, roles, environment, status, started_at, completed_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// RecordStage inserts one stage result.
func (s *Store) RecordStage(ctx context.Context, res *StageResult) error {
	query := `
		INSERT INTO stage_results (run_id, layer_path, stage, exit_code, duration_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		res.RunID,
		res.LayerPath,
		res.Stage,
		res.ExitCode,
		res.Duration.Milliseconds(),
		res.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record stage result: %w", err)
	}
	return nil
}

// StageResults returns all stage results of a run in recording order.
func (s *Store) StageResults(ctx context.Context, runID string) ([]*StageResult, error) {
	query := `
		SELECT run_id, layer_path, stage, exit_code, duration_ms, recorded_at
		FROM stage_results
		WHERE run_id = ?
		ORDER BY recorded_at, rowid
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*StageResult
	for rows.Next() {
		res := &StageResult{}
		var durationMS int64
		if err := rows.Scan(&res.RunID, &res.LayerPath, &res.Stage, &res.ExitCode, &durationMS, &res.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stage result: %w", err)
		}
		res.Duration = time.Duration(durationMS) * time.Millisecond
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stage results: %w", err)
	}
	return results, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var roles string
	if err := row.Scan(&run.ID, &run.Project, &roles, &run.Environment, &run.Status, &run.StartedAt, &run.CompletedAt); err != nil {
		return nil, err
	}
	if roles != "" {
		run.Roles = strings.Split(roles, ",")
	}
	return run, nil
}
