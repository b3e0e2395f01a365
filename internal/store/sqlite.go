package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides SQLite-backed persistence of install history
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// an in-memory database lives and dies with its connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("Store initialized successfully", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// InstallRun Operations
// ============================================================================

// CreateInstallRun inserts a new run, assigning its UUID when unset, and
// sets its ID
func (s *Store) CreateInstallRun(run *InstallRun) error {
	if run.UUID == "" {
		run.UUID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	const query = `
		INSERT INTO install_runs (
			uuid, command, source, target, start_time, end_time,
			status, failed_stage, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		run.UUID, run.Command, run.Source, run.Target, run.StartTime, run.EndTime,
		run.Status, run.FailedStage, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert install run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	run.ID = id
	return nil
}

// UpdateInstallRun updates an existing run by ID
func (s *Store) UpdateInstallRun(run *InstallRun) error {
	const query = `
		UPDATE install_runs SET
			command = ?, source = ?, target = ?, start_time = ?, end_time = ?,
			status = ?, failed_stage = ?, error_message = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(
		query,
		run.Command, run.Source, run.Target, run.StartTime, run.EndTime,
		run.Status, run.FailedStage, run.ErrorMessage, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update install run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("install run %d: %w", run.ID, ErrNotFound)
	}

	return nil
}

// FinishInstallRun stamps the end time and final status of a run. A nil
// err means success.
func (s *Store) FinishInstallRun(run *InstallRun, status, failedStage string, runErr error) error {
	run.EndTime = time.Now()
	run.Status = status
	run.FailedStage = failedStage
	if runErr != nil {
		run.ErrorMessage = runErr.Error()
	}
	return s.UpdateInstallRun(run)
}

const installRunColumns = `
	id, uuid, command, source, target, start_time, end_time,
	status, failed_stage, error_message
`

type scanner interface {
	Scan(dest ...any) error
}

func scanInstallRun(row scanner) (*InstallRun, error) {
	run := &InstallRun{}
	err := row.Scan(
		&run.ID, &run.UUID, &run.Command, &run.Source, &run.Target,
		&run.StartTime, &run.EndTime, &run.Status, &run.FailedStage, &run.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetInstallRun retrieves a run by ID
func (s *Store) GetInstallRun(id int64) (*InstallRun, error) {
	run, err := scanInstallRun(s.db.QueryRow("SELECT "+installRunColumns+" FROM install_runs WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("install run %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query install run: %w", err)
	}
	return run, nil
}

// GetInstallRunByUUID retrieves a run by its UUID
func (s *Store) GetInstallRunByUUID(id string) (*InstallRun, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("install run %q: %w", id, ErrNotFound)
	}
	run, err := scanInstallRun(s.db.QueryRow("SELECT "+installRunColumns+" FROM install_runs WHERE uuid = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("install run %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query install run: %w", err)
	}
	return run, nil
}

// ListInstallRuns retrieves runs, newest first
func (s *Store) ListInstallRuns(limit int) ([]InstallRun, error) {
	query := "SELECT " + installRunColumns + " FROM install_runs ORDER BY start_time DESC, id DESC"
	var args []interface{}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query install runs: %w", err)
	}
	defer rows.Close()

	var runs []InstallRun
	for rows.Next() {
		run, err := scanInstallRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan install run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating install runs: %w", err)
	}

	return runs, nil
}

// ============================================================================
// StageResult Operations
// ============================================================================

// AddStageResult inserts a stage outcome and sets its ID
func (s *Store) AddStageResult(res *StageResult) error {
	const query = `
		INSERT INTO stage_results (
			run_id, stage, status, fatal, start_time, duration_ms, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		res.RunID, res.Stage, res.Status, res.Fatal, res.StartTime,
		res.Duration.Milliseconds(), res.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert stage result: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	res.ID = id
	return nil
}

// ListStageResults returns the stage outcomes of a run in the order they
// were recorded
func (s *Store) ListStageResults(runID int64) ([]StageResult, error) {
	const query = `
		SELECT id, run_id, stage, status, fatal, start_time, duration_ms, error_message
		FROM stage_results WHERE run_id = ? ORDER BY id
	`

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage results: %w", err)
	}
	defer rows.Close()

	var results []StageResult
	for rows.Next() {
		var (
			res StageResult
			ms  int64
		)
		err := rows.Scan(
			&res.ID, &res.RunID, &res.Stage, &res.Status, &res.Fatal,
			&res.StartTime, &ms, &res.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stage result: %w", err)
		}
		res.Duration = time.Duration(ms) * time.Millisecond
		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stage results: %w", err)
	}

	return results, nil
}

// ============================================================================
// PackageAction Operations
// ============================================================================

// AddPackageActions records one action per package in a single transaction
func (s *Store) AddPackageActions(runID int64, stage, action string, packages []string, ok bool) error {
	if len(packages) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO package_actions (run_id, stage, action, package, ok)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare package action insert: %w", err)
	}
	defer stmt.Close()

	for _, pkg := range packages {
		if _, err := stmt.Exec(runID, stage, action, pkg, ok); err != nil {
			return fmt.Errorf("failed to insert package action for %s: %w", pkg, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit package actions: %w", err)
	}
	return nil
}

// ListPackageActions returns the package actions of a run
func (s *Store) ListPackageActions(runID int64) ([]PackageAction, error) {
	const query = `
		SELECT id, run_id, stage, action, package, ok
		FROM package_actions WHERE run_id = ? ORDER BY id
	`

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query package actions: %w", err)
	}
	defer rows.Close()

	var actions []PackageAction
	for rows.Next() {
		var a PackageAction
		if err := rows.Scan(&a.ID, &a.RunID, &a.Stage, &a.Action, &a.Package, &a.OK); err != nil {
			return nil, fmt.Errorf("failed to scan package action: %w", err)
		}
		actions = append(actions, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating package actions: %w", err)
	}

	return actions, nil
}
