package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gastown-tools/gtcycle/internal/domain"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run ID has no row.
var ErrNotFound = errors.New("run not found")

// Store provides SQLite-backed run persistence
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	// Run migrations
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a run at cycle start, before any outcome is known
func (s *Store) CreateRun(run *domain.Run) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, workload_id, workload_name, prompt_file, report_dir, started_at, timeout_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workload_id = excluded.workload_id,
			workload_name = excluded.workload_name,
			prompt_file = excluded.prompt_file,
			report_dir = excluded.report_dir,
			started_at = excluded.started_at,
			timeout_seconds = excluded.timeout_seconds
	`,
		run.ID,
		run.WorkloadID,
		run.WorkloadName,
		run.PromptFile,
		run.ReportDir,
		run.StartedAt,
		int(run.Timeout.Seconds()),
	)
	return err
}

// FinishRun records the outcome fields once the cycle completes
func (s *Store) FinishRun(run *domain.Run) error {
	res, err := s.db.Exec(`
		UPDATE runs SET
			finished_at = ?,
			landed = ?,
			elapsed_seconds = ?,
			trace_pid = ?,
			session_starts = ?,
			polecat_spawns = ?,
			input_tokens = ?,
			output_tokens = ?,
			errors = ?
		WHERE id = ?
	`,
		run.FinishedAt,
		run.Landed,
		int(run.Elapsed.Seconds()),
		run.TracePID,
		run.SessionStarts,
		run.PolecatSpawns,
		run.InputTokens,
		run.OutputTokens,
		run.Errors,
		run.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordPhase inserts or updates one phase outcome
func (s *Store) RecordPhase(runID string, ph domain.PhaseResult) error {
	_, err := s.db.Exec(`
		INSERT INTO phases (run_id, seq, name, artifact, ok, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO UPDATE SET
			name = excluded.name,
			artifact = excluded.artifact,
			ok = excluded.ok,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`,
		runID,
		ph.Seq,
		ph.Name,
		ph.Artifact,
		ph.OK,
		ph.StartedAt,
		ph.FinishedAt,
	)
	return err
}

// GetRun retrieves one run with its phases
func (s *Store) GetRun(id string) (*domain.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, workload_id, workload_name, prompt_file, report_dir, started_at, finished_at,
		       landed, elapsed_seconds, timeout_seconds, trace_pid,
		       session_starts, polecat_spawns, input_tokens, output_tokens, errors
		FROM runs WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT seq, name, artifact, ok, started_at, finished_at
		FROM phases WHERE run_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var ph domain.PhaseResult
		if err := rows.Scan(&ph.Seq, &ph.Name, &ph.Artifact, &ph.OK, &ph.StartedAt, &ph.FinishedAt); err != nil {
			return nil, err
		}
		run.Phases = append(run.Phases, ph)
	}
	return run, rows.Err()
}

// ListOptions specifies filters for listing runs
type ListOptions struct {
	WorkloadID string
	Limit      int
}

// ListRuns returns runs newest first
func (s *Store) ListRuns(opts ListOptions) ([]*domain.Run, error) {
	query := `
		SELECT id, workload_id, workload_name, prompt_file, report_dir, started_at, finished_at,
		       landed, elapsed_seconds, timeout_seconds, trace_pid,
		       session_starts, polecat_spawns, input_tokens, output_tokens, errors
		FROM runs WHERE 1=1`
	var args []interface{}

	if opts.WorkloadID != "" {
		query += " AND workload_id = ?"
		args = append(args, opts.WorkloadID)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*domain.Run, error) {
	var run domain.Run
	var finishedAt sql.NullTime
	var elapsedSec, timeoutSec int

	err := row.Scan(
		&run.ID,
		&run.WorkloadID,
		&run.WorkloadName,
		&run.PromptFile,
		&run.ReportDir,
		&run.StartedAt,
		&finishedAt,
		&run.Landed,
		&elapsedSec,
		&timeoutSec,
		&run.TracePID,
		&run.SessionStarts,
		&run.PolecatSpawns,
		&run.InputTokens,
		&run.OutputTokens,
		&run.Errors,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	run.Elapsed = time.Duration(elapsedSec) * time.Second
	run.Timeout = time.Duration(timeoutSec) * time.Second
	return &run, nil
}
