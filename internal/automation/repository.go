package automation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository archives terminal runs.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// SaveRun inserts or replaces the record for run.ID.
	SaveRun(ctx context.Context, run *ActionRun) error

	// GetRun returns ErrRunNotFound for unknown IDs.
	GetRun(ctx context.Context, id string) (*ActionRun, error)

	// ListRuns returns the newest runs first. sequenceID filters when non-empty.
	ListRuns(ctx context.Context, sequenceID string, limit int) ([]ActionRun, error)

	// PruneRuns keeps the newest keep runs and deletes the rest.
	PruneRuns(ctx context.Context, keep int) (int64, error)
}

// maxListLimit caps ListRuns.
const maxListLimit = 500

// runColumns is the SELECT column list for run queries.
const runColumns = `id, sequence_id, origin, device_id, account, state, result, reason, message,
			step_index, step_count, attempt, interactions, last_confidence,
			started_at, finished_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// SaveRun inserts or replaces a run record.
func (r *SQLiteRepository) SaveRun(ctx context.Context, run *ActionRun) error {
	var durationMS sql.NullInt64
	if run.FinishedAt != nil {
		durationMS = sql.NullInt64{Int64: run.Duration().Milliseconds(), Valid: true}
	}

	query := `
		INSERT OR REPLACE INTO runs (
			id, sequence_id, origin, device_id, account, state, result, reason, message,
			step_index, step_count, attempt, interactions, last_confidence,
			started_at, finished_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.SequenceID,
		string(run.Origin),
		nullableString(run.DeviceID),
		nullableString(run.Account),
		string(run.State),
		nullableString(string(run.Result)),
		nullableString(string(run.Reason)),
		nullableString(run.Message),
		run.StepIndex,
		run.StepCount,
		run.Attempt,
		run.Interactions,
		run.LastConfidence,
		formatTime(run.StartedAt),
		nullableTime(run.FinishedAt),
		durationMS,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*ActionRun, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	run, err := scanRunRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves recent runs, newest first.
func (r *SQLiteRepository) ListRuns(ctx context.Context, sequenceID string, limit int) ([]ActionRun, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	args := []any{}
	if sequenceID != "" {
		query += ` WHERE sequence_id = ?`
		args = append(args, sequenceID)
	}
	query += ` ORDER BY started_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	runs := []ActionRun{}
	for rows.Next() {
		run, scanErr := scanRunRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning run: %w", scanErr)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// PruneRuns deletes all but the newest keep runs.
func (r *SQLiteRepository) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, id LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning runs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRunRow(scanner rowScanner) (*ActionRun, error) {
	var run ActionRun
	var origin, state, startedAt string
	var deviceID, account, result, reason, message, finishedAt sql.NullString
	var lastConfidence sql.NullFloat64

	err := scanner.Scan(
		&run.ID,
		&run.SequenceID,
		&origin,
		&deviceID,
		&account,
		&state,
		&result,
		&reason,
		&message,
		&run.StepIndex,
		&run.StepCount,
		&run.Attempt,
		&run.Interactions,
		&lastConfidence,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Origin = Origin(origin)
	run.State = RunState(state)
	run.DeviceID = deviceID.String
	run.Account = account.String
	run.Result = RunState(result.String)
	run.Reason = Reason(reason.String)
	run.Message = message.String
	run.LastConfidence = lastConfidence.Float64

	if t, parseErr := time.Parse(time.RFC3339Nano, startedAt); parseErr == nil {
		run.StartedAt = t
	}
	if finishedAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339Nano, finishedAt.String); parseErr == nil {
			run.FinishedAt = &t
		}
	}

	return &run, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// formatTime stores UTC with a fixed-width fraction so text order is time order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
