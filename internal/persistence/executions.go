package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/scenepilot/internal/scheduler"
	"github.com/aristath/scenepilot/internal/task"
)

// ErrNotFound is returned when an execution ID has no archived row.
var ErrNotFound = errors.New("execution not found")

const executionColumns = `id, task_id, name, type, priority, state, worker_id, resources,
	requeues, attempts, progress, error, submitted_at, started_at, finished_at`

// SaveExecution upserts an execution with its dependencies and attempt
// records. It implements scheduler.Archive.
func (s *SQLiteStore) SaveExecution(ctx context.Context, exec scheduler.TaskExecution) error {
	// Begin transaction with serializable isolation (BEGIN IMMEDIATE)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO executions (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task_id = excluded.task_id,
			name = excluded.name,
			type = excluded.type,
			priority = excluded.priority,
			state = excluded.state,
			worker_id = excluded.worker_id,
			resources = excluded.resources,
			requeues = excluded.requeues,
			attempts = excluded.attempts,
			progress = excluded.progress,
			error = excluded.error,
			submitted_at = excluded.submitted_at,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, exec.ID, exec.TaskID, exec.Name, string(exec.Type), int(exec.Priority), exec.State.String(),
		exec.WorkerID, strings.Join(exec.Resources, ","), exec.Requeues, exec.Attempts, exec.Progress,
		exec.Error, unixNano(exec.SubmittedAt), unixNano(exec.StartedAt), unixNano(exec.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert execution: %w", err)
	}

	// Replace dependencies
	if _, err := tx.ExecContext(ctx, `DELETE FROM execution_dependencies WHERE execution_id = ?`, exec.ID); err != nil {
		return fmt.Errorf("failed to delete old dependencies: %w", err)
	}
	for _, depID := range exec.Dependencies {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO execution_dependencies (execution_id, depends_on_id)
			VALUES (?, ?)
		`, exec.ID, depID); err != nil {
			return fmt.Errorf("failed to insert dependency %s: %w", depID, err)
		}
	}

	// Replace attempt records
	if _, err := tx.ExecContext(ctx, `DELETE FROM attempts WHERE execution_id = ?`, exec.ID); err != nil {
		return fmt.Errorf("failed to delete old attempts: %w", err)
	}
	for _, rec := range exec.Records {
		recovered := 0
		if rec.Recovered {
			recovered = 1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO attempts (execution_id, attempt, kind, error, recovery, recovered, duration_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, exec.ID, rec.Attempt, rec.Kind, rec.Error, rec.Recovery, recovered, int64(rec.Duration)); err != nil {
			return fmt.Errorf("failed to insert attempt %d: %w", rec.Attempt, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID, including dependencies and
// attempt records.
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*scheduler.TaskExecution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query execution: %w", err)
	}

	if err := s.loadRelations(ctx, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// ListExecutions returns archived executions ordered by submission time.
func (s *SQLiteStore) ListExecutions(ctx context.Context, f Filter) ([]scheduler.TaskExecution, error) {
	var (
		where []string
		args  []any
	)
	if f.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, f.TaskID)
	}
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, f.State)
	}

	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY submitted_at, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	var execs []scheduler.TaskExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	rows.Close()

	// Relations are loaded after the outer cursor is released.
	for i := range execs {
		if err := s.loadRelations(ctx, &execs[i]); err != nil {
			return nil, err
		}
	}
	return execs, nil
}

// CountByState returns the number of archived executions per state name.
func (s *SQLiteStore) CountByState(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM executions GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[state] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}
	return counts, nil
}

func (s *SQLiteStore) loadRelations(ctx context.Context, exec *scheduler.TaskExecution) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT depends_on_id
		FROM execution_dependencies
		WHERE execution_id = ?
		ORDER BY depends_on_id
	`, exec.ID)
	if err != nil {
		return fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var depID string
		if err := rows.Scan(&depID); err != nil {
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		exec.Dependencies = append(exec.Dependencies, depID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating dependencies: %w", err)
	}
	rows.Close()

	records, err := s.Attempts(ctx, exec.ID)
	if err != nil {
		return err
	}
	exec.Records = records
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(sc scanner) (scheduler.TaskExecution, error) {
	var (
		exec                         scheduler.TaskExecution
		taskType, state, resources   string
		priority                     int
		submitted, started, finished int64
	)
	err := sc.Scan(&exec.ID, &exec.TaskID, &exec.Name, &taskType, &priority, &state, &exec.WorkerID,
		&resources, &exec.Requeues, &exec.Attempts, &exec.Progress, &exec.Error,
		&submitted, &started, &finished)
	if err != nil {
		return exec, err
	}

	exec.Type = task.TaskType(taskType)
	exec.Priority = task.Priority(priority)
	st, ok := scheduler.ParseState(state)
	if !ok {
		return exec, fmt.Errorf("unknown state %q for execution %s", state, exec.ID)
	}
	exec.State = st
	if resources != "" {
		exec.Resources = strings.Split(resources, ",")
	}
	exec.SubmittedAt = fromUnixNano(submitted)
	exec.StartedAt = fromUnixNano(started)
	exec.FinishedAt = fromUnixNano(finished)
	return exec, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
