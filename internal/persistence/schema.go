package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
// Timestamps are unix nanoseconds; 0 means unset.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		priority INTEGER NOT NULL,
		state TEXT NOT NULL,
		worker_id INTEGER NOT NULL,
		resources TEXT,
		requeues INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		progress REAL NOT NULL DEFAULT 0,
		error TEXT,
		submitted_at INTEGER NOT NULL,
		started_at INTEGER NOT NULL DEFAULT 0,
		finished_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_executions_task_id ON executions(task_id);
	CREATE INDEX IF NOT EXISTS idx_executions_state ON executions(state);

	CREATE TABLE IF NOT EXISTS execution_dependencies (
		execution_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (execution_id, depends_on_id),
		FOREIGN KEY (execution_id) REFERENCES executions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS attempts (
		execution_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		kind TEXT NOT NULL,
		error TEXT,
		recovery TEXT,
		recovered INTEGER NOT NULL DEFAULT 0,
		duration_ns INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (execution_id, attempt),
		FOREIGN KEY (execution_id) REFERENCES executions(id) ON DELETE CASCADE
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
