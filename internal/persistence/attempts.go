package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/scenepilot/internal/task"
)

// Attempts returns the failed-attempt records of an execution in attempt
// order. An unknown execution yields an empty slice.
func (s *SQLiteStore) Attempts(ctx context.Context, executionID string) ([]task.AttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT attempt, kind, error, recovery, recovered, duration_ns
		FROM attempts
		WHERE execution_id = ?
		ORDER BY attempt
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	records := []task.AttemptRecord{}
	for rows.Next() {
		var (
			rec       task.AttemptRecord
			recovered int
			duration  int64
		)
		if err := rows.Scan(&rec.Attempt, &rec.Kind, &rec.Error, &rec.Recovery, &recovered, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		rec.Recovered = recovered != 0
		rec.Duration = time.Duration(duration)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempts: %w", err)
	}
	return records, nil
}
