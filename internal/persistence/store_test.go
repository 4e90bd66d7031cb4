package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/scenepilot/internal/scheduler"
	"github.com/aristath/scenepilot/internal/task"
)

// testStore creates an in-memory store for testing and registers cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func sampleExecution(id string, state scheduler.State, submitted time.Time) scheduler.TaskExecution {
	return scheduler.TaskExecution{
		ID:           id,
		TaskID:       "task-" + id,
		Name:         "Claim rewards",
		Type:         task.TypeCollection,
		Priority:     task.PriorityHigh,
		State:        state,
		SubmittedAt:  submitted,
		StartedAt:    submitted.Add(time.Second),
		FinishedAt:   submitted.Add(3 * time.Second),
		WorkerID:     2,
		Progress:     1,
		Dependencies: []string{"dep-b", "dep-a"},
		Resources:    []string{"screen", "input"},
		Requeues:     1,
		Attempts:     2,
		Records: []task.AttemptRecord{
			{Attempt: 1, Kind: "detection-failure", Error: "element not found", Recovery: "scroll-search", Recovered: true, Duration: 250 * time.Millisecond},
		},
	}
}

func TestSaveAndGetExecution(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	submitted := time.Now()

	exec := sampleExecution("exec-1", scheduler.StateCompleted, submitted)
	if err := store.SaveExecution(ctx, exec); err != nil {
		t.Fatalf("failed to save execution: %v", err)
	}

	got, err := store.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("failed to get execution: %v", err)
	}

	if got.TaskID != exec.TaskID {
		t.Errorf("expected TaskID %s, got %s", exec.TaskID, got.TaskID)
	}
	if got.Type != task.TypeCollection {
		t.Errorf("expected type collection, got %s", got.Type)
	}
	if got.Priority != task.PriorityHigh {
		t.Errorf("expected priority high, got %s", got.Priority)
	}
	if got.State != scheduler.StateCompleted {
		t.Errorf("expected state completed, got %s", got.State)
	}
	if got.WorkerID != 2 || got.Requeues != 1 || got.Attempts != 2 {
		t.Errorf("unexpected counters: worker=%d requeues=%d attempts=%d", got.WorkerID, got.Requeues, got.Attempts)
	}
	if !got.SubmittedAt.Equal(submitted) {
		t.Errorf("expected SubmittedAt %v, got %v", submitted, got.SubmittedAt)
	}
	if got.Duration() != 2*time.Second {
		t.Errorf("expected duration 2s, got %v", got.Duration())
	}

	// Dependencies come back sorted
	if len(got.Dependencies) != 2 || got.Dependencies[0] != "dep-a" || got.Dependencies[1] != "dep-b" {
		t.Errorf("unexpected dependencies %v", got.Dependencies)
	}
	if len(got.Resources) != 2 || got.Resources[0] != "screen" {
		t.Errorf("unexpected resources %v", got.Resources)
	}

	if len(got.Records) != 1 {
		t.Fatalf("expected 1 attempt record, got %d", len(got.Records))
	}
	rec := got.Records[0]
	if rec.Kind != "detection-failure" || !rec.Recovered || rec.Recovery != "scroll-search" {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.Duration != 250*time.Millisecond {
		t.Errorf("expected duration 250ms, got %v", rec.Duration)
	}
}

func TestGetExecution_NotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.GetExecution(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveExecution_UnstartedExecution(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	// Cancelled before dispatch: never started, no worker, no records
	exec := scheduler.TaskExecution{
		ID:          "exec-cancelled",
		TaskID:      "t",
		Name:        "Never ran",
		Type:        task.TypeCustom,
		Priority:    task.PriorityLow,
		State:       scheduler.StateCancelled,
		SubmittedAt: time.Now(),
		FinishedAt:  time.Now(),
		WorkerID:    -1,
	}
	if err := store.SaveExecution(ctx, exec); err != nil {
		t.Fatalf("failed to save execution: %v", err)
	}

	got, err := store.GetExecution(ctx, "exec-cancelled")
	if err != nil {
		t.Fatalf("failed to get execution: %v", err)
	}
	if !got.StartedAt.IsZero() {
		t.Errorf("expected zero StartedAt, got %v", got.StartedAt)
	}
	if got.WorkerID != -1 {
		t.Errorf("expected worker -1, got %d", got.WorkerID)
	}
	if len(got.Dependencies) != 0 || len(got.Resources) != 0 || len(got.Records) != 0 {
		t.Errorf("expected no relations, got deps=%v res=%v records=%v", got.Dependencies, got.Resources, got.Records)
	}
}

func TestSaveExecution_Upsert(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	exec := sampleExecution("exec-1", scheduler.StateFailed, time.Now())
	if err := store.SaveExecution(ctx, exec); err != nil {
		t.Fatalf("failed first save: %v", err)
	}

	exec.State = scheduler.StateCompleted
	exec.Dependencies = []string{"dep-c"}
	exec.Records = append(exec.Records, task.AttemptRecord{Attempt: 2, Kind: "timeout", Error: "step timed out"})
	exec.Error = ""
	if err := store.SaveExecution(ctx, exec); err != nil {
		t.Fatalf("failed second save: %v", err)
	}

	got, err := store.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("failed to get execution: %v", err)
	}
	if got.State != scheduler.StateCompleted {
		t.Errorf("expected state completed, got %s", got.State)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0] != "dep-c" {
		t.Errorf("expected dependencies replaced, got %v", got.Dependencies)
	}
	if len(got.Records) != 2 || got.Records[1].Kind != "timeout" {
		t.Errorf("expected 2 ordered records, got %+v", got.Records)
	}

	all, err := store.ListExecutions(ctx, Filter{})
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected upsert to keep 1 row, got %d", len(all))
	}
}

func TestListExecutions_Filter(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	base := time.Now()

	states := []scheduler.State{
		scheduler.StateCompleted,
		scheduler.StateFailed,
		scheduler.StateCompleted,
		scheduler.StateTimeout,
	}
	for i, st := range states {
		exec := sampleExecution(string(rune('a'+i)), st, base.Add(time.Duration(i)*time.Minute))
		if err := store.SaveExecution(ctx, exec); err != nil {
			t.Fatalf("failed to save %d: %v", i, err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all in submission order", Filter{}, []string{"a", "b", "c", "d"}},
		{"by state", Filter{State: "completed"}, []string{"a", "c"}},
		{"by task", Filter{TaskID: "task-d"}, []string{"d"}},
		{"limit", Filter{Limit: 2}, []string{"a", "b"}},
		{"no match", Filter{State: "cancelled"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListExecutions(ctx, tt.filter)
			if err != nil {
				t.Fatalf("failed to list: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d executions, got %d", len(tt.want), len(got))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
				}
				if len(got[i].Records) != 1 {
					t.Errorf("expected records loaded for %s", id)
				}
			}
		})
	}
}

func TestCountByState(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i, st := range []scheduler.State{scheduler.StateCompleted, scheduler.StateCompleted, scheduler.StateCancelled} {
		if err := store.SaveExecution(ctx, sampleExecution(string(rune('x'+i)), st, time.Now())); err != nil {
			t.Fatalf("failed to save: %v", err)
		}
	}

	counts, err := store.CountByState(ctx)
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if counts["completed"] != 2 || counts["cancelled"] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
	if _, ok := counts["failed"]; ok {
		t.Error("expected no entry for absent state")
	}
}

func TestAttempts_UnknownExecution(t *testing.T) {
	store := testStore(t)

	records, err := store.Attempts(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestMemoryStoresAreIsolated(t *testing.T) {
	a := testStore(t)
	b := testStore(t)
	ctx := context.Background()

	if err := a.SaveExecution(ctx, sampleExecution("only-in-a", scheduler.StateCompleted, time.Now())); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if _, err := b.GetExecution(ctx, "only-in-a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound in second store, got %v", err)
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nested", "history.db")

	store, err := NewSQLiteStore(ctx, dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.SaveExecution(ctx, sampleExecution("durable", scheduler.StateCompleted, time.Now())); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	reopened, err := NewSQLiteStore(ctx, dbPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetExecution(ctx, "durable")
	if err != nil {
		t.Fatalf("failed to get after reopen: %v", err)
	}
	if len(got.Records) != 1 {
		t.Errorf("expected attempt records to survive reopen, got %d", len(got.Records))
	}
}
