package scheduler

import (
	"testing"
	"time"

	"github.com/aristath/scenepilot/internal/task"
)

func TestQueue_PriorityThenFIFO(t *testing.T) {
	q := NewQueue()
	now := time.Now()
	q.Put(Item{ID: "low-1", Priority: task.PriorityLow, SubmittedAt: now})
	q.Put(Item{ID: "normal-1", Priority: task.PriorityNormal, SubmittedAt: now})
	q.Put(Item{ID: "critical-1", Priority: task.PriorityCritical, SubmittedAt: now})
	q.Put(Item{ID: "normal-2", Priority: task.PriorityNormal, SubmittedAt: now})
	q.Put(Item{ID: "background-1", Priority: task.PriorityBackground, SubmittedAt: now})

	want := []string{"critical-1", "normal-1", "normal-2", "low-1", "background-1"}
	for i, id := range want {
		item, ok := q.Get()
		if !ok {
			t.Fatalf("Get %d: queue empty", i)
		}
		if item.ID != id {
			t.Errorf("Get %d: expected %s, got %s", i, id, item.ID)
		}
	}
	if _, ok := q.Get(); ok {
		t.Error("expected empty queue")
	}
}

func TestQueue_RemoveAndHistogram(t *testing.T) {
	q := NewQueue()
	q.Put(Item{ID: "a", Priority: task.PriorityHigh})
	q.Put(Item{ID: "b", Priority: task.PriorityHigh})
	q.Put(Item{ID: "c", Priority: task.PriorityLow})

	if !q.Remove("a") {
		t.Fatal("expected Remove(a) to succeed")
	}
	if q.Remove("a") {
		t.Error("expected second Remove(a) to fail")
	}
	if q.Len() != 2 {
		t.Errorf("expected length 2, got %d", q.Len())
	}

	h := q.Histogram()
	if h[task.PriorityHigh] != 1 || h[task.PriorityLow] != 1 {
		t.Errorf("unexpected histogram %v", h)
	}

	item, _ := q.Get()
	if item.ID != "b" {
		t.Errorf("expected b after removing a, got %s", item.ID)
	}
}

func TestQueue_RequeueGoesToTail(t *testing.T) {
	q := NewQueue()
	q.Put(Item{ID: "first", Priority: task.PriorityNormal})
	q.Put(Item{ID: "second", Priority: task.PriorityNormal})

	item, _ := q.Get()
	q.Put(item)

	next, _ := q.Get()
	if next.ID != "second" {
		t.Errorf("expected second after requeue, got %s", next.ID)
	}
}

func TestQueue_ClampsPriority(t *testing.T) {
	q := NewQueue()
	q.Put(Item{ID: "too-high", Priority: task.Priority(-3)})
	q.Put(Item{ID: "too-low", Priority: task.Priority(42)})

	h := q.Histogram()
	if h[0] != 1 || h[task.NumPriorities-1] != 1 {
		t.Errorf("expected clamped levels, got %v", h)
	}
}
