package scheduler

import (
	"sync"
	"time"

	"github.com/aristath/scenepilot/internal/task"
)

// Item is a queue entry.
type Item struct {
	ID          string
	Priority    task.Priority
	SubmittedAt time.Time
}

// Queue holds pending executions in one FIFO per priority level.
// Put never blocks and Get never waits: the dispatch loop polls it.
type Queue struct {
	mu     sync.Mutex
	levels [task.NumPriorities][]Item
	size   int
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Put appends item to the tail of its priority level. Out-of-range
// priorities are clamped.
func (q *Queue) Put(item Item) {
	lvl := level(item.Priority)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.levels[lvl] = append(q.levels[lvl], item)
	q.size++
}

// Get removes and returns the earliest item of the highest non-empty level.
func (q *Queue) Get() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for lvl := range q.levels {
		if len(q.levels[lvl]) == 0 {
			continue
		}
		item := q.levels[lvl][0]
		q.levels[lvl][0] = Item{}
		q.levels[lvl] = q.levels[lvl][1:]
		q.size--
		return item, true
	}
	return Item{}, false
}

// Remove deletes the item with the given ID. Returns false if absent.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for lvl, items := range q.levels {
		for i, item := range items {
			if item.ID != id {
				continue
			}
			q.levels[lvl] = append(items[:i:i], items[i+1:]...)
			q.size--
			return true
		}
	}
	return false
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Histogram returns the number of queued items per priority level.
func (q *Queue) Histogram() [task.NumPriorities]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	var h [task.NumPriorities]int
	for lvl, items := range q.levels {
		h[lvl] = len(items)
	}
	return h
}

func level(p task.Priority) int {
	switch {
	case p < task.PriorityCritical:
		return int(task.PriorityCritical)
	case p > task.PriorityBackground:
		return int(task.PriorityBackground)
	default:
		return int(p)
	}
}
