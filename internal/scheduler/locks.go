package scheduler

import (
	"sort"
	"sync"
)

// ResourceLockManager provides per-resource mutual exclusion between tasks.
// Each resource name gets its own mutex, so tasks touching different
// resources run concurrently while tasks sharing one are serialized.
type ResourceLockManager struct {
	mu    sync.Mutex             // Guards the locks map itself
	locks map[string]*sync.Mutex // Per-resource mutexes
}

// NewResourceLockManager creates a new ResourceLockManager.
func NewResourceLockManager() *ResourceLockManager {
	return &ResourceLockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

func (r *ResourceLockManager) get(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, exists := r.locks[name]
	if !exists {
		l = &sync.Mutex{}
		r.locks[name] = l
	}
	return l
}

// Lock acquires the mutex for the named resource, creating it on first use.
func (r *ResourceLockManager) Lock(name string) {
	r.get(name).Lock()
}

// TryLock acquires the named resource without waiting.
func (r *ResourceLockManager) TryLock(name string) bool {
	return r.get(name).TryLock()
}

// Unlock releases the mutex for the named resource.
func (r *ResourceLockManager) Unlock(name string) {
	r.mu.Lock()
	l, exists := r.locks[name]
	r.mu.Unlock()

	if exists {
		l.Unlock()
	}
}

// LockAll acquires every named resource in sorted order, which keeps two
// overlapping sets from deadlocking.
func (r *ResourceLockManager) LockAll(names []string) {
	for _, name := range sortedCopy(names) {
		r.Lock(name)
	}
}

// TryLockAll acquires every named resource or none. Used by the dispatch
// loop so a busy resource requeues the task instead of holding a worker.
func (r *ResourceLockManager) TryLockAll(names []string) bool {
	sorted := sortedCopy(names)
	for i, name := range sorted {
		if r.TryLock(name) {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			r.Unlock(sorted[j])
		}
		return false
	}
	return true
}

// UnlockAll releases every named resource in reverse sorted order.
func (r *ResourceLockManager) UnlockAll(names []string) {
	sorted := sortedCopy(names)
	for i := len(sorted) - 1; i >= 0; i-- {
		r.Unlock(sorted[i])
	}
}

// sortedCopy returns a sorted, de-duplicated copy of names.
func sortedCopy(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)
	out := sorted[:1]
	for _, n := range sorted[1:] {
		if n != out[len(out)-1] {
			out = append(out, n)
		}
	}
	return out
}
