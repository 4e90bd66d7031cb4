package scheduler

import (
	"fmt"
	"strings"

	"github.com/gammazero/toposort"

	"github.com/aristath/scenepilot/internal/task"
)

// PlanEntry is one task of a batch. DependsOn names other entries of the
// same batch by their TaskConfig.ID.
type PlanEntry struct {
	Config    task.TaskConfig
	DependsOn []string
	Resources []string
}

// OrderPlan runs a topological sort over the batch using gammazero/toposort.
// Returns entry IDs with every entry after its dependencies, or an error on
// duplicate IDs, unknown dependencies or a cycle.
func OrderPlan(entries []PlanEntry) ([]string, error) {
	known := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Config.ID == "" {
			return nil, fmt.Errorf("plan entry %q has no id", e.Config.Name)
		}
		if known[e.Config.ID] {
			return nil, fmt.Errorf("plan entry %q already exists", e.Config.ID)
		}
		known[e.Config.ID] = true
	}

	for _, e := range entries {
		for _, dep := range e.DependsOn {
			if !known[dep] {
				return nil, fmt.Errorf("task %q depends on non-existent task %q", e.Config.ID, dep)
			}
		}
	}

	var edges []toposort.Edge
	for _, e := range entries {
		if len(e.DependsOn) == 0 {
			// Task with no dependencies - edge from nil keeps it in the result
			edges = append(edges, toposort.Edge{nil, e.Config.ID})
			continue
		}
		for _, dep := range e.DependsOn {
			edges = append(edges, toposort.Edge{dep, e.Config.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("plan contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(entries) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for _, e := range entries {
			if !found[e.Config.ID] {
				missing = append(missing, e.Config.ID)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// SubmitPlan orders the batch and submits it, translating plan IDs into
// execution dependencies. Returns plan ID to execution ID. On error the
// entries submitted so far stay queued and are included in the map.
func (p *Pool) SubmitPlan(entries []PlanEntry) (map[string]string, error) {
	order, err := OrderPlan(entries)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]PlanEntry, len(entries))
	for _, e := range entries {
		byID[e.Config.ID] = e
	}

	ids := make(map[string]string, len(entries))
	for _, key := range order {
		e := byID[key]
		deps := make([]string, 0, len(e.DependsOn))
		for _, d := range e.DependsOn {
			deps = append(deps, ids[d])
		}
		id, err := p.Submit(e.Config, WithDependencies(deps...), WithResources(e.Resources...))
		if err != nil {
			return ids, fmt.Errorf("submitting %q: %w", key, err)
		}
		ids[key] = id
	}
	return ids, nil
}
