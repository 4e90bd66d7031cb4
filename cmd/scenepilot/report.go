package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/aristath/scenepilot/internal/scheduler"
)

// printExecutions writes one row per execution followed by a state summary.
func printExecutions(out io.Writer, execs []scheduler.TaskExecution) {
	if len(execs) == 0 {
		fmt.Fprintln(out, "No executions.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tPRIORITY\tSTATE\tATTEMPTS\tDURATION\tERROR")
	fmt.Fprintln(w, "--\t----\t----\t--------\t-----\t--------\t--------\t-----")
	for _, e := range execs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			shortID(e.ID), e.Name, e.Type, e.Priority, e.State,
			e.Attempts, e.Duration().Round(time.Millisecond), truncate(e.Error, 60))
	}
	w.Flush()

	counts := make(map[string]int)
	for _, e := range execs {
		counts[e.State.String()]++
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Total: %d, %s\n", len(execs), formatCounts(counts))
}

func formatCounts(counts map[string]int) string {
	states := make([]string, 0, len(counts))
	for s := range counts {
		states = append(states, s)
	}
	sort.Strings(states)

	parts := make([]string, 0, len(states))
	for _, s := range states {
		parts = append(parts, fmt.Sprintf("%s: %d", s, counts[s]))
	}
	return strings.Join(parts, ", ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
