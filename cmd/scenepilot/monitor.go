package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/scenepilot/internal/persistence"
	"github.com/aristath/scenepilot/internal/scheduler"
)

type monitorFlags struct {
	dbPath string
	taskID string
	state  string
	limit  int
	id     string
}

func monitorCmd(g *globalFlags) *cobra.Command {
	f := &monitorFlags{}
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Report executions from the history archive",
		Long: `Monitor reads the sqlite archive written by "run" and prints executions
with their states. With --id it prints one execution and its attempt records.
Use "run --tui" to watch a live pool.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			path := f.dbPath
			if path == "" {
				path = cfg.Persistence.Path
			}
			if path == "" {
				return errors.New("no archive configured; set persistence.path or pass --db")
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("opening archive: %w", err)
			}

			ctx := cmd.Context()
			store, err := persistence.NewSQLiteStore(ctx, path)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if f.id != "" {
				exec, err := store.GetExecution(ctx, f.id)
				if err != nil {
					return err
				}
				printExecution(out, *exec)
				return nil
			}

			execs, err := store.ListExecutions(ctx, persistence.Filter{
				TaskID: f.taskID,
				State:  f.state,
				Limit:  f.limit,
			})
			if err != nil {
				return err
			}
			printExecutions(out, execs)

			counts, err := store.CountByState(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Archive: %s\n", formatCounts(counts))
			return nil
		},
	}

	cmd.Flags().StringVar(&f.dbPath, "db", "", "Archive path (default persistence.path)")
	cmd.Flags().StringVar(&f.taskID, "task", "", "Only executions of this task ID")
	cmd.Flags().StringVar(&f.state, "state", "", "Only executions in this state")
	cmd.Flags().IntVar(&f.limit, "limit", 50, "Maximum executions to list, 0 for all")
	cmd.Flags().StringVar(&f.id, "id", "", "Show one execution with its attempts")
	return cmd
}

func printExecution(out io.Writer, e scheduler.TaskExecution) {
	fmt.Fprintf(out, "Execution %s\n", e.ID)
	fmt.Fprintf(out, "  Task:      %s (%s, %s priority)\n", e.Name, e.Type, e.Priority)
	fmt.Fprintf(out, "  State:     %s\n", e.State)
	fmt.Fprintf(out, "  Duration:  %s\n", e.Duration().Round(time.Millisecond))
	fmt.Fprintf(out, "  Attempts:  %d\n", e.Attempts)
	if e.Error != "" {
		fmt.Fprintf(out, "  Error:     %s\n", e.Error)
	}
	if len(e.Records) == 0 {
		return
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ATTEMPT\tKIND\tRECOVERY\tDURATION\tERROR")
	for _, r := range e.Records {
		recovery := "-"
		if r.Recovered {
			recovery = r.Recovery
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			r.Attempt, r.Kind, recovery, r.Duration.Round(time.Millisecond), truncate(r.Error, 60))
	}
	w.Flush()
}
