package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/scenepilot/internal/scheduler"
)

func validateCmd(g *globalFlags) *cobra.Command {
	var planPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and an optional plan file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config OK: %d workers, %d workflows\n",
				cfg.Scheduler.MaxConcurrentTasks, len(cfg.Workflows))

			if planPath == "" {
				return nil
			}
			f := &runFlags{planPath: planPath}
			entries, err := f.planEntries()
			if err != nil {
				return err
			}
			order, err := scheduler.OrderPlan(entries)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Plan OK: %d tasks in order %s\n", len(entries), strings.Join(order, " -> "))
			return nil
		},
	}
	cmd.Flags().StringVarP(&planPath, "plan", "p", "", "Plan file to check")
	return cmd
}
