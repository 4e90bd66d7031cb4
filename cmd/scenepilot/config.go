package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aristath/scenepilot/internal/config"
)

func configCmd(g *globalFlags) *cobra.Command {
	var global bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, inspect and edit configuration files",
	}
	cmd.PersistentFlags().BoolVar(&global, "global", false, "Edit ~/.scenepilot/config.yaml instead of the project file")

	target := func() (string, error) {
		if !global {
			return g.configPath, nil
		}
		path := g.globalPath()
		if path == "" {
			return "", errors.New("no home directory for the global config")
		}
		return path, nil
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := target()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := config.Save(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one dotted key, e.g. scheduler.tick_interval 250ms",
		Long: `Set loads the target file over the defaults, replaces one key and writes
the complete result back. The key must exist and the result must validate.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := target()
			if err != nil {
				return err
			}
			cfg, err := config.Load("", path)
			if err != nil {
				return err
			}
			next, err := config.Set(cfg, args[0], args[1])
			if err != nil {
				return err
			}
			if err := config.Save(next, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s in %s\n", args[0], path)
			return nil
		},
	}

	cmd.AddCommand(initCmd, showCmd, setCmd)
	return cmd
}
