package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/smallnest/kanban/config"
	"github.com/spf13/cobra"
)

func newInitCmd(a *app) *cobra.Command {
	var (
		force   bool
		backend string
		path    string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file and create the store directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := a.configPath
			if target == "" {
				p, err := config.GetDefaultConfigPath()
				if err != nil {
					return err
				}
				target = p
			}
			target = config.ExpandUserPath(target)

			if _, err := os.Stat(target); err == nil && !force {
				fmt.Fprintf(cmd.OutOrStdout(), "Config already exists: %s (use --force to overwrite)\n", target)
				return nil
			}

			cfg := *a.cfg
			if cmd.Flags().Changed("backend") {
				cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(backend))
			}
			if cmd.Flags().Changed("path") {
				cfg.Storage.Path = config.ExpandUserPath(path)
			}
			if err := config.Validate(&cfg); err != nil {
				return err
			}

			if cfg.Storage.Backend != config.BackendMemory {
				if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0755); err != nil {
					return fmt.Errorf("failed to create store directory: %w", err)
				}
			}
			if err := config.Save(&cfg, target); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Config written: %s\n", target)
			fmt.Fprintf(cmd.OutOrStdout(), "Store: %s (%s)\n", cfg.Storage.Path, cfg.Storage.Backend)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")
	cmd.Flags().StringVar(&backend, "backend", "", "Storage backend (file, sqlite, memory)")
	cmd.Flags().StringVar(&path, "path", "", "Store file path")
	return cmd
}
