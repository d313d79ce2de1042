package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/smallnest/kanban/tasks"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type snapshotSource interface {
	Snapshot() *tasks.Snapshot
}

func newExportCmd(a *app) *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump the whole store as JSON or YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(strings.TrimSpace(format))
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unsupported format %q (json, yaml)", format)
			}

			return a.withStore(func(store *storeHandle) error {
				src, ok := store.manager.(snapshotSource)
				if !ok {
					return fmt.Errorf("store does not support export")
				}
				data, err := encodeSnapshot(src.Snapshot(), format)
				if err != nil {
					return err
				}

				var out io.Writer = cmd.OutOrStdout()
				if output != "" {
					f, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("failed to create %s: %w", output, err)
					}
					defer f.Close()
					out = f
				}
				_, err = out.Write(data)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format (json, yaml)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	return cmd
}

func encodeSnapshot(snap *tasks.Snapshot, format string) ([]byte, error) {
	if format == "yaml" {
		data, err := yaml.Marshal(snap)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal YAML: %w", err)
		}
		return data, nil
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return append(data, '\n'), nil
}
