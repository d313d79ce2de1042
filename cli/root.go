package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/smallnest/kanban/config"
	"github.com/smallnest/kanban/internal/logger"
	"github.com/spf13/cobra"
)

// Version 版本号
var Version = "dev"

// app carries what every command needs once the root command has run.
type app struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

// NewRootCommand 构建命令树
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "kanban",
		Short:         "Track tasks, epics and subtasks",
		Long:          `kanban keeps tasks, epics and their subtasks in a local store and serves them over HTTP.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newInitCmd(a))
	rootCmd.AddCommand(newServeCmd(a))
	rootCmd.AddCommand(newEntityCmd(a, taskEntity))
	rootCmd.AddCommand(newEntityCmd(a, epicEntity))
	rootCmd.AddCommand(newEntityCmd(a, subtaskEntity))
	rootCmd.AddCommand(newPrioritizedCmd(a))
	rootCmd.AddCommand(newExportCmd(a))

	return rootCmd
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if strings.TrimSpace(a.logLevel) != "" {
		cfg.Log.Level = a.logLevel
	}

	if err := logger.InitWithOptions(logger.Options{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		Encoding:    cfg.Log.Encoding,
		OutputPaths: cfg.Log.OutputPaths,
	}); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}

	a.cfg = cfg
	return nil
}

// Execute 执行根命令
func Execute() error {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
