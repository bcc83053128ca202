// Package cmd provides the CLI commands for CodeLens.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/codelens/codelens/internal/logging"
	"github.com/codelens/codelens/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the codelens CLI.
func NewRootCmd() *cobra.Command {
	var offline bool
	var reindex bool

	cmd := &cobra.Command{
		Use:   "codelens",
		Short: "Local-first semantic code search MCP server",
		Long: `CodeLens indexes a codebase into a local chunk store and exposes
hybrid (semantic + lexical) search over it, as an MCP server for AI
coding assistants.

Just run 'codelens' in your project directory to get started.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return runSmartDefault(cmd.Context(), offline, reindex)
		},
	}

	cmd.SetVersionTemplate("codelens version {{.Version}}\n")

	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings (skip model download)")
	cmd.Flags().BoolVar(&reindex, "reindex", false, "Force reindex even if a cache exists")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.codelens/logs/")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAnnCmd())
	cmd.AddCommand(newClearCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// runSmartDefault indexes the workspace if needed, then starts the MCP
// server over stdio. Stdout is reserved exclusively for the MCP
// transport once the server starts, so every status message up to that
// point goes to the debug log, not stdout.
func runSmartDefault(ctx context.Context, offline, reindex bool) error {
	root, err := resolveRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}

	c, reindexRequired, err := openCache(root, cfg)
	if err != nil {
		return err
	}

	if reindex || reindexRequired {
		slog.Info("indexing workspace", slog.String("root", root))
		if _, err := runIndexOnce(ctx, root, cfg, c, offline); err != nil {
			return fmt.Errorf("indexing failed: %w", err)
		}
	}

	return runServeWithCache(ctx, root, cfg, c, offline)
}
