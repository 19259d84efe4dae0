// Package cmd provides the CLI commands for jeeves-watcher.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/karmaniverous/jeeves-watcher/internal/app"
	"github.com/karmaniverous/jeeves-watcher/pkg/version"
)

// NewRootCmd creates the root command. Running without a subcommand
// starts the daemon.
func NewRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "jeeves-watcher",
		Short: "Keep a vector search store synchronized with a local document corpus",
		Long: `jeeves-watcher watches directory globs for document changes, extracts
text, applies metadata inference rules, computes embeddings, and keeps
an external vector store in sync. Semantic search and metadata
enrichment are served over a small HTTP API.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), configPath)
		},
	}

	cmd.SetVersionTemplate("jeeves-watcher version {{.Version}}\n")
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "jeeves-watcher.yaml",
		"Path to the configuration file")

	cmd.AddCommand(newRunCmd(&configPath))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// newRunCmd is an explicit alias for the root's default behavior.
func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the watcher daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), *configPath)
		},
	}
}

func runDaemon(parent context.Context, configPath string) error {
	a, err := app.New(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.Run(ctx)
}
