package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fsctl",
		Short: "featherstore - feature store control plane",
		Long: `fsctl manages a feature store's control plane: it reconciles declared
feature definitions against the project registry and schedules
materialization of feature values from the offline store into the
online store.

Features:
  - Declarative entities, data sources, and feature views in YAML
  - Plan/apply reconciliation with structural diffing
  - Full-sync or partial apply modes with explicit deletes
  - Asynchronous materialization jobs with per-view failure isolation
  - Registry backups to S3-compatible object storage`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "featherstore.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newMaterializeCommand())
	rootCmd.AddCommand(newTeardownCommand())
	rootCmd.AddCommand(newRegistryCommand())
	rootCmd.AddCommand(newGetCommand())
	rootCmd.AddCommand(newDevCommand())
	rootCmd.AddCommand(newBackupCommand())
	rootCmd.AddCommand(newRestoreCommand())

	return rootCmd
}
