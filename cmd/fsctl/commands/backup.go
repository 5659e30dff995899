package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBackupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Export the registry to the backup bucket",
		Long: `Upload a JSON snapshot of the committed registry state, including
materialization history, to the configured S3-compatible backup bucket.`,
		Example: `  # Back up the registry
  fsctl backup`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			exporter, err := rt.exporter()
			if err != nil {
				return err
			}
			if err := exporter.EnsureBucket(ctx); err != nil {
				return err
			}

			snap, err := rt.orch.Snapshot(ctx, rt.cfg.Project)
			if err != nil {
				return err
			}
			key, err := exporter.Export(ctx, snap)
			if err != nil {
				return err
			}
			fmt.Printf("Backup written to %s\n", key)
			return nil
		},
	}
}
