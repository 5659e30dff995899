package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRestoreCommand() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore the registry from a backup",
		Long: `Download a registry backup from the configured bucket and write its
objects and materialization history back into the registry as one
transaction. Without --key the most recent backup for the project is
restored.`,
		Example: `  # Restore the latest backup
  fsctl restore

  # Restore a specific backup
  fsctl restore --key registry/demo/20260830T120000Z-9f3c....json`,
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

			if key == "" {
				key, err = exporter.Latest(ctx, rt.cfg.Project)
				if err != nil {
					return err
				}
				if key == "" {
					return fmt.Errorf("no backups found for project %q", rt.cfg.Project)
				}
			}

			snap, err := exporter.Fetch(ctx, key)
			if err != nil {
				return err
			}
			if err := exporter.Restore(ctx, rt.reg, snap); err != nil {
				return err
			}
			fmt.Printf("Restored %s into project %s\n", key, snap.Project)
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "backup object key (default: latest for the project)")

	return cmd
}
