package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newTeardownCommand() *cobra.Command {
	var autoApprove bool

	cmd := &cobra.Command{
		Use:   "teardown",
		Short: "Delete every registered object and its online resources",
		Long: `Remove all registered entities, data sources, and feature views for the
configured project, dropping their online-store tables. The registry's
materialization history for deleted feature views is removed with them.`,
		Example: `  # Tear down with a confirmation prompt
  fsctl teardown

  # Tear down without prompting
  fsctl teardown --auto-approve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			if !autoApprove {
				fmt.Printf("This will delete every registered object in project %q. Type %q to continue: ",
					rt.cfg.Project, "yes")
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil {
					return fmt.Errorf("failed to read confirmation: %w", err)
				}
				if strings.TrimSpace(line) != "yes" {
					fmt.Println("Teardown cancelled.")
					return nil
				}
			}

			result, err := rt.orch.Teardown(ctx, rt.cfg.Project)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d object(s)\n", len(result.Deleted))
			for _, ref := range result.Deleted {
				fmt.Printf("  - %s\n", ref)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip confirmation prompt")

	return cmd
}
