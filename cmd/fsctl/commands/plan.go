package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/featherstore/featherstore/pkg/config"
	"github.com/featherstore/featherstore/pkg/core"
)

func newPlanCommand() *cobra.Command {
	var (
		defsPath string
		fullSync bool
		deletes  []string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Preview the changes an apply would make",
		Long: `Validate the declared feature definitions and compute the diff against
the committed registry state without changing anything. The output lists
the objects an apply with the same flags would create, update, or
delete.`,
		Example: `  # Preview changes
  fsctl plan -f definitions.yaml

  # Preview a full-sync apply
  fsctl plan -f ./definitions --full-sync`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			set, err := config.LoadDefinitions(defsPath)
			if err != nil {
				return err
			}
			refs, err := parseDeleteRefs(deletes)
			if err != nil {
				return err
			}

			diff, err := rt.orch.Plan(ctx, set, core.ApplyOptions{
				FullSync:        fullSync,
				ExplicitDeletes: refs,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(diff)
			}
			if diff.Empty() {
				fmt.Println("No changes. Declared definitions match the registry.")
				return nil
			}
			fmt.Printf("Plan: %d to apply, %d to delete, %d unchanged\n",
				len(diff.ToApply), len(diff.ToDelete), diff.Unchanged)
			for _, obj := range diff.ToApply {
				fmt.Printf("  ~ %s/%s\n", obj.ObjectKind(), obj.ObjectName())
			}
			for _, ref := range diff.ToDelete {
				fmt.Printf("  - %s\n", ref)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&defsPath, "file", "f", "definitions.yaml", "definitions file or directory")
	cmd.Flags().BoolVar(&fullSync, "full-sync", false, "plan deletion of registered objects absent from the declared set")
	cmd.Flags().StringArrayVar(&deletes, "delete", nil, "plan explicit deletion of an object (kind/name), repeatable")

	return cmd
}
