package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/featherstore/featherstore/pkg/config"
	"github.com/featherstore/featherstore/pkg/core"
	"github.com/featherstore/featherstore/pkg/model"
)

func newApplyCommand() *cobra.Command {
	var (
		defsPath string
		fullSync bool
		deletes  []string
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Reconcile declared definitions into the registry",
		Long: `Validate the declared feature definitions, diff them against the
committed registry state, update online-store infrastructure, and commit
the changes atomically.

In partial mode (the default) objects absent from the declared set are
left untouched. With --full-sync, registered objects missing from the
declared set are deleted. Explicit --delete flags remove named objects
in either mode.`,
		Example: `  # Apply definitions from a file
  fsctl apply -f definitions.yaml

  # Apply a directory of definition files in full-sync mode
  fsctl apply -f ./definitions --full-sync

  # Apply and explicitly delete a feature view
  fsctl apply -f definitions.yaml --delete feature_view/user_stats`,
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

			result, err := rt.orch.Apply(ctx, set, core.ApplyOptions{
				FullSync:        fullSync,
				ExplicitDeletes: refs,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(result)
			}
			fmt.Printf("Applied %d, deleted %d, unchanged %d\n",
				len(result.Applied), len(result.Deleted), result.Unchanged)
			for _, ref := range result.Applied {
				fmt.Printf("  ~ %s\n", ref)
			}
			for _, ref := range result.Deleted {
				fmt.Printf("  - %s\n", ref)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&defsPath, "file", "f", "definitions.yaml", "definitions file or directory")
	cmd.Flags().BoolVar(&fullSync, "full-sync", false, "delete registered objects absent from the declared set")
	cmd.Flags().StringArrayVar(&deletes, "delete", nil, "explicitly delete an object (kind/name), repeatable")

	return cmd
}

// parseDeleteRefs parses kind/name flags into object references.
func parseDeleteRefs(specs []string) ([]model.Ref, error) {
	refs := make([]model.Ref, 0, len(specs))
	for _, spec := range specs {
		kind, name, ok := strings.Cut(spec, "/")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --delete value %q, expected kind/name", spec)
		}
		ref := model.Ref{Kind: model.ObjectKind(kind), Name: name}
		if err := ref.Kind.Validate(); err != nil {
			return nil, fmt.Errorf("invalid --delete value %q: %w", spec, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
