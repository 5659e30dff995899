package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/featherstore/featherstore/pkg/model"
)

func newRegistryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the committed registry state",
	}

	cmd.AddCommand(newRegistryListCommand())
	cmd.AddCommand(newRegistryDescribeCommand())
	cmd.AddCommand(newRegistryIntervalsCommand())

	return cmd
}

func newRegistryListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			snap, err := rt.orch.Snapshot(ctx, rt.cfg.Project)
			if err != nil {
				return err
			}

			refs := snap.Refs(model.AllKinds()...)
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(refs)
			}
			fmt.Printf("Project %s (registry version %d)\n", snap.Project, snap.Version)
			for _, ref := range refs {
				fmt.Printf("  %s\n", ref)
			}
			if len(refs) == 0 {
				fmt.Println("  (no registered objects)")
			}
			return nil
		},
	}
}

func newRegistryDescribeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "describe kind/name",
		Short: "Show one registered object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, name, ok := strings.Cut(args[0], "/")
			if !ok || name == "" {
				return fmt.Errorf("invalid object reference %q, expected kind/name", args[0])
			}
			ref := model.Ref{Kind: model.ObjectKind(kind), Name: name}
			if err := ref.Kind.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			rt, err := buildRuntime(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			snap, err := rt.orch.Snapshot(ctx, rt.cfg.Project)
			if err != nil {
				return err
			}
			obj, found := snap.Object(ref)
			if !found {
				return fmt.Errorf("object %s is not registered", ref)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(obj)
		},
	}
}

func newRegistryIntervalsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "intervals feature-view",
		Short: "Show the materialization history of a feature view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			intervals, err := rt.reg.Intervals(ctx, rt.cfg.Project, args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(intervals)
			}
			for _, iv := range intervals {
				fmt.Printf("  [%s, %s) recorded %s\n",
					iv.Start.Format(time.RFC3339),
					iv.End.Format(time.RFC3339),
					iv.RecordedAt.Format(time.RFC3339))
			}
			if len(intervals) == 0 {
				fmt.Printf("No materialization history for %s\n", args[0])
			}
			return nil
		},
	}
}
