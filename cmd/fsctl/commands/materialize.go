package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

func newMaterializeCommand() *cobra.Command {
	var (
		views    []string
		startStr string
		endStr   string
	)

	cmd := &cobra.Command{
		Use:   "materialize",
		Short: "Copy feature values from the offline store to the online store",
		Long: `Schedule materialization jobs for the named feature views (or every
registered feature view when --views is omitted) over the half-open
window [--start, --end).

Jobs run asynchronously and are tracked independently: a failure for one
feature view never blocks or rolls back the others. Each success records
a materialization interval in the registry immediately.`,
		Example: `  # Materialize every registered feature view for one day
  fsctl materialize --start 2026-08-30T00:00:00Z --end 2026-08-31T00:00:00Z

  # Materialize two specific feature views
  fsctl materialize --views user_stats,device_stats \
    --start 2026-08-30T00:00:00Z --end 2026-08-31T00:00:00Z`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			start, err := time.Parse(time.RFC3339, startStr)
			if err != nil {
				return fmt.Errorf("invalid --start value %q: %w", startStr, err)
			}
			end, err := time.Parse(time.RFC3339, endStr)
			if err != nil {
				return fmt.Errorf("invalid --end value %q: %w", endStr, err)
			}

			rt, err := buildRuntime(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			result, err := rt.orch.Materialize(ctx, rt.cfg.Project, views, start, end)
			if err != nil {
				return err
			}

			if jsonOutput {
				out := struct {
					Succeeded []string          `json:"succeeded"`
					Failed    map[string]string `json:"failed,omitempty"`
				}{Succeeded: result.Succeeded}
				if len(result.Failed) > 0 {
					out.Failed = make(map[string]string, len(result.Failed))
					for view, cause := range result.Failed {
						out.Failed[view] = cause.Error()
					}
				}
				if err := json.NewEncoder(os.Stdout).Encode(out); err != nil {
					return err
				}
				return result.Err()
			}

			for _, view := range result.Succeeded {
				fmt.Printf("  ok    %s\n", view)
			}
			failed := make([]string, 0, len(result.Failed))
			for view := range result.Failed {
				failed = append(failed, view)
			}
			sort.Strings(failed)
			for _, view := range failed {
				fmt.Printf("  error %s: %v\n", view, result.Failed[view])
			}
			fmt.Printf("Materialized %d feature view(s), %d failed\n",
				len(result.Succeeded), len(result.Failed))
			return result.Err()
		},
	}

	cmd.Flags().StringSliceVar(&views, "views", nil, "feature views to materialize (default: all registered)")
	cmd.Flags().StringVar(&startStr, "start", "", "window start (RFC3339, inclusive)")
	cmd.Flags().StringVar(&endStr, "end", "", "window end (RFC3339, exclusive)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}
