package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get feature-view entity-key",
		Short: "Read online feature values for one entity key",
		Long: `Read the currently served feature values for one entity key from a
feature view's online store table. Entity keys composed of multiple
entities join their values with ':' in declaration order.`,
		Example: `  # Read features for user 42
  fsctl get user_stats 42`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			values, err := rt.provider.OnlineRead(ctx, rt.cfg.Project, args[0], args[1])
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(values)
			}
			features := make([]string, 0, len(values))
			for feature := range values {
				features = append(features, feature)
			}
			sort.Strings(features)
			for _, feature := range features {
				fmt.Printf("  %s = %s\n", feature, values[feature])
			}
			if len(values) == 0 {
				fmt.Printf("No online values for entity key %q in %s\n", args[1], args[0])
			}
			return nil
		},
	}
}
