package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/featherstore/featherstore/pkg/config"
	"github.com/featherstore/featherstore/pkg/core"
)

func newDevCommand() *cobra.Command {
	var (
		defsPath string
		fullSync bool
	)

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Watch definition files and re-apply on change",
		Long: `Apply the declared definitions, then watch the definitions file or
directory and re-apply whenever it changes. Edits are debounced so one
save triggers one apply. Validation and apply errors are logged and the
watch continues.`,
		Example: `  # Watch a single definitions file
  fsctl dev -f definitions.yaml

  # Watch a directory in full-sync mode
  fsctl dev -f ./definitions --full-sync`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			return watchAndApply(ctx, rt, defsPath, fullSync)
		},
	}

	cmd.Flags().StringVarP(&defsPath, "file", "f", "definitions.yaml", "definitions file or directory to watch")
	cmd.Flags().BoolVar(&fullSync, "full-sync", false, "delete registered objects absent from the declared set")

	return cmd
}

const devDebounce = 500 * time.Millisecond

func watchAndApply(ctx context.Context, rt *runtime, defsPath string, fullSync bool) error {
	log := rt.log.NewComponentLogger("dev")

	applyOnce := func() {
		set, err := config.LoadDefinitions(defsPath)
		if err != nil {
			log.WithError(err).Error("failed to load definitions")
			return
		}
		result, err := rt.orch.Apply(ctx, set, core.ApplyOptions{FullSync: fullSync})
		if err != nil {
			log.WithError(err).Error("apply failed")
			return
		}
		log.Infof("applied %d, deleted %d, unchanged %d",
			len(result.Applied), len(result.Deleted), result.Unchanged)
	}
	applyOnce()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Watching the parent directory survives the rename-and-replace pattern
	// editors use when saving.
	watchPath := defsPath
	if info, err := os.Stat(defsPath); err == nil && !info.IsDir() {
		watchPath = filepath.Dir(defsPath)
	}
	if err := watcher.Add(watchPath); err != nil {
		return fmt.Errorf("failed to watch %s: %w", watchPath, err)
	}
	log.Infof("watching %s for changes", defsPath)

	var debounce *time.Timer
	pending := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			fmt.Println("Stopping watch.")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(devDebounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case <-pending:
			applyOnce()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("file watcher error")
		}
	}
}
