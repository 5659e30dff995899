package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/featherstore/featherstore/pkg/model"
	"github.com/featherstore/featherstore/pkg/telemetry"
)

// MaterializeResult reports the per-feature-view outcome of one materialize
// call. Partial success is expected and must stay visible, so the result
// carries both halves instead of collapsing into a single error.
type MaterializeResult struct {
	// Succeeded lists feature views whose interval was recorded, sorted.
	Succeeded []string

	// Failed maps each failed feature view to its cause.
	Failed map[string]error
}

// Err returns nil when every feature view succeeded, otherwise a
// MaterializeError naming exactly the failed views.
func (r *MaterializeResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return &MaterializeError{Failures: r.Failed}
}

// MaterializeError aggregates per-feature-view materialization failures.
type MaterializeError struct {
	Failures map[string]error
}

func (e *MaterializeError) Error() string {
	views := make([]string, 0, len(e.Failures))
	for view := range e.Failures {
		views = append(views, view)
	}
	sort.Strings(views)
	parts := make([]string, 0, len(views))
	for _, view := range views {
		parts = append(parts, fmt.Sprintf("%s: %v", view, e.Failures[view]))
	}
	return fmt.Sprintf("materialization failed for %d feature view(s): %s",
		len(views), strings.Join(parts, "; "))
}

// Unwrap exposes the underlying causes to errors.Is and errors.As.
func (e *MaterializeError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		errs = append(errs, err)
	}
	return errs
}

// Materialize copies point-in-time feature values for [start, end) from the
// offline store into the online store for the named feature views, or for
// every registered feature view when names is empty. One task per feature
// view covers the whole window; sub-partitioning is the batch engine's
// responsibility. Jobs are dispatched as one batch and resolved
// independently, so a stalled job for one feature view never blocks recording
// intervals for feature views that already succeeded. Each success commits
// its interval immediately; failures are reported per feature view and never
// roll back intervals recorded for other views in the same call.
func (o *Orchestrator) Materialize(ctx context.Context, project string, names []string, start, end time.Time) (*MaterializeResult, error) {
	if !start.Before(end) {
		return nil, NewInvalidRangeError(fmt.Sprintf(
			"start %s must precede end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))).
			WithRule("start_before_end")
	}
	if project == "" {
		return nil, NewValidationError("project name is empty").WithRule("project_name")
	}

	ctx, span := o.tracer.Start(ctx, "materialize",
		attribute.String("project", project),
		attribute.String("window.start", start.Format(time.RFC3339)),
		attribute.String("window.end", end.Format(time.RFC3339)),
	)
	defer span.End()

	snap, err := o.registry.Snapshot(ctx, project)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	views, err := resolveViews(snap, names)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	tasks := make([]MaterializationTask, 0, len(views))
	for _, view := range views {
		tasks = append(tasks, MaterializationTask{
			Project:     project,
			FeatureView: view,
			Start:       start,
			End:         end,
		})
	}

	jobs, err := o.provider.Materialize(ctx, snap, tasks)
	if err != nil {
		telemetry.RecordError(span, err)
		if IsProvider(err) {
			return nil, err
		}
		return nil, NewProviderError("batch engine rejected materialization tasks", err)
	}
	if len(jobs) != len(tasks) {
		err := NewProviderError(fmt.Sprintf(
			"batch engine returned %d jobs for %d tasks", len(jobs), len(tasks)), nil)
		telemetry.RecordError(span, err)
		return nil, err
	}

	result := &MaterializeResult{Failed: make(map[string]error)}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i := range tasks {
		task, job := tasks[i], jobs[i]
		wg.Add(1)
		o.metrics.IncActiveJobs()
		go func() {
			defer wg.Done()
			defer o.metrics.DecActiveJobs()
			viewErr := o.resolveJob(ctx, task, job)
			mu.Lock()
			defer mu.Unlock()
			if viewErr != nil {
				result.Failed[task.FeatureView] = viewErr
				return
			}
			result.Succeeded = append(result.Succeeded, task.FeatureView)
		}()
	}
	wg.Wait()
	sort.Strings(result.Succeeded)

	if err := result.Err(); err != nil {
		telemetry.RecordError(span, err)
		return result, err
	}
	telemetry.RecordSuccess(span)
	return result, nil
}

// resolveViews maps requested names to registered feature views, defaulting
// to every registered view in stable order.
func resolveViews(snap *RegistrySnapshot, names []string) ([]string, error) {
	if len(names) == 0 {
		return snap.FeatureViewNames(), nil
	}
	seen := make(map[string]struct{}, len(names))
	views := make([]string, 0, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if _, ok := snap.FeatureViews[name]; !ok {
			return nil, NewNotFoundError(model.KindFeatureView, name)
		}
		views = append(views, name)
	}
	return views, nil
}

// resolveJob polls one job to a terminal state and records the interval on
// success. Polling is bounded-interval with no engine-imposed timeout; a
// caller-initiated cancellation stops polling promptly but cannot retract a
// job already running remotely.
func (o *Orchestrator) resolveJob(ctx context.Context, task MaterializationTask, job Job) error {
	started := o.now()
	log := o.log.
		WithField("project", task.Project).
		WithField("feature_view", task.FeatureView).
		WithField("job_id", job.ID())

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()
	for !job.Status().IsTerminal() {
		select {
		case <-ctx.Done():
			log.Warn("materialization wait cancelled")
			o.metrics.RecordJob("cancelled", o.now().Sub(started))
			return ctx.Err()
		case <-ticker.C:
		}
	}

	if job.Status() == JobStatusError {
		err := job.Err()
		if err == nil {
			err = fmt.Errorf("job %s reported error status without a cause", job.ID())
		}
		log.WithError(err).Error("materialization job failed")
		o.metrics.RecordJob("error", o.now().Sub(started))
		return NewProviderError("materialization job failed", err)
	}

	// The job finished remotely; recording the interval must not be lost to a
	// caller cancellation that raced the success.
	commitCtx := context.WithoutCancel(ctx)
	tx, err := o.registry.Begin(commitCtx, task.Project)
	if err != nil {
		return err
	}
	tx.AppendInterval(task.FeatureView, model.MaterializationInterval{
		Start:      task.Start,
		End:        task.End,
		RecordedAt: o.now(),
	})
	if err := tx.Commit(commitCtx); err != nil {
		o.metrics.RecordJob("error", o.now().Sub(started))
		return NewInconsistencyError(
			"interval commit failed after successful materialization", err)
	}

	log.Info("materialization interval recorded")
	o.metrics.RecordJob("succeeded", o.now().Sub(started))
	o.metrics.RecordInterval()
	return nil
}
