package core

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/featherstore/featherstore/pkg/model"
	"github.com/featherstore/featherstore/pkg/telemetry"
)

// Orchestrator drives apply and materialize against one registry and one
// infra provider. The orchestration logic itself is single-threaded control
// flow; concurrency lives inside the batch engine and is observed only
// through job handles.
type Orchestrator struct {
	registry Registry
	provider InfraProvider

	log     *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer

	pollInterval time.Duration
	now          func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(log *telemetry.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithPollInterval sets the job status poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithClock overrides the orchestrator clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator creates an orchestrator over a registry and provider.
func NewOrchestrator(registry Registry, provider InfraProvider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:     registry,
		provider:     provider,
		log:          telemetry.NopLogger(),
		pollInterval: 500 * time.Millisecond,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ApplyOptions controls one apply invocation.
type ApplyOptions struct {
	// FullSync also deletes registered objects absent from the declared set.
	FullSync bool

	// ExplicitDeletes names objects to remove regardless of declared-set
	// membership.
	ExplicitDeletes []model.Ref

	// ManagedKinds restricts full-sync deletion to these kinds. Empty means
	// all kinds.
	ManagedKinds []model.ObjectKind
}

// ApplyResult summarizes a committed apply.
type ApplyResult struct {
	Applied   []model.Ref
	Deleted   []model.Ref
	Unchanged int
}

// Plan validates the declared set, runs schema inference, and computes the
// diff against the committed registry state without mutating anything. It is
// the read-only half of Apply.
func (o *Orchestrator) Plan(ctx context.Context, set *model.FeatureSet, opts ApplyOptions) (*DiffResult, error) {
	validated, err := ValidateAndInfer(set)
	if err != nil {
		return nil, err
	}
	snap, err := o.registry.Snapshot(ctx, validated.Project)
	if err != nil {
		return nil, err
	}
	diff := Diff(validated, snap, opts.FullSync, opts.ManagedKinds)
	if err := o.mergeExplicitDeletes(diff, validated, snap, opts.ExplicitDeletes); err != nil {
		return nil, err
	}
	return diff, nil
}

// Apply reconciles the declared feature set into the registry and the online
// store. Steps run strictly in sequence: validate, diff, buffer registry
// writes, update infrastructure, commit. Validation failures abort before any
// mutation; an infra failure aborts before commit, leaving the registry
// unchanged; a commit failure after a successful infra update is reported as
// an inconsistency requiring operator attention. The whole call is safe to
// retry: the first four steps are idempotent for unchanged input and the
// commit is atomic.
func (o *Orchestrator) Apply(ctx context.Context, set *model.FeatureSet, opts ApplyOptions) (*ApplyResult, error) {
	started := o.now()
	ctx, span := o.tracer.Start(ctx, "apply",
		attribute.String("project", projectOf(set)),
		attribute.Bool("full_sync", opts.FullSync),
	)
	defer span.End()

	result, err := o.apply(ctx, set, opts)
	if err != nil {
		telemetry.RecordError(span, err)
		o.metrics.RecordApply("error", o.now().Sub(started))
		o.metrics.RecordErrorKind(string(Kind(err)))
		return nil, err
	}
	telemetry.RecordSuccess(span)
	o.metrics.RecordApply("ok", o.now().Sub(started))
	return result, nil
}

func (o *Orchestrator) apply(ctx context.Context, set *model.FeatureSet, opts ApplyOptions) (*ApplyResult, error) {
	validated, err := ValidateAndInfer(set)
	if err != nil {
		return nil, err
	}
	log := o.log.WithField("project", validated.Project)

	snap, err := o.registry.Snapshot(ctx, validated.Project)
	if err != nil {
		return nil, err
	}

	diff := Diff(validated, snap, opts.FullSync, opts.ManagedKinds)
	if err := o.mergeExplicitDeletes(diff, validated, snap, opts.ExplicitDeletes); err != nil {
		return nil, err
	}
	o.metrics.RecordDiff(len(diff.ToApply), len(diff.ToDelete), diff.Unchanged)

	if diff.Empty() {
		log.WithField("unchanged", diff.Unchanged).Debug("apply is a no-op")
		return &ApplyResult{Unchanged: diff.Unchanged}, nil
	}

	// Buffer registry writes. Nothing is visible until Commit.
	tx, err := o.registry.Begin(ctx, validated.Project)
	if err != nil {
		return nil, err
	}
	result := &ApplyResult{Unchanged: diff.Unchanged}
	for _, obj := range diff.ToApply {
		tx.Upsert(obj)
		result.Applied = append(result.Applied, model.Ref{Kind: obj.ObjectKind(), Name: obj.ObjectName()})
	}
	for _, ref := range diff.ToDelete {
		tx.Delete(ref)
		result.Deleted = append(result.Deleted, ref)
	}

	if err := o.updateInfra(ctx, validated, snap, diff, opts.FullSync); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		if IsConflict(err) {
			return nil, err
		}
		// Infra already moved; the registry did not. Operator attention is
		// required to reconcile physical resources with metadata.
		return nil, NewInconsistencyError(
			"registry commit failed after infrastructure update", err)
	}

	log.WithField("applied", len(result.Applied)).
		WithField("deleted", len(result.Deleted)).
		WithField("unchanged", result.Unchanged).
		Info("apply committed")
	return result, nil
}

// mergeExplicitDeletes resolves the caller-named deletions into the diff. An
// object that is both declared and explicitly deleted is a contradiction and
// fails validation. An explicit delete of an object the registry does not
// hold is skipped with a warning rather than failing the call.
func (o *Orchestrator) mergeExplicitDeletes(diff *DiffResult, declared *model.FeatureSet, snap *RegistrySnapshot, explicit []model.Ref) error {
	if len(explicit) == 0 {
		return nil
	}
	declaredRefs := make(map[model.Ref]struct{})
	for _, obj := range declared.Objects() {
		declaredRefs[model.Ref{Kind: obj.ObjectKind(), Name: obj.ObjectName()}] = struct{}{}
	}

	var resolved []model.Ref
	for _, ref := range explicit {
		if err := ref.Kind.Validate(); err != nil {
			return NewValidationError(err.Error()).
				WithObject(ref.Kind, ref.Name).
				WithRule("delete_kind")
		}
		if _, ok := declaredRefs[ref]; ok {
			return NewValidationError("object is both declared and explicitly deleted").
				WithObject(ref.Kind, ref.Name).
				WithRule("delete_not_declared")
		}
		if _, ok := snap.Object(ref); !ok {
			o.log.WithField("object", ref.String()).Warn("explicit delete of unregistered object skipped")
			continue
		}
		resolved = append(resolved, ref)
	}
	mergeDeletes(diff, resolved)
	return nil
}

// updateInfra reconciles physical online-store resources for the diff. Kept
// resources are everything the declared set retains; deleted resources come
// from the diff's delete set, resolved against the committed snapshot.
func (o *Orchestrator) updateInfra(ctx context.Context, declared *model.FeatureSet, snap *RegistrySnapshot, diff *DiffResult, fullSync bool) error {
	var viewsToDelete []model.FeatureView
	for _, ref := range diff.Deletes(model.KindFeatureView) {
		if view, ok := snap.FeatureViews[ref.Name]; ok {
			viewsToDelete = append(viewsToDelete, view)
		}
	}
	var entitiesToDelete []model.Entity
	for _, ref := range diff.Deletes(model.KindEntity) {
		if entity, ok := snap.Entities[ref.Name]; ok {
			entitiesToDelete = append(entitiesToDelete, entity)
		}
	}

	ctx, span := o.tracer.Start(ctx, "provider.update_infra",
		attribute.Int("views_to_delete", len(viewsToDelete)),
		attribute.Int("views_to_keep", len(declared.FeatureViews)),
	)
	defer span.End()

	err := o.provider.UpdateInfra(ctx, declared.Project,
		viewsToDelete, declared.FeatureViews,
		entitiesToDelete, declared.Entities,
		fullSync)
	if err != nil {
		telemetry.RecordError(span, err)
		if IsProvider(err) {
			return err
		}
		return NewProviderError("infrastructure update failed", err)
	}
	telemetry.RecordSuccess(span)
	return nil
}

func projectOf(set *model.FeatureSet) string {
	if set == nil {
		return ""
	}
	return set.Project
}

// Teardown removes every managed object for the project along with its online
// resources. It is a full-sync apply of the empty declared set.
func (o *Orchestrator) Teardown(ctx context.Context, project string) (*ApplyResult, error) {
	if project == "" {
		return nil, NewValidationError("project name is empty").WithRule("project_name")
	}
	return o.Apply(ctx, &model.FeatureSet{Project: project}, ApplyOptions{FullSync: true})
}

// Snapshot exposes the committed registry state to read-only collaborators
// such as the serving layer.
func (o *Orchestrator) Snapshot(ctx context.Context, project string) (*RegistrySnapshot, error) {
	return o.registry.Snapshot(ctx, project)
}
