package core

import (
	"context"
	"sort"
	"time"

	"github.com/featherstore/featherstore/pkg/model"
)

// Registry is the persisted, project-scoped store of definitions and
// materialization history. Reads observe only committed state; mutations are
// buffered on a Tx and become visible atomically at Commit.
type Registry interface {
	// Snapshot returns the committed state for a project. A project that has
	// never been written returns an empty snapshot at version zero.
	Snapshot(ctx context.Context, project string) (*RegistrySnapshot, error)

	// Begin opens a buffered transaction against the project's current
	// committed version. Commit fails with a conflict error if another
	// transaction mutated the project's objects in the meantime.
	Begin(ctx context.Context, project string) (RegistryTx, error)

	// Intervals returns the materialization history for one feature view,
	// ordered by recording time.
	Intervals(ctx context.Context, project, featureView string) ([]model.MaterializationInterval, error)

	// Close releases the underlying storage.
	Close() error
}

// RegistryTx buffers registry mutations until Commit. A transaction that is
// never committed leaves no trace. Object mutations (Upsert, Delete) contend
// on the project version; interval appends do not, since the interval log is
// append-only and write-write races on it are safe.
type RegistryTx interface {
	Upsert(obj model.Object)
	Delete(ref model.Ref)
	AppendInterval(featureView string, interval model.MaterializationInterval)

	Commit(ctx context.Context) error
	Rollback() error
}

// RegistrySnapshot is a committed, read-only view of one project's registry
// state.
type RegistrySnapshot struct {
	Project string `json:"project"`
	Version int64  `json:"version"`

	Entities     map[string]model.Entity                    `json:"entities,omitempty"`
	DataSources  map[string]model.DataSource                `json:"data_sources,omitempty"`
	FeatureViews map[string]model.FeatureView               `json:"feature_views,omitempty"`
	Intervals    map[string][]model.MaterializationInterval `json:"intervals,omitempty"`
}

// NewRegistrySnapshot returns an empty snapshot for a project.
func NewRegistrySnapshot(project string) *RegistrySnapshot {
	return &RegistrySnapshot{
		Project:      project,
		Entities:     make(map[string]model.Entity),
		DataSources:  make(map[string]model.DataSource),
		FeatureViews: make(map[string]model.FeatureView),
		Intervals:    make(map[string][]model.MaterializationInterval),
	}
}

// Object looks up a registry object by reference.
func (s *RegistrySnapshot) Object(ref model.Ref) (model.Object, bool) {
	switch ref.Kind {
	case model.KindEntity:
		o, ok := s.Entities[ref.Name]
		return o, ok
	case model.KindDataSource:
		o, ok := s.DataSources[ref.Name]
		return o, ok
	case model.KindFeatureView:
		o, ok := s.FeatureViews[ref.Name]
		return o, ok
	default:
		return nil, false
	}
}

// Refs returns the references of all registered objects of the given kinds.
func (s *RegistrySnapshot) Refs(kinds ...model.ObjectKind) []model.Ref {
	var refs []model.Ref
	for _, kind := range kinds {
		switch kind {
		case model.KindEntity:
			for name := range s.Entities {
				refs = append(refs, model.Ref{Kind: kind, Name: name})
			}
		case model.KindDataSource:
			for name := range s.DataSources {
				refs = append(refs, model.Ref{Kind: kind, Name: name})
			}
		case model.KindFeatureView:
			for name := range s.FeatureViews {
				refs = append(refs, model.Ref{Kind: kind, Name: name})
			}
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Kind != refs[j].Kind {
			return refs[i].Kind < refs[j].Kind
		}
		return refs[i].Name < refs[j].Name
	})
	return refs
}

// FeatureViewNames returns the registered feature view names in a stable
// order.
func (s *RegistrySnapshot) FeatureViewNames() []string {
	names := make([]string, 0, len(s.FeatureViews))
	for name := range s.FeatureViews {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MaterializationTask is a work order to copy one feature view's values for a
// time window from the offline store into the online store. Tasks are not
// persisted.
type MaterializationTask struct {
	Project     string    `json:"project"`
	FeatureView string    `json:"feature_view"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// Job is the handle to an asynchronously executing materialization job. The
// handle is discarded after resolution; only the recorded interval survives a
// success.
type Job interface {
	// ID identifies the job for logs and diagnostics.
	ID() string

	// Status returns the current lifecycle state. Transitions are forward
	// only and terminal once succeeded or errored.
	Status() JobStatus

	// Err returns the failure cause. Defined only once Status is
	// JobStatusError; nil otherwise.
	Err() error
}

// InfraProvider creates and destroys physical online-store resources and
// delegates compute-heavy materialization to its batch engine. Concrete
// providers are selected once at configuration time and injected; the
// orchestrators never branch on the provider's identity.
type InfraProvider interface {
	// UpdateInfra reconciles physical online-store resources: resources for
	// kept feature views are created if missing, resources for deleted ones
	// are torn down. Safe to call with empty slices. Partial failure is
	// reported as a whole-call failure; no rollback is attempted.
	UpdateInfra(ctx context.Context, project string,
		viewsToDelete, viewsToKeep []model.FeatureView,
		entitiesToDelete, entitiesToKeep []model.Entity,
		fullSync bool) error

	// Materialize forwards tasks to the batch engine and returns one job per
	// task, order preserved, so callers can zip tasks to jobs positionally.
	Materialize(ctx context.Context, snap *RegistrySnapshot, tasks []MaterializationTask) ([]Job, error)

	// OnlineRead returns the current feature values for one entity key in a
	// feature view. This is the read seam for the serving layer.
	OnlineRead(ctx context.Context, project, featureView, entityKey string) (map[string]string, error)
}

// BatchEngine accepts materialization task descriptions and executes them
// asynchronously. Chunking of a window into smaller units is the engine's
// concern, not the orchestrator's.
type BatchEngine interface {
	Materialize(ctx context.Context, snap *RegistrySnapshot, tasks []MaterializationTask) ([]Job, error)
}
