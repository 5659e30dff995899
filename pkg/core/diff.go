package core

import (
	"sort"

	"github.com/featherstore/featherstore/pkg/model"
)

// DiffResult is the outcome of comparing a declared feature set against the
// registry's committed snapshot.
type DiffResult struct {
	// ToApply holds objects absent from the registry or structurally changed,
	// in declaration order (entities, then data sources, then feature views).
	ToApply []model.Object

	// ToDelete holds registered objects absent from the declared set. Empty
	// unless the diff ran in full-sync mode.
	ToDelete []model.Ref

	// Unchanged counts declared objects excluded from both sets.
	Unchanged int
}

// Empty reports whether the diff requires no registry change.
func (d *DiffResult) Empty() bool {
	return len(d.ToApply) == 0 && len(d.ToDelete) == 0
}

// Deletes returns the subset of ToDelete with the given kind.
func (d *DiffResult) Deletes(kind model.ObjectKind) []model.Ref {
	var refs []model.Ref
	for _, ref := range d.ToDelete {
		if ref.Kind == kind {
			refs = append(refs, ref)
		}
	}
	return refs
}

// Diff computes the objects to add or update and, in full-sync mode, the
// objects to delete, by structural comparison of the declared set against the
// committed snapshot. Objects equal by full-value comparison appear in
// neither set, which makes repeated applies with unchanged input a no-op.
//
// In partial mode ToDelete is always empty regardless of registry contents:
// deletion is opt-in per invocation, never inferred. In full-sync mode
// deletion is restricted to the managed kinds, so unmanaged kinds are never
// silently touched.
func Diff(declared *model.FeatureSet, snap *RegistrySnapshot, fullSync bool, managed []model.ObjectKind) *DiffResult {
	result := &DiffResult{}

	declaredRefs := make(map[model.Ref]struct{})
	for _, obj := range declared.Objects() {
		ref := model.Ref{Kind: obj.ObjectKind(), Name: obj.ObjectName()}
		declaredRefs[ref] = struct{}{}

		existing, ok := snap.Object(ref)
		if ok && model.Equal(obj, existing) {
			result.Unchanged++
			continue
		}
		result.ToApply = append(result.ToApply, obj)
	}

	if !fullSync {
		return result
	}

	if len(managed) == 0 {
		managed = model.AllKinds()
	}
	for _, ref := range snap.Refs(managed...) {
		if _, ok := declaredRefs[ref]; ok {
			continue
		}
		result.ToDelete = append(result.ToDelete, ref)
	}
	return result
}

// mergeDeletes folds explicitly named deletions into the diff's delete set,
// deduplicating against deletions the diff already inferred.
func mergeDeletes(diff *DiffResult, explicit []model.Ref) {
	seen := make(map[model.Ref]struct{}, len(diff.ToDelete))
	for _, ref := range diff.ToDelete {
		seen[ref] = struct{}{}
	}
	for _, ref := range explicit {
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		diff.ToDelete = append(diff.ToDelete, ref)
	}
	sort.Slice(diff.ToDelete, func(i, j int) bool {
		if diff.ToDelete[i].Kind != diff.ToDelete[j].Kind {
			return diff.ToDelete[i].Kind < diff.ToDelete[j].Kind
		}
		return diff.ToDelete[i].Name < diff.ToDelete[j].Name
	})
}
