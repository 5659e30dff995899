package core

import (
	"testing"
	"time"

	"github.com/featherstore/featherstore/pkg/model"
)

func testFeatureSet() *model.FeatureSet {
	return &model.FeatureSet{
		Project: "demo",
		Entities: []model.Entity{
			{Name: "user_id", ValueType: model.ValueTypeInt64},
		},
		DataSources: []model.DataSource{
			{
				Name:            "events",
				Backend:         "sqlite",
				Table:           "events",
				TimestampColumn: "event_ts",
				Schema: []model.Field{
					{Name: "user_id", ValueType: model.ValueTypeInt64},
					{Name: "clicks", ValueType: model.ValueTypeInt64},
					{Name: "score", ValueType: model.ValueTypeFloat64},
				},
			},
		},
		FeatureViews: []model.FeatureView{
			{
				Name:     "user_stats",
				Entities: []string{"user_id"},
				Features: []model.Field{{Name: "clicks", ValueType: model.ValueTypeInt64}},
				TTL:      24 * time.Hour,
				Source:   "events",
			},
		},
	}
}

func snapshotFromSet(set *model.FeatureSet) *RegistrySnapshot {
	snap := NewRegistrySnapshot(set.Project)
	for _, e := range set.Entities {
		snap.Entities[e.Name] = e
	}
	for _, d := range set.DataSources {
		snap.DataSources[d.Name] = d
	}
	for _, v := range set.FeatureViews {
		snap.FeatureViews[v.Name] = v
	}
	return snap
}

func TestDiff_EmptyRegistry(t *testing.T) {
	set := testFeatureSet()
	snap := NewRegistrySnapshot("demo")

	diff := Diff(set, snap, false, nil)

	if len(diff.ToApply) != 3 {
		t.Fatalf("expected 3 objects to apply, got %d", len(diff.ToApply))
	}
	if len(diff.ToDelete) != 0 {
		t.Fatalf("expected no deletes, got %d", len(diff.ToDelete))
	}
	if diff.Unchanged != 0 {
		t.Fatalf("expected no unchanged objects, got %d", diff.Unchanged)
	}
}

func TestDiff_UnchangedIsNoop(t *testing.T) {
	set := testFeatureSet()
	snap := snapshotFromSet(set)

	diff := Diff(set, snap, true, nil)

	if !diff.Empty() {
		t.Fatalf("expected an empty diff, got %d to apply and %d to delete",
			len(diff.ToApply), len(diff.ToDelete))
	}
	if diff.Unchanged != 3 {
		t.Fatalf("expected 3 unchanged objects, got %d", diff.Unchanged)
	}
}

func TestDiff_ChangedObjectReapplied(t *testing.T) {
	set := testFeatureSet()
	snap := snapshotFromSet(set)

	view := set.FeatureViews[0]
	view.TTL = 48 * time.Hour
	set.FeatureViews[0] = view

	diff := Diff(set, snap, false, nil)

	if len(diff.ToApply) != 1 {
		t.Fatalf("expected exactly the changed feature view to apply, got %d objects", len(diff.ToApply))
	}
	if got := diff.ToApply[0].ObjectName(); got != "user_stats" {
		t.Fatalf("expected user_stats to apply, got %s", got)
	}
	if diff.Unchanged != 2 {
		t.Fatalf("expected 2 unchanged objects, got %d", diff.Unchanged)
	}
}

func TestDiff_PartialModeNeverDeletes(t *testing.T) {
	set := testFeatureSet()
	snap := snapshotFromSet(set)
	snap.FeatureViews["stale_view"] = model.FeatureView{
		Name: "stale_view", Entities: []string{"user_id"}, Source: "events",
	}

	diff := Diff(set, snap, false, nil)

	if len(diff.ToDelete) != 0 {
		t.Fatalf("expected partial mode to infer no deletes, got %v", diff.ToDelete)
	}
}

func TestDiff_FullSyncDeletesUndeclared(t *testing.T) {
	set := testFeatureSet()
	snap := snapshotFromSet(set)
	snap.FeatureViews["stale_view"] = model.FeatureView{
		Name: "stale_view", Entities: []string{"user_id"}, Source: "events",
	}
	snap.Entities["device_id"] = model.Entity{Name: "device_id", ValueType: model.ValueTypeString}

	diff := Diff(set, snap, true, nil)

	if len(diff.ToDelete) != 2 {
		t.Fatalf("expected 2 deletes, got %v", diff.ToDelete)
	}
	want := map[model.Ref]struct{}{
		{Kind: model.KindEntity, Name: "device_id"}:       {},
		{Kind: model.KindFeatureView, Name: "stale_view"}: {},
	}
	for _, ref := range diff.ToDelete {
		if _, ok := want[ref]; !ok {
			t.Fatalf("unexpected delete %s", ref)
		}
	}
}

func TestDiff_FullSyncRespectsManagedKinds(t *testing.T) {
	set := testFeatureSet()
	snap := snapshotFromSet(set)
	snap.FeatureViews["stale_view"] = model.FeatureView{
		Name: "stale_view", Entities: []string{"user_id"}, Source: "events",
	}
	snap.Entities["device_id"] = model.Entity{Name: "device_id", ValueType: model.ValueTypeString}

	diff := Diff(set, snap, true, []model.ObjectKind{model.KindFeatureView})

	if len(diff.ToDelete) != 1 {
		t.Fatalf("expected 1 delete, got %v", diff.ToDelete)
	}
	if diff.ToDelete[0].Kind != model.KindFeatureView || diff.ToDelete[0].Name != "stale_view" {
		t.Fatalf("expected only the stale feature view to delete, got %s", diff.ToDelete[0])
	}
}

func TestMergeDeletes_Deduplicates(t *testing.T) {
	diff := &DiffResult{ToDelete: []model.Ref{
		{Kind: model.KindFeatureView, Name: "stale_view"},
	}}

	mergeDeletes(diff, []model.Ref{
		{Kind: model.KindFeatureView, Name: "stale_view"},
		{Kind: model.KindEntity, Name: "device_id"},
	})

	if len(diff.ToDelete) != 2 {
		t.Fatalf("expected 2 deduplicated deletes, got %v", diff.ToDelete)
	}
	if diff.ToDelete[0].Kind != model.KindEntity {
		t.Fatalf("expected deletes sorted by kind, got %v", diff.ToDelete)
	}
}
