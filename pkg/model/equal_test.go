package model

import (
	"testing"
	"time"
)

func TestEqual_IdenticalObjects(t *testing.T) {
	a := FeatureView{
		Name:     "user_stats",
		Entities: []string{"user_id"},
		Features: []Field{{Name: "clicks", ValueType: ValueTypeInt64}},
		TTL:      24 * time.Hour,
		Source:   "events",
	}
	b := a

	if !Equal(a, b) {
		t.Fatalf("expected identical feature views to be equal")
	}
}

func TestEqual_NilVersusEmptyCollections(t *testing.T) {
	a := Entity{Name: "user_id", ValueType: ValueTypeInt64, Tags: nil}
	b := Entity{Name: "user_id", ValueType: ValueTypeInt64, Tags: map[string]string{}}

	if !Equal(a, b) {
		t.Fatalf("expected nil and empty tags to compare equal")
	}

	c := DataSource{Name: "events", Table: "events", TimestampColumn: "event_ts", Schema: nil}
	d := DataSource{Name: "events", Table: "events", TimestampColumn: "event_ts", Schema: []Field{}}

	if !Equal(c, d) {
		t.Fatalf("expected nil and empty schema to compare equal")
	}
}

func TestEqual_DifferentKinds(t *testing.T) {
	a := Entity{Name: "events", ValueType: ValueTypeString}
	b := DataSource{Name: "events", Table: "events", TimestampColumn: "event_ts"}

	if Equal(a, b) {
		t.Fatalf("expected objects of different kinds to compare unequal")
	}
}

func TestEqual_ChangedField(t *testing.T) {
	a := FeatureView{Name: "user_stats", Entities: []string{"user_id"}, Source: "events", TTL: time.Hour}
	b := a
	b.TTL = 2 * time.Hour

	if Equal(a, b) {
		t.Fatalf("expected feature views with different TTLs to compare unequal")
	}
}

func TestValueType_Validate(t *testing.T) {
	valid := []ValueType{
		ValueTypeInt64, ValueTypeFloat64, ValueTypeString,
		ValueTypeBool, ValueTypeBytes, ValueTypeTimestamp,
	}
	for _, vt := range valid {
		if err := vt.Validate(); err != nil {
			t.Fatalf("expected %q to be valid: %v", vt, err)
		}
	}

	if err := ValueTypeUnknown.Validate(); err == nil {
		t.Fatalf("expected the unknown value type to fail validation")
	}
	if err := ValueType("decimal").Validate(); err == nil {
		t.Fatalf("expected an unrecognized value type to fail validation")
	}
}

func TestFeatureSet_Objects(t *testing.T) {
	set := &FeatureSet{
		Project:      "demo",
		Entities:     []Entity{{Name: "user_id", ValueType: ValueTypeInt64}},
		DataSources:  []DataSource{{Name: "events", Table: "events", TimestampColumn: "event_ts"}},
		FeatureViews: []FeatureView{{Name: "user_stats", Entities: []string{"user_id"}, Source: "events"}},
	}

	objs := set.Objects()
	if len(objs) != 3 {
		t.Fatalf("expected 3 objects, got %d", len(objs))
	}
	if objs[0].ObjectKind() != KindEntity || objs[1].ObjectKind() != KindDataSource || objs[2].ObjectKind() != KindFeatureView {
		t.Fatalf("expected entities, then data sources, then feature views, got %v %v %v",
			objs[0].ObjectKind(), objs[1].ObjectKind(), objs[2].ObjectKind())
	}
}
