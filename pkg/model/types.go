// Package model defines the feature definition objects a caller declares for a
// project: entities, data sources, and feature views. Definitions are immutable
// within one apply or materialize invocation; the registry persists them.
package model

import (
	"fmt"
	"time"
)

// ValueType is the type of an entity key or feature value.
type ValueType string

const (
	// ValueTypeUnknown marks a feature whose type is left to schema inference.
	ValueTypeUnknown ValueType = ""

	ValueTypeInt64     ValueType = "int64"
	ValueTypeFloat64   ValueType = "float64"
	ValueTypeString    ValueType = "string"
	ValueTypeBool      ValueType = "bool"
	ValueTypeBytes     ValueType = "bytes"
	ValueTypeTimestamp ValueType = "timestamp"
)

// Validate checks that the value type is a known concrete type.
func (v ValueType) Validate() error {
	switch v {
	case ValueTypeInt64, ValueTypeFloat64, ValueTypeString,
		ValueTypeBool, ValueTypeBytes, ValueTypeTimestamp:
		return nil
	default:
		return fmt.Errorf("invalid value type: %q", string(v))
	}
}

// ObjectKind identifies a registry object kind.
type ObjectKind string

const (
	KindEntity      ObjectKind = "entity"
	KindDataSource  ObjectKind = "data_source"
	KindFeatureView ObjectKind = "feature_view"
)

// AllKinds lists every object kind the control plane manages, in a stable
// order (sources before views so infra resolution never dangles).
func AllKinds() []ObjectKind {
	return []ObjectKind{KindEntity, KindDataSource, KindFeatureView}
}

// Validate checks that the kind is one the registry manages.
func (k ObjectKind) Validate() error {
	switch k {
	case KindEntity, KindDataSource, KindFeatureView:
		return nil
	default:
		return fmt.Errorf("invalid object kind: %q", string(k))
	}
}

// Ref names a single registry object.
type Ref struct {
	Kind ObjectKind `json:"kind"`
	Name string     `json:"name"`
}

func (r Ref) String() string {
	return string(r.Kind) + "/" + r.Name
}

// Object is implemented by every definition kind stored in the registry.
type Object interface {
	ObjectKind() ObjectKind
	ObjectName() string
}

// Entity is a key identifying the subject of a feature, such as a user or
// device. The entity name doubles as the join key column in data sources.
type Entity struct {
	Name        string            `json:"name"`
	ValueType   ValueType         `json:"value_type"`
	Description string            `json:"description,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

func (e Entity) ObjectKind() ObjectKind { return KindEntity }
func (e Entity) ObjectName() string     { return e.Name }

// Field is a named, typed column in a data source schema or a feature in a
// feature view.
type Field struct {
	Name      string    `json:"name"`
	ValueType ValueType `json:"value_type"`
}

// DataSource describes a table in the offline store together with the column
// carrying the event timestamp. Backend and Connection are interpreted by the
// configured offline-store implementation, not by the core.
type DataSource struct {
	Name            string            `json:"name"`
	Backend         string            `json:"backend"`
	Connection      string            `json:"connection,omitempty"`
	Table           string            `json:"table"`
	TimestampColumn string            `json:"timestamp_column"`
	Schema          []Field           `json:"schema,omitempty"`
	Tags            map[string]string `json:"tags,omitempty"`
}

func (d DataSource) ObjectKind() ObjectKind { return KindDataSource }
func (d DataSource) ObjectName() string     { return d.Name }

// SchemaField returns the declared schema field with the given name.
func (d DataSource) SchemaField(name string) (Field, bool) {
	for _, f := range d.Schema {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FeatureView is a named schema of features tied to one or more entities and a
// data source. TTL bounds how long a materialized value stays servable.
type FeatureView struct {
	Name     string            `json:"name"`
	Entities []string          `json:"entities"`
	Features []Field           `json:"features"`
	TTL      time.Duration     `json:"ttl"`
	Source   string            `json:"source"`
	Tags     map[string]string `json:"tags,omitempty"`
}

func (v FeatureView) ObjectKind() ObjectKind { return KindFeatureView }
func (v FeatureView) ObjectName() string     { return v.Name }

// FeatureSet is the full set of definitions a caller declares for a project.
// Order within the slices carries no meaning.
type FeatureSet struct {
	Project      string        `json:"project"`
	Entities     []Entity      `json:"entities,omitempty"`
	DataSources  []DataSource  `json:"data_sources,omitempty"`
	FeatureViews []FeatureView `json:"feature_views,omitempty"`
}

// Objects returns every declared object, entities first, then data sources,
// then feature views.
func (s *FeatureSet) Objects() []Object {
	objs := make([]Object, 0, len(s.Entities)+len(s.DataSources)+len(s.FeatureViews))
	for _, e := range s.Entities {
		objs = append(objs, e)
	}
	for _, d := range s.DataSources {
		objs = append(objs, d)
	}
	for _, v := range s.FeatureViews {
		objs = append(objs, v)
	}
	return objs
}

// Entity returns the declared entity with the given name.
func (s *FeatureSet) Entity(name string) (Entity, bool) {
	for _, e := range s.Entities {
		if e.Name == name {
			return e, true
		}
	}
	return Entity{}, false
}

// DataSource returns the declared data source with the given name.
func (s *FeatureSet) DataSource(name string) (DataSource, bool) {
	for _, d := range s.DataSources {
		if d.Name == name {
			return d, true
		}
	}
	return DataSource{}, false
}

// MaterializationInterval records one successfully materialized time window
// for a feature view. The registry keeps these as an append-only history log;
// overlapping intervals are permitted and never merged.
type MaterializationInterval struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	RecordedAt time.Time `json:"recorded_at"`
}
