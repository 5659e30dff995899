// Package registry implements the persisted, project-scoped registry store:
// definitions plus per-feature-view materialization history, with buffered
// transactions that become visible only at an explicit atomic commit. Two
// backends implement core.Registry: SQLite (embedded, default) and Postgres.
package registry

import (
	"encoding/json"
	"fmt"

	"github.com/featherstore/featherstore/pkg/model"
)

// encodeObject serializes a registry object to its stored JSON spec.
func encodeObject(obj model.Object) (kind model.ObjectKind, name string, spec []byte, err error) {
	kind, name = obj.ObjectKind(), obj.ObjectName()
	spec, err = json.Marshal(obj)
	if err != nil {
		return kind, name, nil, fmt.Errorf("encode %s/%s: %w", kind, name, err)
	}
	return kind, name, spec, nil
}

// decodeObject deserializes a stored spec back into its model object.
func decodeObject(kind model.ObjectKind, name string, spec []byte) (model.Object, error) {
	switch kind {
	case model.KindEntity:
		var e model.Entity
		if err := json.Unmarshal(spec, &e); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", kind, name, err)
		}
		return e, nil
	case model.KindDataSource:
		var d model.DataSource
		if err := json.Unmarshal(spec, &d); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", kind, name, err)
		}
		return d, nil
	case model.KindFeatureView:
		var v model.FeatureView
		if err := json.Unmarshal(spec, &v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", kind, name, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown object kind %q for %q", kind, name)
	}
}

// intervalRecord is a buffered interval append.
type intervalRecord struct {
	featureView string
	interval    model.MaterializationInterval
}

// buffer accumulates transaction mutations until commit. Object mutations
// contend on the project version at commit time; interval appends do not.
type buffer struct {
	project     string
	baseVersion int64

	upserts   []model.Object
	deletes   []model.Ref
	intervals []intervalRecord

	done bool
}

func (b *buffer) upsert(obj model.Object) {
	b.upserts = append(b.upserts, obj)
}

func (b *buffer) delete(ref model.Ref) {
	b.deletes = append(b.deletes, ref)
}

func (b *buffer) appendInterval(featureView string, iv model.MaterializationInterval) {
	b.intervals = append(b.intervals, intervalRecord{featureView: featureView, interval: iv})
}

// mutatesObjects reports whether commit must take the optimistic version
// check.
func (b *buffer) mutatesObjects() bool {
	return len(b.upserts) > 0 || len(b.deletes) > 0
}

var errTxDone = fmt.Errorf("registry transaction already resolved")
