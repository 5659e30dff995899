package model

import "reflect"

// Equal reports whether two registry objects are structurally identical.
// Comparison is by full value, never by identity; nil and empty tag maps or
// slices compare equal so that a round trip through the registry codec does
// not register as a change.
func Equal(a, b Object) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ObjectKind() != b.ObjectKind() {
		return false
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// normalize returns a copy of the object with empty collections collapsed to
// nil so that DeepEqual treats them uniformly.
func normalize(o Object) Object {
	switch v := o.(type) {
	case Entity:
		v.Tags = normTags(v.Tags)
		return v
	case *Entity:
		return normalize(*v)
	case DataSource:
		v.Tags = normTags(v.Tags)
		v.Schema = normFields(v.Schema)
		return v
	case *DataSource:
		return normalize(*v)
	case FeatureView:
		v.Tags = normTags(v.Tags)
		v.Features = normFields(v.Features)
		if len(v.Entities) == 0 {
			v.Entities = nil
		}
		return v
	case *FeatureView:
		return normalize(*v)
	default:
		return o
	}
}

func normTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	return tags
}

func normFields(fields []Field) []Field {
	if len(fields) == 0 {
		return nil
	}
	return fields
}
