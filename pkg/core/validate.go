package core

import (
	"fmt"

	"github.com/featherstore/featherstore/pkg/model"
)

// ValidateAndInfer checks a declared feature set for referential integrity and
// fills in feature types left unspecified by the caller, deriving them from
// the referenced data source's schema. It returns a normalized copy; the
// caller's set is never mutated. The first violation aborts validation with a
// validation error naming the offending object and rule.
func ValidateAndInfer(set *model.FeatureSet) (*model.FeatureSet, error) {
	if set == nil {
		return nil, NewValidationError("feature set is nil").WithRule("non_nil_set")
	}
	if set.Project == "" {
		return nil, NewValidationError("project name is empty").WithRule("project_name")
	}

	out := &model.FeatureSet{
		Project:      set.Project,
		Entities:     append([]model.Entity(nil), set.Entities...),
		DataSources:  append([]model.DataSource(nil), set.DataSources...),
		FeatureViews: make([]model.FeatureView, 0, len(set.FeatureViews)),
	}

	if err := checkUniqueNames(out); err != nil {
		return nil, err
	}

	for _, e := range out.Entities {
		if err := e.ValueType.Validate(); err != nil {
			return nil, NewValidationError(fmt.Sprintf("entity value type: %v", err)).
				WithObject(model.KindEntity, e.Name).
				WithRule("entity_value_type")
		}
	}

	for _, d := range out.DataSources {
		if d.Table == "" {
			return nil, NewValidationError("data source has no table").
				WithObject(model.KindDataSource, d.Name).
				WithRule("source_table")
		}
		if d.TimestampColumn == "" {
			return nil, NewValidationError("data source has no event timestamp column").
				WithObject(model.KindDataSource, d.Name).
				WithRule("source_timestamp_column")
		}
	}

	for _, view := range set.FeatureViews {
		v, err := validateFeatureView(view, out)
		if err != nil {
			return nil, err
		}
		out.FeatureViews = append(out.FeatureViews, v)
	}

	return out, nil
}

func checkUniqueNames(set *model.FeatureSet) error {
	seen := make(map[model.Ref]struct{})
	for _, obj := range set.Objects() {
		if obj.ObjectName() == "" {
			return NewValidationError("object has no name").
				WithObject(obj.ObjectKind(), "").
				WithRule("object_name")
		}
		ref := model.Ref{Kind: obj.ObjectKind(), Name: obj.ObjectName()}
		if _, dup := seen[ref]; dup {
			return NewValidationError("duplicate name within kind").
				WithObject(ref.Kind, ref.Name).
				WithRule("unique_name")
		}
		seen[ref] = struct{}{}
	}
	return nil
}

func validateFeatureView(view model.FeatureView, set *model.FeatureSet) (model.FeatureView, error) {
	if len(view.Entities) == 0 {
		return view, NewValidationError("feature view references no entities").
			WithObject(model.KindFeatureView, view.Name).
			WithRule("entity_refs")
	}
	for _, entityName := range view.Entities {
		if _, ok := set.Entity(entityName); !ok {
			return view, NewValidationError(
				fmt.Sprintf("feature view references unknown entity %q", entityName)).
				WithObject(model.KindFeatureView, view.Name).
				WithRule("entity_exists")
		}
	}

	source, ok := set.DataSource(view.Source)
	if !ok {
		return view, NewValidationError(
			fmt.Sprintf("feature view references unknown data source %q", view.Source)).
			WithObject(model.KindFeatureView, view.Name).
			WithRule("source_exists")
	}

	if view.TTL < 0 {
		return view, NewValidationError("feature view TTL is negative").
			WithObject(model.KindFeatureView, view.Name).
			WithRule("ttl_non_negative")
	}
	if len(view.Features) == 0 {
		return view, NewValidationError("feature view declares no features").
			WithObject(model.KindFeatureView, view.Name).
			WithRule("feature_schema")
	}

	features := make([]model.Field, len(view.Features))
	copy(features, view.Features)
	for i, f := range features {
		if f.ValueType == model.ValueTypeUnknown {
			inferred, err := inferFeatureType(f.Name, source)
			if err != nil {
				return view, err.WithObject(model.KindFeatureView, view.Name)
			}
			features[i].ValueType = inferred
			continue
		}
		if err := f.ValueType.Validate(); err != nil {
			return view, NewValidationError(fmt.Sprintf("feature %q: %v", f.Name, err)).
				WithObject(model.KindFeatureView, view.Name).
				WithRule("feature_value_type")
		}
	}
	view.Entities = append([]string(nil), view.Entities...)
	view.Features = features
	return view, nil
}

// inferFeatureType derives a feature's type from the data source schema.
func inferFeatureType(feature string, source model.DataSource) (model.ValueType, *Error) {
	field, ok := source.SchemaField(feature)
	if !ok {
		return model.ValueTypeUnknown, NewValidationError(fmt.Sprintf(
			"feature %q has no declared type and source %q does not carry it in its schema",
			feature, source.Name)).
			WithRule("type_inference")
	}
	if err := field.ValueType.Validate(); err != nil {
		return model.ValueTypeUnknown, NewValidationError(fmt.Sprintf(
			"feature %q inferred an invalid type from source %q: %v", feature, source.Name, err)).
			WithRule("type_inference")
	}
	return field.ValueType, nil
}
