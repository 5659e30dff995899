package core

import (
	"strings"
	"testing"

	"github.com/featherstore/featherstore/pkg/model"
)

func TestValidateAndInfer_ValidSet(t *testing.T) {
	set := testFeatureSet()

	out, err := ValidateAndInfer(set)
	if err != nil {
		t.Fatalf("expected a valid set to pass: %v", err)
	}
	if out == set {
		t.Fatalf("expected a normalized copy, got the input set")
	}
	if len(out.FeatureViews) != 1 {
		t.Fatalf("expected 1 feature view, got %d", len(out.FeatureViews))
	}
}

func TestValidateAndInfer_EmptyProject(t *testing.T) {
	set := testFeatureSet()
	set.Project = ""

	_, err := ValidateAndInfer(set)
	if !IsValidation(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestValidateAndInfer_DuplicateNames(t *testing.T) {
	set := testFeatureSet()
	set.Entities = append(set.Entities, model.Entity{Name: "user_id", ValueType: model.ValueTypeString})

	_, err := ValidateAndInfer(set)
	if !IsValidation(err) {
		t.Fatalf("expected a validation error for duplicate entity names, got %v", err)
	}
}

func TestValidateAndInfer_MissingEntityReference(t *testing.T) {
	set := testFeatureSet()
	set.FeatureViews[0].Entities = []string{"user_id", "device_id"}

	_, err := ValidateAndInfer(set)
	if !IsValidation(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "user_stats") || !strings.Contains(msg, "device_id") {
		t.Fatalf("expected the error to name the view and the missing entity, got %q", msg)
	}
}

func TestValidateAndInfer_MissingSource(t *testing.T) {
	set := testFeatureSet()
	set.FeatureViews[0].Source = "missing_source"

	_, err := ValidateAndInfer(set)
	if !IsValidation(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestValidateAndInfer_SourceWithoutTimestampColumn(t *testing.T) {
	set := testFeatureSet()
	set.DataSources[0].TimestampColumn = ""

	_, err := ValidateAndInfer(set)
	if !IsValidation(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestValidateAndInfer_NegativeTTL(t *testing.T) {
	set := testFeatureSet()
	set.FeatureViews[0].TTL = -1

	_, err := ValidateAndInfer(set)
	if !IsValidation(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestValidateAndInfer_TypeInferenceFromSchema(t *testing.T) {
	set := testFeatureSet()
	set.FeatureViews[0].Features = []model.Field{
		{Name: "score"}, // type left to inference
	}

	out, err := ValidateAndInfer(set)
	if err != nil {
		t.Fatalf("expected inference to succeed: %v", err)
	}
	got := out.FeatureViews[0].Features[0].ValueType
	if got != model.ValueTypeFloat64 {
		t.Fatalf("expected score to infer float64 from the source schema, got %q", got)
	}
	// The caller's set stays untouched.
	if set.FeatureViews[0].Features[0].ValueType != model.ValueTypeUnknown {
		t.Fatalf("expected the input set to keep its unknown type")
	}
}

func TestValidateAndInfer_InferenceFailsWithoutSchema(t *testing.T) {
	set := testFeatureSet()
	set.DataSources[0].Schema = nil
	set.FeatureViews[0].Features = []model.Field{{Name: "clicks"}}

	_, err := ValidateAndInfer(set)
	if !IsValidation(err) {
		t.Fatalf("expected a validation error when the schema cannot resolve the type, got %v", err)
	}
}
