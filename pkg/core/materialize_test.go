package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/featherstore/featherstore/pkg/model"
)

func materializeFixture(t *testing.T, views ...string) *mockRegistry {
	t.Helper()
	snap := NewRegistrySnapshot("demo")
	snap.Entities["user_id"] = model.Entity{Name: "user_id", ValueType: model.ValueTypeInt64}
	snap.DataSources["events"] = model.DataSource{
		Name: "events", Table: "events", TimestampColumn: "event_ts",
	}
	for _, view := range views {
		snap.FeatureViews[view] = model.FeatureView{
			Name: view, Entities: []string{"user_id"}, Source: "events",
			Features: []model.Field{{Name: "clicks", ValueType: model.ValueTypeInt64}},
		}
	}
	return newMockRegistry(snap)
}

var (
	windowStart = time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
)

func TestMaterialize_InvalidRange(t *testing.T) {
	reg := materializeFixture(t, "user_stats")
	orch := newTestOrchestrator(reg, &mockProvider{})

	_, err := orch.Materialize(context.Background(), "demo", nil, windowEnd, windowStart)
	if !IsInvalidRange(err) {
		t.Fatalf("expected an invalid range error for start after end, got %v", err)
	}

	_, err = orch.Materialize(context.Background(), "demo", nil, windowStart, windowStart)
	if !IsInvalidRange(err) {
		t.Fatalf("expected an invalid range error for an empty window, got %v", err)
	}
}

func TestMaterialize_UnknownFeatureView(t *testing.T) {
	reg := materializeFixture(t, "user_stats")
	prov := &mockProvider{}
	orch := newTestOrchestrator(reg, prov)

	_, err := orch.Materialize(context.Background(), "demo", []string{"missing_view"}, windowStart, windowEnd)
	if !IsNotFound(err) {
		t.Fatalf("expected a not found error, got %v", err)
	}
	if len(prov.tasks) != 0 {
		t.Fatalf("expected no tasks dispatched for an unknown view")
	}
}

func TestMaterialize_DefaultsToAllRegisteredViews(t *testing.T) {
	reg := materializeFixture(t, "view_b", "view_a")
	prov := &mockProvider{}
	orch := newTestOrchestrator(reg, prov)

	result, err := orch.Materialize(context.Background(), "demo", nil, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("materialize failed: %v", err)
	}
	if len(result.Succeeded) != 2 {
		t.Fatalf("expected both views to succeed, got %v", result.Succeeded)
	}
	if result.Succeeded[0] != "view_a" || result.Succeeded[1] != "view_b" {
		t.Fatalf("expected sorted view names, got %v", result.Succeeded)
	}
	if len(prov.tasks) != 2 {
		t.Fatalf("expected one task per registered view, got %d", len(prov.tasks))
	}
}

func TestMaterialize_SuccessRecordsInterval(t *testing.T) {
	reg := materializeFixture(t, "user_stats")
	prov := &mockProvider{}
	orch := newTestOrchestrator(reg, prov)

	result, err := orch.Materialize(context.Background(), "demo", []string{"user_stats"}, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("materialize failed: %v", err)
	}
	if len(result.Succeeded) != 1 || result.Succeeded[0] != "user_stats" {
		t.Fatalf("expected user_stats to succeed, got %v", result.Succeeded)
	}

	intervals := reg.snap.Intervals["user_stats"]
	if len(intervals) != 1 {
		t.Fatalf("expected 1 recorded interval, got %d", len(intervals))
	}
	if !intervals[0].Start.Equal(windowStart) || !intervals[0].End.Equal(windowEnd) {
		t.Fatalf("expected the recorded interval to match the requested window, got %+v", intervals[0])
	}
	if intervals[0].RecordedAt.IsZero() {
		t.Fatalf("expected a recording timestamp")
	}
}

func TestMaterialize_RepeatedCallsAppendIntervals(t *testing.T) {
	reg := materializeFixture(t, "user_stats")
	orch := newTestOrchestrator(reg, &mockProvider{})

	for i := 0; i < 2; i++ {
		if _, err := orch.Materialize(context.Background(), "demo", nil, windowStart, windowEnd); err != nil {
			t.Fatalf("materialize %d failed: %v", i, err)
		}
	}

	if got := len(reg.snap.Intervals["user_stats"]); got != 2 {
		t.Fatalf("expected the overlapping interval to append, got %d records", got)
	}
}

func TestMaterialize_FailureIsolation(t *testing.T) {
	reg := materializeFixture(t, "view_a", "view_b")
	cause := errors.New("offline table missing")
	prov := &mockProvider{jobs: []Job{
		&mockJob{id: "job-a", status: JobStatusError, err: cause},
		&mockJob{id: "job-b", status: JobStatusSucceeded},
	}}
	orch := newTestOrchestrator(reg, prov)

	result, err := orch.Materialize(context.Background(), "demo", nil, windowStart, windowEnd)
	if err == nil {
		t.Fatalf("expected an aggregate error")
	}
	var merr *MaterializeError
	if !errors.As(err, &merr) {
		t.Fatalf("expected a MaterializeError, got %T: %v", err, err)
	}

	if len(result.Succeeded) != 1 || result.Succeeded[0] != "view_b" {
		t.Fatalf("expected view_b to succeed despite view_a failing, got %v", result.Succeeded)
	}
	if _, failed := result.Failed["view_a"]; !failed {
		t.Fatalf("expected view_a to fail, got %v", result.Failed)
	}
	if !IsProvider(result.Failed["view_a"]) {
		t.Fatalf("expected a provider error for the failed view, got %v", result.Failed["view_a"])
	}

	if got := len(reg.snap.Intervals["view_b"]); got != 1 {
		t.Fatalf("expected an interval for the succeeded view, got %d", got)
	}
	if got := len(reg.snap.Intervals["view_a"]); got != 0 {
		t.Fatalf("expected no interval for the failed view, got %d", got)
	}
}

func TestMaterialize_JobCountMismatch(t *testing.T) {
	reg := materializeFixture(t, "view_a", "view_b")
	prov := &mockProvider{jobs: []Job{
		&mockJob{id: "job-a", status: JobStatusSucceeded},
	}}
	orch := newTestOrchestrator(reg, prov)

	_, err := orch.Materialize(context.Background(), "demo", nil, windowStart, windowEnd)
	if !IsProvider(err) {
		t.Fatalf("expected a provider error for the job count mismatch, got %v", err)
	}
}

func TestMaterialize_IntervalCommitFailureIsInconsistency(t *testing.T) {
	reg := materializeFixture(t, "user_stats")
	reg.commitErr = errors.New("registry unavailable")
	orch := newTestOrchestrator(reg, &mockProvider{})

	result, err := orch.Materialize(context.Background(), "demo", nil, windowStart, windowEnd)
	if err == nil {
		t.Fatalf("expected an aggregate error")
	}
	if !IsInconsistency(result.Failed["user_stats"]) {
		t.Fatalf("expected an inconsistency error, got %v", result.Failed["user_stats"])
	}
}

func TestMaterialize_CancellationStopsPolling(t *testing.T) {
	reg := materializeFixture(t, "user_stats")
	job := &mockJob{id: "job-a", status: JobStatusRunning}
	prov := &mockProvider{jobs: []Job{job}}
	orch := newTestOrchestrator(reg, prov)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, err := orch.Materialize(ctx, "demo", nil, windowStart, windowEnd)
	if err == nil {
		t.Fatalf("expected an aggregate error after cancellation")
	}
	cause := result.Failed["user_stats"]
	if !errors.Is(cause, context.Canceled) {
		t.Fatalf("expected a cancellation cause, got %v", cause)
	}
	if got := len(reg.snap.Intervals["user_stats"]); got != 0 {
		t.Fatalf("expected no interval after cancellation, got %d", got)
	}
}

func TestMaterialize_LateSuccessStillCommitsInterval(t *testing.T) {
	reg := materializeFixture(t, "user_stats")
	job := &mockJob{id: "job-a", status: JobStatusRunning}
	prov := &mockProvider{jobs: []Job{job}}
	orch := NewOrchestrator(reg, prov, WithPollInterval(time.Millisecond))

	go func() {
		time.Sleep(10 * time.Millisecond)
		job.finish(JobStatusSucceeded, nil)
	}()

	result, err := orch.Materialize(context.Background(), "demo", nil, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("materialize failed: %v", err)
	}
	if len(result.Succeeded) != 1 {
		t.Fatalf("expected the job to resolve after it finished, got %v", result.Succeeded)
	}
	if got := len(reg.snap.Intervals["user_stats"]); got != 1 {
		t.Fatalf("expected 1 recorded interval, got %d", got)
	}
}
