package provider

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/featherstore/featherstore/pkg/batch"
	"github.com/featherstore/featherstore/pkg/core"
	"github.com/featherstore/featherstore/pkg/model"
)

type stubEngine struct {
	tasks []core.MaterializationTask
}

func (s *stubEngine) Materialize(ctx context.Context, snap *core.RegistrySnapshot, tasks []core.MaterializationTask) ([]core.Job, error) {
	s.tasks = append(s.tasks, tasks...)
	return make([]core.Job, len(tasks)), nil
}

func setupTestProvider(t *testing.T) (*LocalProvider, *sql.DB, *stubEngine) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	engine := &stubEngine{}
	prov, err := NewLocalProvider(LocalConfig{
		OnlineDB: db,
		Dialect:  batch.DialectSQLite,
		Engine:   engine,
	}, nil)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	return prov, db, engine
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var name string
	err := db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		t.Fatalf("failed to check table: %v", err)
	}
	return true
}

func testViews(names ...string) []model.FeatureView {
	views := make([]model.FeatureView, 0, len(names))
	for _, name := range names {
		views = append(views, model.FeatureView{
			Name:     name,
			Entities: []string{"user_id"},
			Features: []model.Field{{Name: "clicks", ValueType: model.ValueTypeInt64}},
			Source:   "events",
		})
	}
	return views
}

func TestLocalProvider_UpdateInfraCreatesTables(t *testing.T) {
	prov, db, _ := setupTestProvider(t)

	err := prov.UpdateInfra(context.Background(), "demo",
		nil, testViews("user_stats", "device_stats"), nil, nil, false)
	if err != nil {
		t.Fatalf("failed to update infra: %v", err)
	}

	for _, view := range []string{"user_stats", "device_stats"} {
		if !tableExists(t, db, batch.OnlineTableName("demo", view)) {
			t.Fatalf("expected a table for %s", view)
		}
	}
}

func TestLocalProvider_UpdateInfraIsIdempotent(t *testing.T) {
	prov, db, _ := setupTestProvider(t)
	views := testViews("user_stats")

	for i := 0; i < 2; i++ {
		if err := prov.UpdateInfra(context.Background(), "demo", nil, views, nil, nil, false); err != nil {
			t.Fatalf("update %d failed: %v", i, err)
		}
	}
	if !tableExists(t, db, batch.OnlineTableName("demo", "user_stats")) {
		t.Fatalf("expected the table to exist")
	}
}

func TestLocalProvider_UpdateInfraDropsDeletedViews(t *testing.T) {
	prov, db, _ := setupTestProvider(t)
	views := testViews("user_stats")

	if err := prov.UpdateInfra(context.Background(), "demo", nil, views, nil, nil, false); err != nil {
		t.Fatalf("failed to create: %v", err)
	}
	if err := prov.UpdateInfra(context.Background(), "demo", views, nil, nil, nil, true); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if tableExists(t, db, batch.OnlineTableName("demo", "user_stats")) {
		t.Fatalf("expected the table to be dropped")
	}
}

func TestLocalProvider_UpdateInfraWithEmptySetsIsNoop(t *testing.T) {
	prov, _, _ := setupTestProvider(t)

	if err := prov.UpdateInfra(context.Background(), "demo", nil, nil, nil, nil, true); err != nil {
		t.Fatalf("expected empty sets to be a no-op: %v", err)
	}
}

func TestLocalProvider_MaterializeDelegatesToEngine(t *testing.T) {
	prov, _, engine := setupTestProvider(t)

	tasks := []core.MaterializationTask{{
		Project:     "demo",
		FeatureView: "user_stats",
		Start:       time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
	}}
	jobs, err := prov.Materialize(context.Background(), core.NewRegistrySnapshot("demo"), tasks)
	if err != nil {
		t.Fatalf("failed to materialize: %v", err)
	}
	if len(jobs) != 1 || len(engine.tasks) != 1 {
		t.Fatalf("expected the task to pass through to the engine")
	}
}

func TestLocalProvider_OnlineRead(t *testing.T) {
	prov, db, _ := setupTestProvider(t)
	views := testViews("user_stats")

	if err := prov.UpdateInfra(context.Background(), "demo", nil, views, nil, nil, false); err != nil {
		t.Fatalf("failed to create: %v", err)
	}
	table := batch.OnlineTableName("demo", "user_stats")
	if _, err := db.Exec(
		`INSERT INTO `+table+` (entity_key, feature, value, event_ts, created_ts)
		 VALUES (?, ?, ?, ?, ?)`,
		"42", "clicks", "7", "2026-08-30T00:00:00.000000000Z", "2026-08-30T01:00:00.000000000Z"); err != nil {
		t.Fatalf("failed to seed online row: %v", err)
	}

	values, err := prov.OnlineRead(context.Background(), "demo", "user_stats", "42")
	if err != nil {
		t.Fatalf("failed to read online values: %v", err)
	}
	if values["clicks"] != "7" {
		t.Fatalf("expected clicks=7, got %v", values)
	}

	empty, err := prov.OnlineRead(context.Background(), "demo", "user_stats", "99")
	if err != nil {
		t.Fatalf("failed to read missing key: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no values for an unknown key, got %v", empty)
	}
}

func TestLocalProvider_OnlineReadMissingViewIsProviderError(t *testing.T) {
	prov, _, _ := setupTestProvider(t)

	_, err := prov.OnlineRead(context.Background(), "demo", "never_created", "42")
	if !core.IsProvider(err) {
		t.Fatalf("expected a provider error, got %v", err)
	}
}
