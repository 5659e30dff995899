package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "featherstore.yaml", `
project: demo
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Project != "demo" {
		t.Fatalf("expected project demo, got %q", cfg.Project)
	}
	if cfg.Provider != "local" {
		t.Fatalf("expected the local provider by default, got %q", cfg.Provider)
	}
	if cfg.Registry.Backend != "sqlite" || cfg.Registry.Path == "" {
		t.Fatalf("expected a sqlite registry default, got %+v", cfg.Registry)
	}
	if cfg.Materialization.PollInterval.Std() != 500*time.Millisecond {
		t.Fatalf("expected the default poll interval, got %v", cfg.Materialization.PollInterval.Std())
	}
	if cfg.Telemetry.ServiceName != "featherstore" {
		t.Fatalf("expected the default service name, got %q", cfg.Telemetry.ServiceName)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "featherstore.yaml", `
project: demo
registry:
  backend: postgres
  dsn: postgres://localhost/featherstore
offline_store:
  backend: sqlite
  path: warehouse.db
online_store:
  backend: sqlite
  path: serving.db
materialization:
  poll_interval: 2s
telemetry:
  service_name: featherstore
  logging:
    level: debug
    format: json
    output: stderr
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Registry.Backend != "postgres" || cfg.Registry.DSN == "" {
		t.Fatalf("expected the postgres registry, got %+v", cfg.Registry)
	}
	if cfg.Materialization.PollInterval.Std() != 2*time.Second {
		t.Fatalf("expected a 2s poll interval, got %v", cfg.Materialization.PollInterval.Std())
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Fatalf("expected debug logging, got %q", cfg.Telemetry.Logging.Level)
	}
}

func TestLoad_MissingProjectFails(t *testing.T) {
	path := writeFile(t, t.TempDir(), "featherstore.yaml", `
registry:
  backend: sqlite
  path: featherstore.db
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected a config without a project to fail validation")
	}
}

func TestLoad_InvalidBackendFails(t *testing.T) {
	path := writeFile(t, t.TempDir(), "featherstore.yaml", `
project: demo
registry:
  backend: cassandra
  path: featherstore.db
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected an unknown backend to fail validation")
	}
}

func TestLoad_InvalidDurationFails(t *testing.T) {
	path := writeFile(t, t.TempDir(), "featherstore.yaml", `
project: demo
materialization:
  poll_interval: soon
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected an unparseable duration to fail")
	}
}

func TestLoadDefinitions_SingleFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "definitions.yaml", `
project: demo
entities:
  - name: user_id
    value_type: int64
data_sources:
  - name: events
    backend: sqlite
    table: events
    timestamp_column: event_ts
    schema:
      - name: user_id
        value_type: int64
      - name: clicks
        value_type: int64
feature_views:
  - name: user_stats
    entities: [user_id]
    source: events
    ttl: 24h
    features:
      - name: clicks
`)

	set, err := LoadDefinitions(path)
	if err != nil {
		t.Fatalf("failed to load definitions: %v", err)
	}
	if set.Project != "demo" {
		t.Fatalf("expected project demo, got %q", set.Project)
	}
	if len(set.Entities) != 1 || len(set.DataSources) != 1 || len(set.FeatureViews) != 1 {
		t.Fatalf("expected one object of each kind, got %d/%d/%d",
			len(set.Entities), len(set.DataSources), len(set.FeatureViews))
	}
	view := set.FeatureViews[0]
	if view.TTL != 24*time.Hour {
		t.Fatalf("expected a 24h TTL, got %v", view.TTL)
	}
	if view.Features[0].ValueType != "" {
		t.Fatalf("expected the untyped feature to stay open for inference, got %q", view.Features[0].ValueType)
	}
}

func TestLoadDefinitions_DirectoryMerge(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a_entities.yaml", `
project: demo
entities:
  - name: user_id
    value_type: int64
`)
	writeFile(t, dir, "b_views.yaml", `
data_sources:
  - name: events
    backend: sqlite
    table: events
    timestamp_column: event_ts
feature_views:
  - name: user_stats
    entities: [user_id]
    source: events
    features:
      - name: clicks
        value_type: int64
`)
	writeFile(t, dir, "notes.txt", "not a definition file")

	set, err := LoadDefinitions(dir)
	if err != nil {
		t.Fatalf("failed to load definitions: %v", err)
	}
	if set.Project != "demo" {
		t.Fatalf("expected the project to carry across files, got %q", set.Project)
	}
	if len(set.Entities) != 1 || len(set.DataSources) != 1 || len(set.FeatureViews) != 1 {
		t.Fatalf("expected merged definitions, got %d/%d/%d",
			len(set.Entities), len(set.DataSources), len(set.FeatureViews))
	}
}

func TestLoadDefinitions_ConflictingProjectsFail(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "project: demo\n")
	writeFile(t, dir, "b.yaml", "project: other\n")

	if _, err := LoadDefinitions(dir); err == nil {
		t.Fatalf("expected conflicting project declarations to fail")
	}
}

func TestLoadDefinitions_NoProjectFails(t *testing.T) {
	path := writeFile(t, t.TempDir(), "definitions.yaml", `
entities:
  - name: user_id
    value_type: int64
`)

	if _, err := LoadDefinitions(path); err == nil {
		t.Fatalf("expected definitions without a project to fail")
	}
}
