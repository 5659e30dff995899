package registry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/featherstore/featherstore/pkg/core"
	"github.com/featherstore/featherstore/pkg/model"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrationsFS embed.FS

const timeLayout = time.RFC3339Nano

// SQLiteStore implements core.Registry on an embedded SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// SQLiteConfig holds SQLite registry configuration.
type SQLiteConfig struct {
	Path string
}

// NewSQLiteStore creates a SQLite registry store. Call Init and Migrate
// before first use.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("registry database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open registry database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if strings.Contains(s.path, ":memory:") {
		// An in-memory database exists per connection; keep exactly one.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping registry database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Migrate runs the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("registry database not initialized")
	}
	sourceDriver, err := iofs.New(sqliteMigrationsFS, "migrations/sqlite")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(s.db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Snapshot returns the committed state for a project. A project never written
// yields an empty snapshot at version zero.
func (s *SQLiteStore) Snapshot(ctx context.Context, project string) (*core.RegistrySnapshot, error) {
	snap := core.NewRegistrySnapshot(project)

	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM projects WHERE name = ?`, project).Scan(&snap.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read project version: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, name, spec FROM registry_objects WHERE project = ? ORDER BY kind, name`, project)
	if err != nil {
		return nil, fmt.Errorf("failed to list registry objects: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind, name string
			spec       []byte
		)
		if err := rows.Scan(&kind, &name, &spec); err != nil {
			return nil, fmt.Errorf("failed to scan registry object: %w", err)
		}
		obj, err := decodeObject(model.ObjectKind(kind), name, spec)
		if err != nil {
			return nil, err
		}
		switch o := obj.(type) {
		case model.Entity:
			snap.Entities[name] = o
		case model.DataSource:
			snap.DataSources[name] = o
		case model.FeatureView:
			snap.FeatureViews[name] = o
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating registry objects: %w", err)
	}

	ivRows, err := s.db.QueryContext(ctx,
		`SELECT feature_view, start_time, end_time, recorded_at
		 FROM materialization_intervals
		 WHERE project = ?
		 ORDER BY recorded_at ASC, id ASC`, project)
	if err != nil {
		return nil, fmt.Errorf("failed to list materialization intervals: %w", err)
	}
	defer ivRows.Close()
	for ivRows.Next() {
		var view string
		var startStr, endStr, recordedStr string
		if err := ivRows.Scan(&view, &startStr, &endStr, &recordedStr); err != nil {
			return nil, fmt.Errorf("failed to scan interval: %w", err)
		}
		iv, err := parseInterval(startStr, endStr, recordedStr)
		if err != nil {
			return nil, err
		}
		snap.Intervals[view] = append(snap.Intervals[view], iv)
	}
	if err := ivRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating intervals: %w", err)
	}

	return snap, nil
}

// Intervals returns the materialization history for one feature view in
// recording order.
func (s *SQLiteStore) Intervals(ctx context.Context, project, featureView string) ([]model.MaterializationInterval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT start_time, end_time, recorded_at
		 FROM materialization_intervals
		 WHERE project = ? AND feature_view = ?
		 ORDER BY recorded_at ASC, id ASC`, project, featureView)
	if err != nil {
		return nil, fmt.Errorf("failed to list intervals: %w", err)
	}
	defer rows.Close()

	var intervals []model.MaterializationInterval
	for rows.Next() {
		var startStr, endStr, recordedStr string
		if err := rows.Scan(&startStr, &endStr, &recordedStr); err != nil {
			return nil, fmt.Errorf("failed to scan interval: %w", err)
		}
		iv, err := parseInterval(startStr, endStr, recordedStr)
		if err != nil {
			return nil, err
		}
		intervals = append(intervals, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating intervals: %w", err)
	}
	return intervals, nil
}

func parseInterval(startStr, endStr, recordedStr string) (model.MaterializationInterval, error) {
	start, err := time.Parse(timeLayout, startStr)
	if err != nil {
		return model.MaterializationInterval{}, fmt.Errorf("parse interval start: %w", err)
	}
	end, err := time.Parse(timeLayout, endStr)
	if err != nil {
		return model.MaterializationInterval{}, fmt.Errorf("parse interval end: %w", err)
	}
	recorded, err := time.Parse(timeLayout, recordedStr)
	if err != nil {
		return model.MaterializationInterval{}, fmt.Errorf("parse interval recorded_at: %w", err)
	}
	return model.MaterializationInterval{Start: start, End: end, RecordedAt: recorded}, nil
}

// Begin opens a buffered transaction anchored to the project's current
// committed version.
func (s *SQLiteStore) Begin(ctx context.Context, project string) (core.RegistryTx, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM projects WHERE name = ?`, project).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read project version: %w", err)
	}
	return &sqliteTx{
		store: s,
		buf:   buffer{project: project, baseVersion: version},
	}, nil
}

// sqliteTx buffers mutations in memory; nothing touches the database until
// Commit.
type sqliteTx struct {
	store *SQLiteStore
	buf   buffer
}

func (t *sqliteTx) Upsert(obj model.Object) { t.buf.upsert(obj) }
func (t *sqliteTx) Delete(ref model.Ref)    { t.buf.delete(ref) }

func (t *sqliteTx) AppendInterval(featureView string, iv model.MaterializationInterval) {
	t.buf.appendInterval(featureView, iv)
}

func (t *sqliteTx) Rollback() error {
	if t.buf.done {
		return errTxDone
	}
	t.buf.done = true
	return nil
}

func (t *sqliteTx) Commit(ctx context.Context) error {
	if t.buf.done {
		return errTxDone
	}
	t.buf.done = true

	tx, err := t.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin registry transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeLayout)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO projects (name, version, created_at, updated_at)
		 VALUES (?, 0, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		t.buf.project, now, now); err != nil {
		return fmt.Errorf("failed to ensure project row: %w", err)
	}

	if t.buf.mutatesObjects() {
		res, err := tx.ExecContext(ctx,
			`UPDATE projects SET version = version + 1, updated_at = ?
			 WHERE name = ? AND version = ?`,
			now, t.buf.project, t.buf.baseVersion)
		if err != nil {
			return fmt.Errorf("failed to advance project version: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return core.NewConflictError(
				fmt.Sprintf("project %q was modified concurrently", t.buf.project), nil)
		}
	}

	for _, obj := range t.buf.upserts {
		kind, name, spec, err := encodeObject(obj)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO registry_objects (project, kind, name, spec, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(project, kind, name) DO UPDATE SET
				spec = excluded.spec,
				updated_at = excluded.updated_at`,
			t.buf.project, string(kind), name, string(spec), now, now); err != nil {
			return fmt.Errorf("failed to upsert %s/%s: %w", kind, name, err)
		}
	}

	for _, ref := range t.buf.deletes {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM registry_objects WHERE project = ? AND kind = ? AND name = ?`,
			t.buf.project, string(ref.Kind), ref.Name); err != nil {
			return fmt.Errorf("failed to delete %s: %w", ref, err)
		}
		if ref.Kind == model.KindFeatureView {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM materialization_intervals WHERE project = ? AND feature_view = ?`,
				t.buf.project, ref.Name); err != nil {
				return fmt.Errorf("failed to delete intervals for %s: %w", ref, err)
			}
		}
	}

	for _, rec := range t.buf.intervals {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO materialization_intervals (project, feature_view, start_time, end_time, recorded_at)
			 VALUES (?, ?, ?, ?, ?)`,
			t.buf.project, rec.featureView,
			rec.interval.Start.UTC().Format(timeLayout),
			rec.interval.End.UTC().Format(timeLayout),
			rec.interval.RecordedAt.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("failed to append interval for %s: %w", rec.featureView, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit registry transaction: %w", err)
	}
	return nil
}
