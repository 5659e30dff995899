package registry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// Postgres driver
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/featherstore/featherstore/pkg/core"
	"github.com/featherstore/featherstore/pkg/model"
)

//go:embed migrations/postgres/*.sql
var postgresMigrationsFS embed.FS

// PostgresStore implements core.Registry on a Postgres database via pgx.
type PostgresStore struct {
	db  *sql.DB
	cfg PostgresConfig
}

// PostgresConfig holds Postgres registry configuration.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// NewPostgresStore creates a Postgres registry store. Call Init and Migrate
// before first use.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("registry DSN is required")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	return &PostgresStore{cfg: cfg}, nil
}

// Init opens the connection pool.
func (s *PostgresStore) Init(ctx context.Context) error {
	db, err := sql.Open("pgx", s.cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to open registry database: %w", err)
	}
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping registry database: %w", err)
	}
	s.db = db
	return nil
}

// Migrate runs the embedded schema migrations.
func (s *PostgresStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("registry database not initialized")
	}
	sourceDriver, err := iofs.New(postgresMigrationsFS, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := pgxmigrate.WithInstance(s.db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "pgx", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Snapshot returns the committed state for a project.
func (s *PostgresStore) Snapshot(ctx context.Context, project string) (*core.RegistrySnapshot, error) {
	snap := core.NewRegistrySnapshot(project)

	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM projects WHERE name = $1`, project).Scan(&snap.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read project version: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, name, spec FROM registry_objects WHERE project = $1 ORDER BY kind, name`, project)
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
		 WHERE project = $1
		 ORDER BY recorded_at ASC, id ASC`, project)
	if err != nil {
		return nil, fmt.Errorf("failed to list materialization intervals: %w", err)
	}
	defer ivRows.Close()
	for ivRows.Next() {
		var view string
		var start, end, recorded time.Time
		if err := ivRows.Scan(&view, &start, &end, &recorded); err != nil {
			return nil, fmt.Errorf("failed to scan interval: %w", err)
		}
		snap.Intervals[view] = append(snap.Intervals[view], model.MaterializationInterval{
			Start: start, End: end, RecordedAt: recorded,
		})
	}
	if err := ivRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating intervals: %w", err)
	}

	return snap, nil
}

// Intervals returns the materialization history for one feature view in
// recording order.
func (s *PostgresStore) Intervals(ctx context.Context, project, featureView string) ([]model.MaterializationInterval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT start_time, end_time, recorded_at
		 FROM materialization_intervals
		 WHERE project = $1 AND feature_view = $2
		 ORDER BY recorded_at ASC, id ASC`, project, featureView)
	if err != nil {
		return nil, fmt.Errorf("failed to list intervals: %w", err)
	}
	defer rows.Close()

	var intervals []model.MaterializationInterval
	for rows.Next() {
		var start, end, recorded time.Time
		if err := rows.Scan(&start, &end, &recorded); err != nil {
			return nil, fmt.Errorf("failed to scan interval: %w", err)
		}
		intervals = append(intervals, model.MaterializationInterval{
			Start: start, End: end, RecordedAt: recorded,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating intervals: %w", err)
	}
	return intervals, nil
}

// Begin opens a buffered transaction anchored to the project's current
// committed version.
func (s *PostgresStore) Begin(ctx context.Context, project string) (core.RegistryTx, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM projects WHERE name = $1`, project).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read project version: %w", err)
	}
	return &postgresTx{
		store: s,
		buf:   buffer{project: project, baseVersion: version},
	}, nil
}

type postgresTx struct {
	store *PostgresStore
	buf   buffer
}

func (t *postgresTx) Upsert(obj model.Object) { t.buf.upsert(obj) }
func (t *postgresTx) Delete(ref model.Ref)    { t.buf.delete(ref) }

func (t *postgresTx) AppendInterval(featureView string, iv model.MaterializationInterval) {
	t.buf.appendInterval(featureView, iv)
}

func (t *postgresTx) Rollback() error {
	if t.buf.done {
		return errTxDone
	}
	t.buf.done = true
	return nil
}

func (t *postgresTx) Commit(ctx context.Context) error {
	if t.buf.done {
		return errTxDone
	}
	t.buf.done = true

	tx, err := t.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin registry transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO projects (name, version, created_at, updated_at)
		 VALUES ($1, 0, $2, $2)
		 ON CONFLICT (name) DO NOTHING`,
		t.buf.project, now); err != nil {
		return fmt.Errorf("failed to ensure project row: %w", err)
	}

	if t.buf.mutatesObjects() {
		res, err := tx.ExecContext(ctx,
			`UPDATE projects SET version = version + 1, updated_at = $1
			 WHERE name = $2 AND version = $3`,
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
			 VALUES ($1, $2, $3, $4, $5, $5)
			 ON CONFLICT (project, kind, name) DO UPDATE SET
				spec = excluded.spec,
				updated_at = excluded.updated_at`,
			t.buf.project, string(kind), name, spec, now); err != nil {
			return fmt.Errorf("failed to upsert %s/%s: %w", kind, name, err)
		}
	}

	for _, ref := range t.buf.deletes {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM registry_objects WHERE project = $1 AND kind = $2 AND name = $3`,
			t.buf.project, string(ref.Kind), ref.Name); err != nil {
			return fmt.Errorf("failed to delete %s: %w", ref, err)
		}
		if ref.Kind == model.KindFeatureView {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM materialization_intervals WHERE project = $1 AND feature_view = $2`,
				t.buf.project, ref.Name); err != nil {
				return fmt.Errorf("failed to delete intervals for %s: %w", ref, err)
			}
		}
	}

	for _, rec := range t.buf.intervals {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO materialization_intervals (project, feature_view, start_time, end_time, recorded_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			t.buf.project, rec.featureView,
			rec.interval.Start.UTC(),
			rec.interval.End.UTC(),
			rec.interval.RecordedAt.UTC()); err != nil {
			return fmt.Errorf("failed to append interval for %s: %w", rec.featureView, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit registry transaction: %w", err)
	}
	return nil
}
