// Package provider implements core.InfraProvider backends. A provider owns
// the physical online-store resources for a project's feature views and
// delegates materialization compute to a batch engine. The orchestrators
// only ever see the core.InfraProvider interface, so alternative backends
// plug in at configuration time without touching the core.
package provider

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/featherstore/featherstore/pkg/batch"
	"github.com/featherstore/featherstore/pkg/core"
	"github.com/featherstore/featherstore/pkg/model"
	"github.com/featherstore/featherstore/pkg/telemetry"
)

// LocalConfig wires a local provider to its online store connection and
// batch engine.
type LocalConfig struct {
	OnlineDB *sql.DB
	Dialect  batch.Dialect
	Engine   core.BatchEngine
}

// LocalProvider manages per-feature-view tables in a SQL online store. One
// table per feature view holds the latest value for each (entity key,
// feature) pair.
type LocalProvider struct {
	online  *sql.DB
	dialect batch.Dialect
	engine  core.BatchEngine
	log     *telemetry.Logger
}

// NewLocalProvider creates a local provider.
func NewLocalProvider(cfg LocalConfig, log *telemetry.Logger) (*LocalProvider, error) {
	if cfg.OnlineDB == nil {
		return nil, fmt.Errorf("online store connection is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("batch engine is required")
	}
	if err := cfg.Dialect.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = telemetry.NopLogger()
	}
	return &LocalProvider{
		online:  cfg.OnlineDB,
		dialect: cfg.Dialect,
		engine:  cfg.Engine,
		log:     log,
	}, nil
}

// UpdateInfra creates online tables for kept feature views and drops tables
// for deleted ones. Creation is idempotent; an already-present table is left
// alone. Entities carry no physical resource in this backend, their key
// values are folded into each table's entity_key column.
func (p *LocalProvider) UpdateInfra(ctx context.Context, project string,
	viewsToDelete, viewsToKeep []model.FeatureView,
	entitiesToDelete, entitiesToKeep []model.Entity,
	fullSync bool) error {

	for _, view := range viewsToKeep {
		table := batch.OnlineTableName(project, view.Name)
		if err := p.createTable(ctx, table); err != nil {
			return core.NewProviderError(
				fmt.Sprintf("failed to create online table for feature view %q", view.Name), err).
				WithObject(model.KindFeatureView, view.Name)
		}
		p.log.WithField("table", table).Debug("ensured online table")
	}

	for _, view := range viewsToDelete {
		table := batch.OnlineTableName(project, view.Name)
		if _, err := p.online.ExecContext(ctx,
			fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
			return core.NewProviderError(
				fmt.Sprintf("failed to drop online table for feature view %q", view.Name), err).
				WithObject(model.KindFeatureView, view.Name)
		}
		p.log.WithField("table", table).Info("dropped online table")
	}

	return nil
}

func (p *LocalProvider) createTable(ctx context.Context, table string) error {
	tsType := "TEXT"
	if p.dialect == batch.DialectPostgres {
		tsType = "TIMESTAMPTZ"
	}
	_, err := p.online.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			entity_key TEXT NOT NULL,
			feature    TEXT NOT NULL,
			value      TEXT NOT NULL,
			event_ts   %s NOT NULL,
			created_ts %s NOT NULL,
			PRIMARY KEY (entity_key, feature)
		)`, table, tsType, tsType))
	return err
}

// Materialize forwards tasks to the batch engine.
func (p *LocalProvider) Materialize(ctx context.Context, snap *core.RegistrySnapshot, tasks []core.MaterializationTask) ([]core.Job, error) {
	return p.engine.Materialize(ctx, snap, tasks)
}

// OnlineRead returns the stored feature values for one entity key.
func (p *LocalProvider) OnlineRead(ctx context.Context, project, featureView, entityKey string) (map[string]string, error) {
	table := batch.OnlineTableName(project, featureView)
	rows, err := p.online.QueryContext(ctx, fmt.Sprintf(
		"SELECT feature, value FROM %s WHERE entity_key = %s",
		table, p.dialect.Placeholder(1)), entityKey)
	if err != nil {
		return nil, core.NewProviderError(
			fmt.Sprintf("failed to read online table for feature view %q", featureView), err).
			WithObject(model.KindFeatureView, featureView)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var feature, value string
		if err := rows.Scan(&feature, &value); err != nil {
			return nil, core.NewProviderError("failed to scan online row", err)
		}
		values[feature] = value
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewProviderError("error iterating online rows", err)
	}
	return values, nil
}
