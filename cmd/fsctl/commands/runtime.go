package commands

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/featherstore/featherstore/pkg/batch"
	"github.com/featherstore/featherstore/pkg/config"
	"github.com/featherstore/featherstore/pkg/core"
	"github.com/featherstore/featherstore/pkg/provider"
	"github.com/featherstore/featherstore/pkg/registry"
	"github.com/featherstore/featherstore/pkg/snapshot"
	"github.com/featherstore/featherstore/pkg/telemetry"
)

// runtime bundles the wired components every command needs: configuration,
// telemetry, the registry, the store connections, and the orchestrator.
type runtime struct {
	cfg *config.Config
	log *telemetry.Logger

	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer

	reg       core.Registry
	offlineDB *sql.DB
	onlineDB  *sql.DB
	provider  core.InfraProvider
	orch      *core.Orchestrator
}

// buildRuntime wires the full component stack from the config file named by
// the global --config flag.
func buildRuntime(ctx context.Context, version string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if cfg.Telemetry.ServiceVersion == "" || cfg.Telemetry.ServiceVersion == "dev" {
		cfg.Telemetry.ServiceVersion = version
	}

	log, err := telemetry.NewLogger(cfg.Telemetry.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	metrics := telemetry.NewMetrics(cfg.Telemetry.Metrics)
	tracer, err := telemetry.NewTracer(cfg.Telemetry.Tracing,
		cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion, cfg.Telemetry.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	rt := &runtime{cfg: cfg, log: log, metrics: metrics, tracer: tracer}
	if err := rt.wire(ctx); err != nil {
		rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) wire(ctx context.Context) error {
	reg, err := openRegistry(ctx, rt.cfg.Registry)
	if err != nil {
		return err
	}
	rt.reg = reg

	offlineDB, offlineDialect, err := openStore(ctx, rt.cfg.OfflineStore)
	if err != nil {
		return fmt.Errorf("failed to open offline store: %w", err)
	}
	rt.offlineDB = offlineDB

	onlineDB, onlineDialect, err := openStore(ctx, rt.cfg.OnlineStore)
	if err != nil {
		return fmt.Errorf("failed to open online store: %w", err)
	}
	rt.onlineDB = onlineDB

	engine, err := batch.NewLocalEngine(batch.Config{
		OfflineDB:      offlineDB,
		OfflineDialect: offlineDialect,
		OnlineDB:       onlineDB,
		OnlineDialect:  onlineDialect,
	}, rt.log.NewComponentLogger("batch"))
	if err != nil {
		return err
	}

	prov, err := provider.NewLocalProvider(provider.LocalConfig{
		OnlineDB: onlineDB,
		Dialect:  onlineDialect,
		Engine:   engine,
	}, rt.log.NewComponentLogger("provider"))
	if err != nil {
		return err
	}
	rt.provider = prov

	rt.orch = core.NewOrchestrator(reg, prov,
		core.WithLogger(rt.log.NewComponentLogger("core")),
		core.WithMetrics(rt.metrics),
		core.WithTracer(rt.tracer),
		core.WithPollInterval(rt.cfg.Materialization.PollInterval.Std()),
	)
	return nil
}

// Close releases every runtime resource. Safe to call on a partially wired
// runtime.
func (rt *runtime) Close(ctx context.Context) {
	if rt.tracer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := rt.tracer.Shutdown(shutdownCtx); err != nil {
			rt.log.WithError(err).Warn("failed to shut down tracer")
		}
	}
	if rt.onlineDB != nil {
		_ = rt.onlineDB.Close()
	}
	if rt.offlineDB != nil {
		_ = rt.offlineDB.Close()
	}
	if rt.reg != nil {
		_ = rt.reg.Close()
	}
}

// exporter builds the backup exporter; configuring a backup section is a
// prerequisite for the backup and restore commands.
func (rt *runtime) exporter() (*snapshot.Exporter, error) {
	if rt.cfg.Backup == nil {
		return nil, fmt.Errorf("no backup section in config file %s", configPath)
	}
	return snapshot.NewExporter(snapshot.Config{
		Endpoint:  rt.cfg.Backup.Endpoint,
		Bucket:    rt.cfg.Backup.Bucket,
		AccessKey: rt.cfg.Backup.AccessKey,
		SecretKey: rt.cfg.Backup.SecretKey,
		UseSSL:    rt.cfg.Backup.UseSSL,
		Prefix:    rt.cfg.Backup.Prefix,
	}, rt.log.NewComponentLogger("backup"))
}

func openRegistry(ctx context.Context, cfg config.StoreConfig) (core.Registry, error) {
	switch cfg.Backend {
	case "postgres":
		store, err := registry.NewPostgresStore(registry.PostgresConfig{DSN: cfg.DSN})
		if err != nil {
			return nil, err
		}
		if err := store.Init(ctx); err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	default:
		store, err := registry.NewSQLiteStore(registry.SQLiteConfig{Path: cfg.Path})
		if err != nil {
			return nil, err
		}
		if err := store.Init(ctx); err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (*sql.DB, batch.Dialect, error) {
	var (
		db      *sql.DB
		dialect batch.Dialect
		err     error
	)
	switch cfg.Backend {
	case "postgres":
		dialect = batch.DialectPostgres
		db, err = sql.Open("pgx", cfg.DSN)
	default:
		dialect = batch.DialectSQLite
		dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", cfg.Path)
		db, err = sql.Open("sqlite", dsn)
	}
	if err != nil {
		return nil, dialect, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, dialect, err
	}
	return db, dialect, nil
}
