// Package batch executes materialization jobs: copying a feature view's
// values for a time window from the offline store into the online store.
// Engines run jobs asynchronously and expose them through core.Job handles;
// window chunking, if any, is an engine concern.
package batch

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/featherstore/featherstore/pkg/core"
	"github.com/featherstore/featherstore/pkg/telemetry"
)

// Dialect selects the SQL placeholder style for a store connection.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Validate checks that the dialect is supported.
func (d Dialect) Validate() error {
	switch d {
	case DialectSQLite, DialectPostgres:
		return nil
	default:
		return fmt.Errorf("invalid store dialect: %q", string(d))
	}
}

// Placeholder returns the 1-based bind placeholder for the dialect.
func (d Dialect) Placeholder(n int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// sqliteTimeLayout is fixed width so text comparison of UTC timestamps
// matches chronological order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// BindTime returns the bind value for a timestamp. SQLite stores timestamps
// as fixed-width UTC text.
func (d Dialect) BindTime(t time.Time) any {
	if d == DialectPostgres {
		return t.UTC()
	}
	return t.UTC().Format(sqliteTimeLayout)
}

// OnlineTableName returns the physical online-store table for a feature view.
// Names are sanitized so arbitrary project and view names cannot break out of
// the identifier.
func OnlineTableName(project, featureView string) string {
	return "online_" + sanitize(project) + "_" + sanitize(featureView)
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Config wires a local engine to its offline and online store connections.
type Config struct {
	OfflineDB      *sql.DB
	OfflineDialect Dialect
	OnlineDB       *sql.DB
	OnlineDialect  Dialect
}

// LocalEngine runs materialization jobs in-process, one goroutine per task.
// It reads source rows through database/sql and upserts feature values into
// the per-view online tables, keeping the newest value per (entity key,
// feature) by event timestamp.
type LocalEngine struct {
	offline        *sql.DB
	offlineDialect Dialect
	online         *sql.DB
	onlineDialect  Dialect
	log            *telemetry.Logger
}

// NewLocalEngine creates a local batch engine.
func NewLocalEngine(cfg Config, log *telemetry.Logger) (*LocalEngine, error) {
	if cfg.OfflineDB == nil || cfg.OnlineDB == nil {
		return nil, fmt.Errorf("offline and online store connections are required")
	}
	if err := cfg.OfflineDialect.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.OnlineDialect.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = telemetry.NopLogger()
	}
	return &LocalEngine{
		offline:        cfg.OfflineDB,
		offlineDialect: cfg.OfflineDialect,
		online:         cfg.OnlineDB,
		onlineDialect:  cfg.OnlineDialect,
		log:            log,
	}, nil
}

// Materialize starts one asynchronous job per task and returns their handles
// in task order.
func (e *LocalEngine) Materialize(ctx context.Context, snap *core.RegistrySnapshot, tasks []core.MaterializationTask) ([]core.Job, error) {
	jobs := make([]core.Job, 0, len(tasks))
	for _, task := range tasks {
		j := &localJob{id: uuid.New().String(), status: core.JobStatusPending}
		jobs = append(jobs, j)
		go e.run(ctx, snap, task, j)
	}
	return jobs, nil
}

func (e *LocalEngine) run(ctx context.Context, snap *core.RegistrySnapshot, task core.MaterializationTask, j *localJob) {
	j.transition(core.JobStatusRunning, nil)

	log := e.log.WithField("job_id", j.ID()).WithField("feature_view", task.FeatureView)
	log.Debugf("materializing window %s to %s",
		task.Start.Format(time.RFC3339), task.End.Format(time.RFC3339))

	rows, err := e.copyWindow(ctx, snap, task)
	if err != nil {
		log.WithError(err).Error("materialization job failed")
		j.transition(core.JobStatusError, err)
		return
	}

	log.Infof("materialization job completed, %d rows", rows)
	j.transition(core.JobStatusSucceeded, nil)
}

// copyWindow reads the task's window from the offline table and upserts the
// values into the view's online table. Returns the number of source rows
// processed; zero rows is a success.
func (e *LocalEngine) copyWindow(ctx context.Context, snap *core.RegistrySnapshot, task core.MaterializationTask) (int, error) {
	view, ok := snap.FeatureViews[task.FeatureView]
	if !ok {
		return 0, fmt.Errorf("feature view %q not found in registry snapshot", task.FeatureView)
	}
	source, ok := snap.DataSources[view.Source]
	if !ok {
		return 0, fmt.Errorf("data source %q for feature view %q not found in registry snapshot",
			view.Source, view.Name)
	}

	cols := make([]string, 0, len(view.Entities)+len(view.Features)+1)
	cols = append(cols, view.Entities...)
	for _, f := range view.Features {
		cols = append(cols, f.Name)
	}
	cols = append(cols, source.TimestampColumn)

	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s >= %s AND %s < %s",
		strings.Join(cols, ", "), source.Table,
		source.TimestampColumn, e.offlineDialect.Placeholder(1),
		source.TimestampColumn, e.offlineDialect.Placeholder(2))

	srcRows, err := e.offline.QueryContext(ctx, query,
		e.offlineDialect.BindTime(task.Start), e.offlineDialect.BindTime(task.End))
	if err != nil {
		return 0, fmt.Errorf("failed to read offline table %s: %w", source.Table, err)
	}
	defer srcRows.Close()

	table := OnlineTableName(task.Project, view.Name)
	tx, err := e.online.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin online store transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	upsert := fmt.Sprintf(
		`INSERT INTO %s (entity_key, feature, value, event_ts, created_ts)
		 VALUES (%s, %s, %s, %s, %s)
		 ON CONFLICT (entity_key, feature) DO UPDATE SET
			value = excluded.value,
			event_ts = excluded.event_ts,
			created_ts = excluded.created_ts
		 WHERE excluded.event_ts >= %s.event_ts`,
		table,
		e.onlineDialect.Placeholder(1), e.onlineDialect.Placeholder(2),
		e.onlineDialect.Placeholder(3), e.onlineDialect.Placeholder(4),
		e.onlineDialect.Placeholder(5),
		table)

	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare online upsert: %w", err)
	}
	defer stmt.Close()

	createdTS := time.Now().UTC()
	count := 0
	scanned := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range scanned {
		ptrs[i] = &scanned[i]
	}

	for srcRows.Next() {
		if err := srcRows.Scan(ptrs...); err != nil {
			return 0, fmt.Errorf("failed to scan offline row: %w", err)
		}

		keyParts := make([]string, len(view.Entities))
		for i := range view.Entities {
			keyParts[i] = formatValue(scanned[i])
		}
		entityKey := strings.Join(keyParts, ":")

		eventTS, err := parseTime(scanned[len(cols)-1])
		if err != nil {
			return 0, fmt.Errorf("failed to parse event timestamp in %s: %w", source.Table, err)
		}

		for i, f := range view.Features {
			raw := scanned[len(view.Entities)+i]
			if raw == nil {
				continue
			}
			if _, err := stmt.ExecContext(ctx, entityKey, f.Name,
				formatValue(raw),
				e.onlineDialect.BindTime(eventTS),
				e.onlineDialect.BindTime(createdTS)); err != nil {
				return 0, fmt.Errorf("failed to upsert feature %s for key %s: %w",
					f.Name, entityKey, err)
			}
		}
		count++
	}
	if err := srcRows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating offline rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit online store transaction: %w", err)
	}
	return count, nil
}

// formatValue renders a scanned store value as its online string form.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// parseTime converts a scanned timestamp column value to time.Time. SQLite
// hands timestamps back as TEXT; Postgres as time.Time.
func parseTime(v any) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return val.UTC(), nil
	case string:
		return parseTimeString(val)
	case []byte:
		return parseTimeString(string(val))
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp value of type %T", v)
	}
}

func parseTimeString(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// localJob is the handle for one in-process materialization job.
type localJob struct {
	id string

	mu     sync.Mutex
	status core.JobStatus
	err    error
}

func (j *localJob) ID() string { return j.id }

func (j *localJob) Status() core.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *localJob) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// transition advances the job status if the move is forward. Late writes
// against a terminal status are dropped.
func (j *localJob) transition(next core.JobStatus, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.status.CanTransition(next) {
		return
	}
	j.status = next
	j.err = err
}
