// Package snapshot exports and restores registry backups through an
// S3-compatible object store. A backup is one JSON document holding the
// committed registry snapshot for a project.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/featherstore/featherstore/pkg/core"
	"github.com/featherstore/featherstore/pkg/telemetry"
)

// Config points the exporter at its bucket.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Prefix    string
}

// Exporter writes registry snapshots to an object store bucket and restores
// them back into a registry.
type Exporter struct {
	client *minio.Client
	bucket string
	prefix string
	log    *telemetry.Logger
}

// NewExporter creates an exporter for the configured bucket.
func NewExporter(cfg Config, log *telemetry.Logger) (*Exporter, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("backup endpoint and bucket are required")
	}
	if log == nil {
		log = telemetry.NopLogger()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return &Exporter{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		log:    log,
	}, nil
}

// EnsureBucket creates the backup bucket if it does not exist.
func (e *Exporter) EnsureBucket(ctx context.Context) error {
	exists, err := e.client.BucketExists(ctx, e.bucket)
	if err != nil {
		return fmt.Errorf("failed to check backup bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := e.client.MakeBucket(ctx, e.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create backup bucket: %w", err)
	}
	return nil
}

// Export uploads one registry snapshot and returns its object key.
func (e *Exporter) Export(ctx context.Context, snap *core.RegistrySnapshot) (string, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode registry snapshot: %w", err)
	}

	key := path.Join(e.prefix, "registry", snap.Project,
		fmt.Sprintf("%s-%s.json", time.Now().UTC().Format("20060102T150405Z"), uuid.New().String()))

	_, err = e.client.PutObject(ctx, e.bucket, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("failed to upload registry snapshot: %w", err)
	}

	e.log.WithField("object_key", key).WithField("project", snap.Project).
		Info("exported registry snapshot")
	return key, nil
}

// Fetch downloads one backup by object key.
func (e *Exporter) Fetch(ctx context.Context, key string) (*core.RegistrySnapshot, error) {
	obj, err := e.client.GetObject(ctx, e.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch backup %s: %w", key, err)
	}
	defer obj.Close()

	var snap core.RegistrySnapshot
	if err := json.NewDecoder(obj).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode backup %s: %w", key, err)
	}
	return &snap, nil
}

// Latest returns the object key of the most recent backup for a project, or
// an empty string when none exist.
func (e *Exporter) Latest(ctx context.Context, project string) (string, error) {
	prefix := path.Join(e.prefix, "registry", project) + "/"
	var latest string
	for info := range e.client.ListObjects(ctx, e.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if info.Err != nil {
			return "", fmt.Errorf("failed to list backups: %w", info.Err)
		}
		if info.Key > latest {
			latest = info.Key
		}
	}
	return latest, nil
}

// Restore writes a fetched snapshot's objects and intervals back into the
// registry as one transaction.
func (e *Exporter) Restore(ctx context.Context, reg core.Registry, snap *core.RegistrySnapshot) error {
	tx, err := reg.Begin(ctx, snap.Project)
	if err != nil {
		return fmt.Errorf("failed to begin registry transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, entity := range snap.Entities {
		tx.Upsert(entity)
	}
	for _, source := range snap.DataSources {
		tx.Upsert(source)
	}
	for _, view := range snap.FeatureViews {
		tx.Upsert(view)
	}
	for view, intervals := range snap.Intervals {
		for _, iv := range intervals {
			tx.AppendInterval(view, iv)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to restore registry snapshot: %w", err)
	}
	return nil
}
