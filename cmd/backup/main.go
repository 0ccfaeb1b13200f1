package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"log"
	"time"

	"arxiv-stars/config"
	"arxiv-stars/storage"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

const snapshotPrefix = "snapshots/"

type BackupConfig struct {
	BackupBucket    string `envconfig:"BACKUP_S3_BUCKET" required:"true"`
	BackupEndpoint  string `envconfig:"BACKUP_S3_ENDPOINT" required:"true"`
	BackupAccessKey string `envconfig:"BACKUP_S3_ACCESS_KEY" required:"true"`
	BackupSecretKey string `envconfig:"BACKUP_S3_SECRET_KEY" required:"true"`
	BackupRegion    string `envconfig:"BACKUP_S3_REGION" required:"true"`
	KeepBackups     int    `envconfig:"KEEP_BACKUPS" default:"7"`
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()
	logging.Info("Starting snapshot backup...")

	var bcfg BackupConfig
	if err := envconfig.Process("", &bcfg); err != nil {
		logging.Fatal("Backup config load error", zap.Error(err))
	}
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	// 1. Snapshot aus der Datenbank erstellen
	store, err := storage.Open(cfg, logging)
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer store.Close()

	data, lines, err := createSnapshot(ctx, store)
	if err != nil {
		logging.Fatal("Snapshot export failed", zap.Error(err))
	}
	logging.Info("Snapshot created", zap.Int("lines", lines), zap.Int("bytes", len(data)))

	// 2. S3-Client erstellen
	client, err := storage.NewS3Client(ctx, storage.S3Settings{
		Endpoint:  bcfg.BackupEndpoint,
		Region:    bcfg.BackupRegion,
		AccessKey: bcfg.BackupAccessKey,
		SecretKey: bcfg.BackupSecretKey,
	})
	if err != nil {
		logging.Fatal("S3 client creation failed", zap.Error(err))
	}

	// 3. Hochladen
	key := fmt.Sprintf("%ssnapshot-%s.jsonl.gz", snapshotPrefix, time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	if err := storage.UploadObject(ctx, client, bcfg.BackupBucket, key, "application/gzip", data); err != nil {
		logging.Fatal("Snapshot upload failed", zap.String("key", key), zap.Error(err))
	}
	logging.Info("Snapshot uploaded", zap.String("bucket", bcfg.BackupBucket), zap.String("key", key))

	// 4. Alte Snapshots rotieren
	deleted, err := storage.RotateObjects(ctx, client, bcfg.BackupBucket, snapshotPrefix, bcfg.KeepBackups, logging)
	if err != nil {
		logging.Fatal("Snapshot rotation failed", zap.Error(err))
	}
	logging.Info("Snapshot backup finished", zap.Int("deleted", len(deleted)))
}

func createSnapshot(ctx context.Context, store *storage.Store) ([]byte, int, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	lines, err := store.ExportSnapshot(ctx, gz)
	if err != nil {
		return nil, 0, err
	}
	if err := gz.Close(); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), lines, nil
}
