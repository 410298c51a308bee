// Package archive складывает терминальные записи прогонов в object storage.
//
// Запись — это JSON с прогоном и всеми исходами указов. Она пишется один
// раз, когда прогон достиг терминального статуса, и служит долговременной
// историей выполнения; жизненный цикл самого bucket (retention, версии)
// настраивается снаружи.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/politicai/orderetl/internal/domain"
)

// Config — настройки подключения к object storage.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

// ConfigFromEnv читает настройки из окружения с localhost-умолчаниями.
func ConfigFromEnv() Config {
	cfg := Config{
		Endpoint:  envOr("ARCHIVE_ENDPOINT", "localhost:9000"),
		AccessKey: envOr("ARCHIVE_ACCESS_KEY", "orderetl"),
		SecretKey: envOr("ARCHIVE_SECRET_KEY", "orderetl-secret"),
		Region:    envOr("ARCHIVE_REGION", "us-east-1"),
		Bucket:    envOr("ARCHIVE_BUCKET", "orderetl-runs"),
		UseSSL:    os.Getenv("ARCHIVE_USE_SSL") == "true",
	}
	return cfg
}

// Validate проверяет обязательные поля.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("archive: endpoint is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("archive: credentials are required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("archive: bucket is required")
	}
	return nil
}

// Archiver пишет записи прогонов в bucket.
type Archiver struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// New создаёт Archiver и проверяет доступность bucket.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: create client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("archive: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("archive: make bucket: %w", err)
		}
		logger.Info("archive bucket created", "bucket", cfg.Bucket)
	}

	return &Archiver{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Record — содержимое архивной записи.
type Record struct {
	Run        *domain.Run           `json:"run"`
	Outcomes   []domain.OrderOutcome `json:"outcomes,omitempty"`
	ArchivedAt time.Time             `json:"archived_at"`
}

// ObjectKey возвращает ключ записи прогона в bucket.
func ObjectKey(run *domain.Run) string {
	return fmt.Sprintf("runs/%s.json", run.ID)
}

// Archive пишет терминальную запись прогона и возвращает ключ объекта.
func (a *Archiver) Archive(ctx context.Context, run *domain.Run, outcomes []domain.OrderOutcome) (string, error) {
	if !run.IsFinished() {
		return "", fmt.Errorf("archive: run %s is not finished", run.ID)
	}

	rec := Record{Run: run, Outcomes: outcomes, ArchivedAt: time.Now()}
	body, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("archive: marshal record: %w", err)
	}

	key := ObjectKey(run)
	_, err = a.client.PutObject(ctx, a.bucket, key,
		bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)
	if err != nil {
		return "", fmt.Errorf("archive: put object: %w", err)
	}

	a.logger.Info("run archived", "run_id", run.ID, "key", key, "bytes", len(body))
	return key, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
