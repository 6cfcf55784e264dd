package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/moroshma/hc2stream/internal/domain/entity"
	pkglogger "github.com/moroshma/hc2stream/pkg/logger"
)

// objectStore is the part of *minio.Client the archive uses
type objectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Repository archives raw change reports in a MinIO bucket
type Repository struct {
	client objectStore
	config *Config
	logger *pkglogger.Logger
}

// Config represents MinIO repository configuration
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
}

// NewRepository creates a new MinIO repository
func NewRepository(cfg *Config, log *pkglogger.Logger) (*Repository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &Repository{
		client: minioClient,
		config: cfg,
		logger: log,
	}, nil
}

// Name identifies the sink
func (r *Repository) Name() string {
	return "minio"
}

// EnsureBucket creates the archive bucket when it does not exist
func (r *Repository) EnsureBucket(ctx context.Context) error {
	exists, err := r.client.BucketExists(ctx, r.config.BucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := r.client.MakeBucket(ctx, r.config.BucketName, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	r.logger.Info("Bucket created", pkglogger.String("bucket", r.config.BucketName))
	return nil
}

// Publish stores the raw report of the batch as one JSON object
func (r *Repository) Publish(ctx context.Context, batch *entity.ChangeBatch) error {
	if len(batch.Raw) == 0 {
		return nil
	}

	objectName := ObjectName(batch)
	info, err := r.client.PutObject(ctx, r.config.BucketName, objectName,
		bytes.NewReader(batch.Raw), int64(len(batch.Raw)),
		minio.PutObjectOptions{
			ContentType: "application/json",
			UserMetadata: map[string]string{
				"batch-id": batch.ID.String(),
				"last":     strconv.FormatUint(batch.Cursor.Last, 10),
				"current":  strconv.FormatUint(batch.Cursor.Current, 10),
				"records":  strconv.Itoa(len(batch.Records)),
			},
		})
	if err != nil {
		return fmt.Errorf("failed to upload report: %w", err)
	}

	r.logger.Debug("Report archived",
		pkglogger.String("bucket", r.config.BucketName),
		pkglogger.String("object", objectName),
		pkglogger.Int64("size", info.Size),
	)

	return nil
}

// Close is a no-op; the MinIO client holds no connection of its own
func (r *Repository) Close() error {
	return nil
}

// ObjectName places a report under its UTC day, ordered by offset:
// reports/2006/01/02/<last>-<batch id>.json
func ObjectName(batch *entity.ChangeBatch) string {
	ts := batch.Timestamp.UTC()
	return fmt.Sprintf("reports/%s/%020d-%s.json", ts.Format("2006/01/02"), batch.Cursor.Last, batch.ID)
}

// GetObjectURL returns the URL for accessing an archived report
func (r *Repository) GetObjectURL(objectName string) string {
	protocol := "http"
	if r.config.UseSSL {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", protocol, r.config.Endpoint, r.config.BucketName, objectName)
}
