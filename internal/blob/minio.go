package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore is the S3-compatible production store.
type MinioStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

func NewMinioStore(cfg MinioConfig, logger *slog.Logger) (*MinioStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		s.logger.Info("blob.minio.bucket_created", "bucket", s.bucket)
	}
	return nil
}

func (s *MinioStore) Put(ctx context.Context, p string, data []byte, contentType string) error {
	key, err := cleanKey(p)
	if err != nil {
		return err
	}
	start := time.Now()
	hash := ContentHash(data)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"sha256": hash},
	})
	if err != nil {
		s.logger.Error("blob.minio.put_failed", "path", key, "error", err)
		return fmt.Errorf("failed to upload file: %w", err)
	}
	s.logger.Info("blob.minio.put",
		"path", key,
		"bytes", len(data),
		"sha256", hash,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (s *MinioStore) Get(ctx context.Context, p string) ([]byte, error) {
	key, err := cleanKey(p)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapErr(key, err)
	}
	defer func() { _ = obj.Close() }()

	// GetObject is lazy; a missing key only surfaces on first read.
	b, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapErr(key, err)
	}
	return b, nil
}

func (s *MinioStore) mapErr(key string, err error) error {
	if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
		return ErrNotFound
	}
	s.logger.Error("blob.minio.get_failed", "path", key, "error", err)
	return fmt.Errorf("failed to download file: %w", err)
}
