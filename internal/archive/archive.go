// Package archive stores raw submission videos in an S3-compatible bucket
// so a past interview can be replayed next to its scores. Archival is
// optional and always best effort: the gateway works the same with it off,
// minus replay links.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/poiselabs/poise-gateway/internal/config"
)

// ErrDisabled is returned for every operation when no archive endpoint is
// configured.
var ErrDisabled = errors.New("video archive not configured")

// Store is the object storage surface the gateway uses.
type Store interface {
	Enabled() bool
	Bucket() string
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// MinioStore talks to any S3-compatible endpoint.
type MinioStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// New connects to the configured endpoint and makes sure the bucket
// exists. MinIO ignores the region; pinning one skips the per-bucket
// location lookup.
func New(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) (*MinioStore, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: "us-east-1",
	})
	if err != nil {
		return nil, fmt.Errorf("connect archive endpoint: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check archive bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create archive bucket: %w", err)
		}
		logger.Info("created archive bucket", "bucket", cfg.Bucket)
	}

	return &MinioStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

func (s *MinioStore) Enabled() bool  { return true }
func (s *MinioStore) Bucket() string { return s.bucket }

// Put streams one object into the bucket.
func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("archive put %s: %w", key, err)
	}
	return nil
}

// PresignGet returns a time-limited download URL for one object. Signing
// is local; no round-trip to the endpoint.
func (s *MinioStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

// Disabled is the archive used when no endpoint is configured.
type Disabled struct{}

func (Disabled) Enabled() bool  { return false }
func (Disabled) Bucket() string { return "" }

func (Disabled) Put(context.Context, string, io.Reader, int64, string) error {
	return ErrDisabled
}

func (Disabled) PresignGet(context.Context, string, time.Duration) (string, error) {
	return "", ErrDisabled
}
