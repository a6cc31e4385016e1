// Package reportstore archives rendered notebook reports in S3-compatible object
// storage.
package reportstore

import (
	"bytes"
	"context"
	"log/slog"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/nbrunner/internal/logfields"
)

// Archive stores report bodies and returns where they were put.
type Archive interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// NoopArchive stores nothing.
type NoopArchive struct{}

func (NoopArchive) Put(context.Context, string, []byte, string) (string, error) { return "", nil }

// MinioStore is an Archive backed by minio-go.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioStore validates cfg and creates the client. No request is made.
func NewMinioStore(cfg Config) (*MinioStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, ferrors.StorageError("failed to create object storage client").WithCause(err).Build()
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return ferrors.StorageError("failed to check report bucket").WithCause(err).WithContext("bucket", s.bucket).Build()
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return ferrors.StorageError("failed to create report bucket").WithCause(err).WithContext("bucket", s.bucket).Build()
	}
	slog.Info("Created report bucket", slog.String("bucket", s.bucket))
	return nil
}

// Put uploads body under the store prefix and returns its s3:// location.
func (s *MinioStore) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	objectKey := path.Join(s.prefix, key)
	_, err := s.client.PutObject(ctx, s.bucket, objectKey, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", ferrors.StorageError("failed to upload report").
			WithCause(err).
			WithContext("bucket", s.bucket).
			WithContext("key", objectKey).
			Build()
	}
	loc := "s3://" + s.bucket + "/" + objectKey
	slog.Info("Report archived", logfields.URL(loc), slog.Int("bytes", len(body)))
	return loc, nil
}

// ReportKey is the object key of a run's HTML report within its target folder.
func ReportKey(folder, runID string) string {
	if folder == "" {
		folder = "unsorted"
	}
	return path.Join(folder, runID+".html")
}
