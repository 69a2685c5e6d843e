package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/drummonds/pdfcarousel/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Store keeps objects in an S3 compatible bucket
type S3Store struct {
	Bucket string
	Client *minio.Client
}

// NewS3Store connects to the bucket, creating it when missing
func NewS3Store(ctx context.Context, cfg config.StorageConfig) (*S3Store, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.S3Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.S3Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.S3Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.S3Bucket, err)
		}
		logger().Info("Created storage bucket", "bucket", cfg.S3Bucket)
	}

	return &S3Store{Bucket: cfg.S3Bucket, Client: client}, nil
}

// EnsurePrefix is a no-op, S3 prefixes exist implicitly
func (s *S3Store) EnsurePrefix(ctx context.Context, prefix string) error {
	_, err := CleanKey(prefix)
	return err
}

// Put uploads an object
func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	cleaned, err := CleanKey(key)
	if err != nil {
		return err
	}
	_, err = s.Client.PutObject(ctx, s.Bucket, cleaned, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: ContentType(cleaned)})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

// Get downloads a whole object
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	obj, err := s.Client.GetObject(ctx, s.Bucket, cleaned, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.translate(err, cleaned)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.translate(err, cleaned)
	}
	return data, nil
}

// Size stats an object
func (s *S3Store) Size(ctx context.Context, key string) (int64, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return 0, err
	}
	info, err := s.Client.StatObject(ctx, s.Bucket, cleaned, minio.StatObjectOptions{})
	if err != nil {
		return 0, s.translate(err, cleaned)
	}
	return info.Size, nil
}

// Delete removes an object, S3 treats a missing key as success
func (s *S3Store) Delete(ctx context.Context, key string) error {
	cleaned, err := CleanKey(key)
	if err != nil {
		return err
	}
	if err := s.Client.RemoveObject(ctx, s.Bucket, cleaned, minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("s3 remove object: %w", err)
	}
	return nil
}

func (s *S3Store) translate(err error, key string) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %s", ErrNotExist, key)
	}
	return fmt.Errorf("s3 %s: %w", key, err)
}
