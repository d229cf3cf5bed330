package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/openpcr/caseflow/workflow"
)

// =============================================================================
// MINIO STORE - Production object storage
// =============================================================================

// MinioConfig connects a MinIO (or S3-compatible) endpoint.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Minio implements Store against an object storage bucket.
type Minio struct {
	client *minio.Client
	bucket string
}

// NewMinio connects and ensures the bucket exists.
func NewMinio(ctx context.Context, cfg MinioConfig) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting object storage: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %q: %w", cfg.Bucket, err)
		}
	}
	return &Minio{client: client, bucket: cfg.Bucket}, nil
}

func (m *Minio) Put(ctx context.Context, name, contentType string, r io.Reader, size int64) (string, error) {
	if err := CheckUpload(contentType, size); err != nil {
		return "", err
	}
	ref := name + "/" + uuid.NewString() + extFor(contentType)
	_, err := m.client.PutObject(ctx, m.bucket, ref, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("%w: storing %q: %v", workflow.ErrStorage, name, err)
	}
	return ref, nil
}

func (m *Minio) Get(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("%w: fetching %q: %v", workflow.ErrStorage, ref, err)
	}
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, "", fmt.Errorf("%w: fetching %q: %v", workflow.ErrStorage, ref, err)
	}
	return obj, stat.ContentType, nil
}
