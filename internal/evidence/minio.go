package evidence

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultBucket = "collect-evidence"

type MinIOStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore connects to an S3-compatible endpoint and creates the bucket
// when it does not exist yet.
func NewMinIOStore(ctx context.Context, cfg Config) (*MinIOStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required when the evidence backend is minio")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		bucket = defaultBucket
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return &MinIOStore{client: client, bucket: bucket}, nil
}

func (s *MinIOStore) Put(ctx context.Context, requestID, contentType string, body io.Reader, size int64) (string, error) {
	if err := checkRequest(requestID, size); err != nil {
		return "", err
	}
	ext, err := extensionFor(contentType)
	if err != nil {
		return "", err
	}
	// Buffer the whole object so an oversized stream is rejected before
	// anything reaches the bucket.
	data, err := readBounded(body)
	if err != nil {
		return "", err
	}
	objectName := fmt.Sprintf("%s/%s%s", requestID, uuid.NewString(), ext)
	_, err = s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("upload evidence %s: %w", objectName, err)
	}
	return "s3://" + s.bucket + "/" + objectName, nil
}
