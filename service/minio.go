package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/AnTengye/contractforge/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archive keeps executed contracts outside the document store.
type Archive interface {
	Upload(ctx context.Context, objectName string, body []byte, contentType string) error
	PresignedURL(ctx context.Context, objectName string) (string, error)
	Delete(ctx context.Context, objectName string) error
}

// ExecutedObjectName is where the executed copy of a document is archived.
func ExecutedObjectName(ownerID, documentID string) string {
	return fmt.Sprintf("%s/%s/executed.html", ownerID, documentID)
}

// MinioArchive stores executed contracts in a MinIO or S3 bucket.
type MinioArchive struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

func NewMinioArchive(cfg *config.MinioConfig) (*MinioArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioArchive{
		client: client,
		bucket: cfg.Bucket,
		expiry: time.Duration(cfg.ExpireDays) * 24 * time.Hour,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (a *MinioArchive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (a *MinioArchive) Upload(ctx context.Context, objectName string, body []byte, contentType string) error {
	_, err := a.client.PutObject(ctx, a.bucket, objectName, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", objectName, err)
	}
	return nil
}

// PresignedURL returns a time-limited download link, valid for the configured
// number of days.
func (a *MinioArchive) PresignedURL(ctx context.Context, objectName string) (string, error) {
	u, err := a.client.PresignedGetObject(ctx, a.bucket, objectName, a.expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return u.String(), nil
}

func (a *MinioArchive) Delete(ctx context.Context, objectName string) error {
	if err := a.client.RemoveObject(ctx, a.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", objectName, err)
	}
	return nil
}
