package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds S3-compatible bucket settings
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	Prefix    string
}

// Client uploads archived source documents to one bucket
type Client struct {
	client *minio.Client
	config *Config
	logger *slog.Logger
}

// NewClient builds the MinIO client and makes sure the bucket exists
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	if config.Bucket == "" {
		return nil, errors.New("no storage bucket configured")
	}

	mc, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	c := &Client{client: mc, config: config, logger: logger}
	if err := c.ensureBucket(ctx); err != nil {
		return nil, err
	}

	logger.Info("Object storage ready",
		slog.String("endpoint", config.Endpoint),
		slog.String("bucket", config.Bucket),
	)

	return c, nil
}

func (c *Client) ensureBucket(ctx context.Context) error {
	err := c.client.MakeBucket(ctx, c.config.Bucket, minio.MakeBucketOptions{Region: c.config.Region})
	if err == nil {
		return nil
	}

	exists, existsErr := c.client.BucketExists(ctx, c.config.Bucket)
	if existsErr == nil && exists {
		return nil
	}
	return fmt.Errorf("failed to create bucket %s: %w", c.config.Bucket, err)
}

// ObjectName applies the configured prefix to key
func (c *Client) ObjectName(key string) string {
	prefix := strings.Trim(c.config.Prefix, "/")
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

// UploadFile streams the local file at filePath to key and returns the object name
func (c *Client) UploadFile(ctx context.Context, key, filePath, contentType string) (string, error) {
	objectName := c.ObjectName(key)

	info, err := c.client.FPutObject(ctx, c.config.Bucket, objectName, filePath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", objectName, err)
	}

	c.logger.Debug("Object uploaded",
		slog.String("bucket", info.Bucket),
		slog.String("object", info.Key),
		slog.Int64("size", info.Size),
	)

	return objectName, nil
}

// HealthCheck verifies the bucket is reachable
func (c *Client) HealthCheck(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.config.Bucket)
	if err != nil {
		return fmt.Errorf("object storage health check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("object storage health check failed: bucket %s missing", c.config.Bucket)
	}
	return nil
}
