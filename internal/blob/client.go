// Package blob wraps the object storage client used for source videos and
// published renditions.
package blob

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/GhostRadios/ghostspace-worker/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Client struct {
	client        *minio.Client
	sourceBucket  string
	outputBucket  string
	publicBaseURL string
	presignExpiry time.Duration
}

func NewClient(cfg *config.Config) (*Client, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	return &Client{
		client:        client,
		sourceBucket:  cfg.S3SourceBucket,
		outputBucket:  cfg.S3OutputBucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		presignExpiry: time.Duration(cfg.PresignExpirySec) * time.Second,
	}, nil
}

// PresignedSourceURL returns a time-limited signed GET URL for a source blob.
func (c *Client) PresignedSourceURL(ctx context.Context, key string) (string, error) {
	reqParams := url.Values{}
	presignedURL, err := c.client.PresignedGetObject(ctx, c.sourceBucket, key, c.presignExpiry, reqParams)
	if err != nil {
		return "", fmt.Errorf("presigned get object: %w", err)
	}
	return presignedURL.String(), nil
}

// PublicSourceURL builds the unsigned URL for a source blob, used only as a
// fallback when presigning is unavailable.
func (c *Client) PublicSourceURL(key string) string {
	scheme := "http"
	if c.client.EndpointURL().Scheme == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, c.client.EndpointURL().Host, c.sourceBucket, key)
}

// UploadFile publishes one local file into the output bucket under key.
// PutObject semantics are upload-or-replace, so re-publishing a partially
// uploaded tree is safe.
func (c *Client) UploadFile(ctx context.Context, key, localPath, contentType string) error {
	_, err := c.client.FPutObject(ctx, c.outputBucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

// PublicURL returns the externally reachable URL for a published object.
func (c *Client) PublicURL(key string) string {
	if c.publicBaseURL != "" {
		return c.publicBaseURL + "/" + key
	}
	scheme := "http"
	if c.client.EndpointURL().Scheme == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, c.client.EndpointURL().Host, c.outputBucket, key)
}
