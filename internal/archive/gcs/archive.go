// Package gcs keeps archived reports in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the bucket and optional object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// Archive writes objects to a bucket.
type Archive struct {
	client *storage.Client
	bucket string
	prefix string
	closer func() error
}

// New creates a client from Application Default Credentials and checks that
// the bucket is reachable.
func New(ctx context.Context, cfg Config) (*Archive, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	a, err := NewWithClient(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("get bucket %q attributes: %w", cfg.Bucket, err)
	}
	a.closer = client.Close
	return a, nil
}

// NewWithClient wraps an existing client; the caller keeps ownership of it.
func NewWithClient(client *storage.Client, cfg Config) (*Archive, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	return &Archive{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName joins the prefix and key.
func (a *Archive) ObjectName(key string) string {
	if a.prefix == "" {
		return key
	}
	return a.prefix + "/" + key
}

// Put uploads r and returns a gs:// URI.
func (a *Archive) Put(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	name := a.ObjectName(key)
	writer := a.client.Bucket(a.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, name), nil
}

// Close releases a client created by New.
func (a *Archive) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	return a.closer()
}
