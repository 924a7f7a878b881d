//go:build gcp

package auditlog

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// GCSSink writes audit documents as Cloud Storage objects.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSink creates a GCS-backed audit sink using application default credentials.
func NewGCSSink(ctx context.Context, bucket, prefix string) (*GCSSink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSSink{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *GCSSink) Write(ctx context.Context, name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	w := s.client.Bucket(s.bucket).Object(s.prefix + name).NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close failed: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *GCSSink) Close() error {
	return s.client.Close()
}

func newGCSSink(ctx context.Context, cfg Config) (Sink, error) {
	return NewGCSSink(ctx, cfg.Bucket, cfg.Prefix)
}
