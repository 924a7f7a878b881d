// Package auditlog persists sync-run audit documents to a local directory
// or an object store bucket.
package auditlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sink stores one named audit document.
type Sink interface {
	Write(ctx context.Context, name string, data []byte) error
}

// SinkType selects the audit backend.
type SinkType string

const (
	SinkTypeFile SinkType = "file"
	SinkTypeS3   SinkType = "s3"
	SinkTypeGCS  SinkType = "gcs"
)

// Config selects and configures a Sink.
type Config struct {
	Type     SinkType
	Dir      string // file sink directory
	Bucket   string // s3 and gcs
	Prefix   string // optional object key prefix
	Region   string
	Endpoint string // optional custom S3 endpoint (MinIO, LocalStack)
}

// NewSink builds the sink named by cfg.Type. An empty type means file.
func NewSink(ctx context.Context, cfg Config) (Sink, error) {
	switch cfg.Type {
	case "", SinkTypeFile:
		dir := cfg.Dir
		if dir == "" {
			dir = "logs"
		}
		return NewFileSink(dir)
	case SinkTypeS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("AUDIT_BUCKET is required for S3 audit sink")
		}
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Sink(ctx, S3SinkConfig{
			Bucket:   cfg.Bucket,
			Region:   region,
			Endpoint: cfg.Endpoint,
			Prefix:   cfg.Prefix,
		})
	case SinkTypeGCS:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("AUDIT_BUCKET is required for GCS audit sink")
		}
		return newGCSSink(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported audit sink type: %s", cfg.Type)
	}
}

// FileSink writes each document as a file under a directory.
type FileSink struct {
	dir string
}

// NewFileSink creates dir if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Dir returns the sink's directory.
func (s *FileSink) Dir() string { return s.dir }

func (s *FileSink) Write(ctx context.Context, name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write audit log %s: %w", path, err)
	}
	return nil
}

// checkName keeps names flat so a sink never writes outside its root.
func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid audit log name: %q", name)
	}
	return nil
}
