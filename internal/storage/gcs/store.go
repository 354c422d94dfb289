// Package gcs provides a cache store backed by a Google Cloud Storage object.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"cloud.google.com/go/storage"
)

// ContentType is set on the uploaded cache object.
const ContentType = "application/yaml"

// Config captures the bucket and object that hold the cache.
type Config struct {
	Bucket string
	Object string
}

// Store reads and replaces a single GCS object. GCS finalizes an object only when
// the writer is closed, so a failed upload leaves the previous generation intact.
type Store struct {
	client *storage.Client
	bucket string
	object string
}

// New creates a GCS-backed cache store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if strings.TrimSpace(cfg.Object) == "" {
		return nil, fmt.Errorf("object name is required")
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		object: cfg.Object,
	}, nil
}

// Location returns the gs:// URI of the cache object.
func (s *Store) Location() string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object)
}

// Get downloads the cache object. A missing object yields an error wrapping
// fs.ErrNotExist.
func (s *Store) Get(ctx context.Context) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("open %s: %w", s.Location(), fs.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.Location(), err)
	}
	defer func() {
		_ = reader.Close()
	}()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Location(), err)
	}
	return data, nil
}

// Put uploads data as the new generation of the cache object.
func (s *Store) Put(ctx context.Context, data []byte) error {
	writer := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	writer.ContentType = ContentType
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}
