//go:build gcp

package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore is a Google Cloud Storage-backed Store, an alternative
// off-host evidence backend to S3Store for deployments that run on GCP.
// Object keys are the blob's SHA-256 hash, so writes are idempotent.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string // object prefix under the bucket, e.g. "evidence/"
}

// GCSStoreConfig holds configuration for GCSStore.
type GCSStoreConfig struct {
	Bucket string
	Prefix string
}

// NewGCSStore creates a new GCS-backed evidence store, authenticating via
// application default credentials.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifacts: create gcs client: %w", err)
	}

	return &GCSStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Store persists data to GCS under its content hash; an object already
// present for that hash is left alone.
func (s *GCSStore) Store(ctx context.Context, data []byte) (string, error) {
	h := sha256.New()
	if _, err := h.Write(data); err != nil {
		return "", fmt.Errorf("artifacts: hash evidence blob: %w", err)
	}
	hashStr := hex.EncodeToString(h.Sum(nil))
	prefixedHash := "sha256:" + hashStr
	objectPath := s.prefix + hashStr + ".blob"

	obj := s.client.Bucket(s.bucket).Object(objectPath)
	if _, err := obj.Attrs(ctx); err == nil {
		return prefixedHash, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("artifacts: gcs write %s: %w", objectPath, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("artifacts: gcs close %s: %w", objectPath, err)
	}

	return prefixedHash, nil
}

// Get retrieves an evidence blob from GCS by its content hash.
func (s *GCSStore) Get(ctx context.Context, hash string) ([]byte, error) {
	if len(hash) < 7 || hash[:7] != "sha256:" {
		return nil, fmt.Errorf("artifacts: invalid hash format: %s", hash)
	}
	rawHash := hash[7:]
	objectPath := s.prefix + rawHash + ".blob"

	obj := s.client.Bucket(s.bucket).Object(objectPath)
	reader, err := obj.NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifacts: gcs get %s: %w", hash, err)
	}
	defer func() { _ = reader.Close() }()

	return io.ReadAll(reader)
}

// Exists checks whether an evidence blob with the given hash is present.
func (s *GCSStore) Exists(ctx context.Context, hash string) (bool, error) {
	if len(hash) < 7 || hash[:7] != "sha256:" {
		return false, fmt.Errorf("artifacts: invalid hash format: %s", hash)
	}
	rawHash := hash[7:]
	objectPath := s.prefix + rawHash + ".blob"

	obj := s.client.Bucket(s.bucket).Object(objectPath)
	_, err := obj.Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("artifacts: gcs attrs %s: %w", objectPath, err)
	}

	return true, nil
}

// Delete removes an evidence blob. Neither the retention enforcer nor
// the evidence exporter calls it; nothing checks whether the blob is
// still referenced.
func (s *GCSStore) Delete(ctx context.Context, hash string) error {
	if len(hash) < 7 || hash[:7] != "sha256:" {
		return fmt.Errorf("artifacts: invalid hash format: %s", hash)
	}
	rawHash := hash[7:]
	objectPath := s.prefix + rawHash + ".blob"

	obj := s.client.Bucket(s.bucket).Object(objectPath)
	err := obj.Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("artifacts: gcs delete %s: %w", hash, err)
	}

	return nil
}

// Close releases the underlying GCS client's connections.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
