package artifacts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store is a durable, off-host Store backend for evidence blobs
// (retention archive-before-purge batches, exported audit bundles) that
// must outlive the retention policy of the database they were pulled
// from. Keys are the blob's own SHA-256 hash, so writes are naturally
// idempotent and a second archive of the same batch never duplicates.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string // key prefix under the bucket, e.g. "evidence/"
}

// S3StoreConfig holds configuration for S3Store.
type S3StoreConfig struct {
	Bucket   string
	Region   string
	Endpoint string // custom endpoint for MinIO/LocalStack-compatible targets
	Prefix   string
}

// NewS3Store creates a new S3-backed evidence store.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("artifacts: load aws config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}

	client := s3.NewFromConfig(awsCfg, clientOpts)

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Store persists data to S3 under its content hash and returns the
// prefixed hash; an object already present for that hash is left alone.
func (s *S3Store) Store(ctx context.Context, data []byte) (string, error) {
	h := sha256.New()
	if _, err := h.Write(data); err != nil {
		return "", fmt.Errorf("artifacts: hash evidence blob: %w", err)
	}
	hashStr := hex.EncodeToString(h.Sum(nil))
	prefixedHash := "sha256:" + hashStr
	key := s.prefix + hashStr + ".blob"

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return prefixedHash, nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("artifacts: s3 put %s: %w", key, err)
	}

	return prefixedHash, nil
}

// Get retrieves an evidence blob from S3 by its content hash.
func (s *S3Store) Get(ctx context.Context, hash string) ([]byte, error) {
	if len(hash) < 7 || hash[:7] != "sha256:" {
		return nil, fmt.Errorf("artifacts: invalid hash format: %s", hash)
	}
	rawHash := hash[7:]
	key := s.prefix + rawHash + ".blob"

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("artifacts: s3 get %s: %w", hash, err)
	}
	defer func() { _ = result.Body.Close() }()

	return io.ReadAll(result.Body)
}

// Exists checks whether an evidence blob with the given hash is present.
func (s *S3Store) Exists(ctx context.Context, hash string) (bool, error) {
	if len(hash) < 7 || hash[:7] != "sha256:" {
		return false, fmt.Errorf("artifacts: invalid hash format: %s", hash)
	}
	rawHash := hash[7:]
	key := s.prefix + rawHash + ".blob"

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, nil
	}

	return true, nil
}

// Delete removes an evidence blob. Neither the retention enforcer nor
// the evidence exporter calls it; nothing checks whether the blob is
// still referenced.
func (s *S3Store) Delete(ctx context.Context, hash string) error {
	if len(hash) < 7 || hash[:7] != "sha256:" {
		return fmt.Errorf("artifacts: invalid hash format: %s", hash)
	}
	rawHash := hash[7:]
	key := s.prefix + rawHash + ".blob"

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("artifacts: s3 delete %s: %w", hash, err)
	}

	return nil
}
