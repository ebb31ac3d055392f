package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// StoreType represents the type of artifact storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStoreFromEnv creates an artifact store based on environment variables.
//
// Environment variables:
//   - RANSOMEYE_EVIDENCE_STORE_TYPE: "fs" (default), "s3", or "gcs"
//   - DATA_DIR: Base directory for filesystem store (default: "data")
//
// For S3:
//   - AWS_REGION or RANSOMEYE_EVIDENCE_S3_REGION
//   - RANSOMEYE_EVIDENCE_S3_BUCKET (required)
//   - RANSOMEYE_EVIDENCE_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - RANSOMEYE_EVIDENCE_S3_PREFIX (optional)
//
// For GCS:
//   - RANSOMEYE_EVIDENCE_GCS_BUCKET (required)
//   - RANSOMEYE_EVIDENCE_GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	storeType := StoreType(os.Getenv("RANSOMEYE_EVIDENCE_STORE_TYPE"))
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		return newFileStoreFromEnv()
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported artifact storage type: %s", storeType)
	}
}

func newFileStoreFromEnv() (Store, error) {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	return NewFileStore(filepath.Join(dataDir, "artifacts"))
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("RANSOMEYE_EVIDENCE_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("RANSOMEYE_EVIDENCE_S3_BUCKET is required for S3 storage")
	}

	region := os.Getenv("RANSOMEYE_EVIDENCE_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	cfg := S3StoreConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("RANSOMEYE_EVIDENCE_S3_ENDPOINT"),
		Prefix:   os.Getenv("RANSOMEYE_EVIDENCE_S3_PREFIX"),
	}

	return NewS3Store(ctx, cfg)
}
