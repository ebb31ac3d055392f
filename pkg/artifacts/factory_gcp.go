//go:build gcp

package artifacts

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("RANSOMEYE_EVIDENCE_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("RANSOMEYE_EVIDENCE_GCS_BUCKET is required for GCS storage")
	}

	cfg := GCSStoreConfig{
		Bucket: bucket,
		Prefix: os.Getenv("RANSOMEYE_EVIDENCE_GCS_PREFIX"),
	}

	return NewGCSStore(ctx, cfg)
}
