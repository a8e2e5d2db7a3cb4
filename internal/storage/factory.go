package storage

import (
	"context"

	appconfig "github.com/blakecragen/cluster/internal/config"
)

func NewStorage(ctx context.Context, cfg appconfig.Config) (BlobStore, error) {
	switch cfg.BlobMode {
	case "s3", "minio":
		return NewS3Storage(ctx, cfg)
	case "local", "filesystem":
		return NewLocalStorage(cfg.LocalBlobDir)
	default:
		return NewLocalStorage(cfg.LocalBlobDir)
	}
}
