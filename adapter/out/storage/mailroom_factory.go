package storage

import (
	"context"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"mailroom_server/config"
	"mailroom_server/core/port/out"
	"mailroom_server/pkg/apperr"
)

// NewBlobStore builds the blob backend named by BLOB_BACKEND.
func NewBlobStore(ctx context.Context, cfg *config.Config) (out.BlobStore, error) {
	switch cfg.BlobBackend {
	case "fs":
		return NewFSStore(cfg.BlobFSRoot), nil
	case "s3":
		if cfg.BlobS3Bucket == "" {
			return nil, apperr.ConfigError("BLOB_S3_BUCKET is required for the s3 backend")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.BlobS3Region))
		if err != nil {
			return nil, apperr.ConfigError("load AWS config").WithError(err)
		}
		return NewS3Store(s3.NewFromConfig(awsCfg), cfg.BlobS3Bucket), nil
	default:
		return nil, apperr.ConfigError("unknown blob backend: " + cfg.BlobBackend)
	}
}
