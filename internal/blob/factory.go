package blob

import (
	"context"
	"fmt"
	"os"

	"rackrunner/internal/config"
)

// Open selects a Store from the label store configuration.
//
//	LABEL_STORE_DRIVER: memory|fs|s3 (default memory)
//	LABEL_DIR:          root directory when driver=fs
//	LABEL_S3_*:         bucket, region, endpoint, path style when driver=s3
//	AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY: optional static credentials
func Open(ctx context.Context, cfg config.LabelStore) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverFilesystem:
		return NewFilesystem(cfg.Dir)
	case DriverS3:
		return NewS3(ctx, S3Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			PathStyle:       cfg.PathStyle,
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		})
	default:
		return nil, fmt.Errorf("unknown label store driver %q", cfg.Driver)
	}
}
