// Package blob archives opaque byte objects (rendered rack labels) under string keys.
// Put overwrites. Get on a missing key returns an error matching fs.ErrNotExist.
package blob

import (
	"context"
	"fmt"
	"strings"
)

type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Driver names accepted by Open.
const (
	DriverMemory     = "memory"
	DriverFilesystem = "fs"
	DriverS3         = "s3"
)

// checkKey rejects keys that could escape a filesystem root or an S3 prefix.
func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("empty key")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("invalid key %q contains '..'", key)
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("invalid absolute key %q", key)
	}
	return nil
}
