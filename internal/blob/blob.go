package blob

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/local/tipificador/internal/config"
)

// Store is the narrow object-store surface used for batch delivery: upload
// results, fetch caller-staged archives, and hand out signed URLs.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// SignedURL issues a pre-signed URL for the given HTTP method (GET or PUT).
	SignedURL(ctx context.Context, key, method string, expiry time.Duration) (string, error)
}

// Open builds the configured backend, or returns (nil, nil) when no object
// store is configured — batch delivery then stays filesystem-only.
func Open(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "":
		return nil, nil
	case "s3":
		return newS3Store(ctx, cfg.Bucket, cfg.Prefix)
	case "gcs":
		return newGCSStore(ctx, cfg.Bucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}

func withPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + key
}
