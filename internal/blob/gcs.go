package blob

import (
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog/log"
)

// gcsStore delivers batch results through a Google Cloud Storage bucket.
// Signed URLs use the client's ambient credentials (V4 signing).
type gcsStore struct {
	client *storage.Client
	bucket string
	prefix string
}

func newGCSStore(ctx context.Context, bucket, prefix string) (*gcsStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs backend requires BLOB_BUCKET")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	log.Info().Str("bucket", bucket).Str("prefix", prefix).Msg("gcs blob store ready")
	return &gcsStore{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *gcsStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	w := s.client.Bucket(s.bucket).Object(withPrefix(s.prefix, key)).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("failed to upload to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize GCS upload: %w", err)
	}
	return nil
}

func (s *gcsStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(withPrefix(s.prefix, key)).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to download from GCS: %w", err)
	}
	return r, nil
}

func (s *gcsStore) SignedURL(ctx context.Context, key, method string, expiry time.Duration) (string, error) {
	url, err := s.client.Bucket(s.bucket).SignedURL(withPrefix(s.prefix, key), &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  method,
		Expires: time.Now().Add(expiry),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign GCS URL: %w", err)
	}
	return url, nil
}
