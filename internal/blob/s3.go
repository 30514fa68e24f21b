package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// s3Store delivers batch results through an S3 bucket.
type s3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
}

func newS3Store(ctx context.Context, bucket, prefix string) (*s3Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 backend requires BLOB_BUCKET")
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	cli := s3.NewFromConfig(cfg)
	log.Info().Str("bucket", bucket).Str("prefix", prefix).Msg("s3 blob store ready")
	return &s3Store{
		client:  cli,
		presign: s3.NewPresignClient(cli),
		bucket:  bucket,
		prefix:  prefix,
	}, nil
}

func (s *s3Store) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(withPrefix(s.prefix, key)),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

func (s *s3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(withPrefix(s.prefix, key)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	return out.Body, nil
}

func (s *s3Store) SignedURL(ctx context.Context, key, method string, expiry time.Duration) (string, error) {
	fullKey := withPrefix(s.prefix, key)
	opts := func(o *s3.PresignOptions) { o.Expires = expiry }

	switch method {
	case http.MethodPut:
		req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(fullKey),
		}, opts)
		if err != nil {
			return "", fmt.Errorf("failed to presign PUT: %w", err)
		}
		return req.URL, nil
	case http.MethodGet:
		req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(fullKey),
		}, opts)
		if err != nil {
			return "", fmt.Errorf("failed to presign GET: %w", err)
		}
		return req.URL, nil
	default:
		return "", fmt.Errorf("unsupported presign method %q", method)
	}
}
