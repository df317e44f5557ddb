package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
)

// S3Fetcher fetches artifacts from an S3 bucket.
type S3Fetcher struct {
	s3     *s3.Client
	bucket string
	log    zerolog.Logger
}

// NewS3Fetcher creates a fetcher for the given bucket. An endpoint override
// supports S3-compatible object stores.
func NewS3Fetcher(ctx context.Context, bucket, region, endpoint string, log zerolog.Logger) (*S3Fetcher, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Fetcher{
		s3:     client,
		bucket: bucket,
		log:    log.With().Str("component", "fetcher").Str("bucket", bucket).Logger(),
	}, nil
}

// Fetch downloads an object into localPath, creating parent directories as
// needed. A missing remote object returns ErrNotFound and leaves localPath
// untouched.
func (f *S3Fetcher) Fetch(ctx context.Context, key, localPath string) error {
	out, err := f.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			f.log.Debug().Str("key", key).Msg("object not present in bucket")
			return fmt.Errorf("%w: s3://%s/%s", ErrNotFound, f.bucket, key)
		}
		return fmt.Errorf("failed to fetch s3://%s/%s: %w", f.bucket, key, err)
	}
	defer out.Body.Close()

	if dir := filepath.Dir(localPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	file, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer file.Close()

	n, err := io.Copy(file, out.Body)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", localPath, err)
	}

	f.log.Debug().Str("key", key).Str("path", localPath).Int64("bytes", n).Msg("fetched artifact")
	return nil
}

// isNoSuchKey checks for the typed S3 error first, then falls back to API
// error codes for S3-compatible services that do not return the exact SDK
// error types.
func isNoSuchKey(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}
