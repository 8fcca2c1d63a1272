package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	defaultRegion  = "us-east-1"
	contentTypeWAV = "audio/wav"
)

// ErrBucketRequired is returned when an S3 store is configured without a
// bucket.
var ErrBucketRequired = errors.New("s3 bucket is required")

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store implements core.ObjectStore on an S3 bucket. Keys are placed under
// an optional prefix.
type S3Store struct {
	client s3API
	bucket string
	prefix string
}

// NewS3 builds a store from the default AWS credential chain.
func NewS3(ctx context.Context, bucket, prefix, region string) (*S3Store, error) {
	if bucket == "" {
		return nil, ErrBucketRequired
	}

	if region == "" {
		region = defaultRegion
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewS3WithClient(bucket, prefix, s3.NewFromConfig(cfg)), nil
}

// NewS3WithClient builds a store on an existing client.
func NewS3WithClient(bucket, prefix string, client s3API) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Key returns the full object key for name.
func (s *S3Store) Key(name string) string {
	if s.prefix == "" {
		return strings.TrimPrefix(name, "/")
	}

	return path.Join(s.prefix, name)
}

// Upload stores data under key.
func (s *S3Store) Upload(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.Key(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentTypeWAV),
	})
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}

// Download retrieves key.
func (s *S3Store) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.Key(key)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, s.bucket, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, err)
	}

	return data, nil
}
