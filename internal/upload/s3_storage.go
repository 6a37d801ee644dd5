package upload

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PutObjectAPI is the part of *s3.Client that S3Storage needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Storage uploads objects to a single bucket.
type S3Storage struct {
	client PutObjectAPI
	bucket string
}

var _ Storage = (*S3Storage)(nil)

// NewS3Storage wraps an existing client.
func NewS3Storage(client PutObjectAPI, bucket string) *S3Storage {
	return &S3Storage{client: client, bucket: bucket}
}

// NewS3StorageFromEnv builds a client from the default AWS credential chain.
func NewS3StorageFromEnv(ctx context.Context, bucket string) (*S3Storage, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket must be provided")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3Storage(s3.NewFromConfig(cfg), bucket), nil
}

// Store implements Storage.Store.
func (s *S3Storage) Store(ctx context.Context, key string, r io.Reader, size int64) (string, error) {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentTypeFor(key)),
	}
	if size > 0 {
		in.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
