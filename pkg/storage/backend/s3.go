// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

func init() {
	Register(types.StorageTypeS3, func(cfg Config) (BlockStorage, error) {
		return NewS3(cfg)
	})
}

// S3 keeps each block as one object of a bucket. Cloud pools use it.
type S3 struct {
	client *s3.Client
	bucket *string
	prefix string
}

// s3LoadOptions turns the static parts of cfg into SDK load options
func s3LoadOptions(cfg Config) []func(*config.LoadOptions) error {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		opts = append(opts, config.WithCredentialsProvider(creds))
	}
	return opts
}

func NewS3(cfg Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 storage: bucket is required")
	}
	awsCfg, err := config.LoadDefaultConfig(context.Background(), s3LoadOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("s3 storage: aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// S3-compatible stores (MinIO, Ceph) need path-style addressing.
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3{client: client, bucket: aws.String(cfg.Bucket), prefix: cfg.Prefix}, nil
}

func (*S3) Type() types.StorageType { return types.StorageTypeS3 }

func (s *S3) objectKey(key string) *string {
	if s.prefix != "" {
		key = path.Join(s.prefix, key)
	}
	return aws.String(key)
}

func (s *S3) Write(ctx context.Context, key string, data io.Reader, size int64) error {
	in := &s3.PutObjectInput{Bucket: s.bucket, Key: s.objectKey(key), Body: data}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

func (s *S3) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: s.bucket, Key: s.objectKey(key)})
	var missing *s3types.NoSuchKey
	switch {
	case errors.As(err, &missing):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	case err != nil:
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	return out.Body, nil
}

// Delete succeeds for missing keys; S3 reports no error for them
func (s *S3) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: s.bucket, Key: s.objectKey(key)}); err != nil {
		return fmt.Errorf("s3 delete %s: %w", key, err)
	}
	return nil
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: s.bucket, Key: s.objectKey(key)})
	var missing *s3types.NotFound
	switch {
	case errors.As(err, &missing):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("s3 head %s: %w", key, err)
	}
	return true, nil
}

// Capacity is unbounded for object storage
func (*S3) Capacity(context.Context) (int64, int64, error) { return 0, 0, nil }

func (*S3) Close() error { return nil }
