package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gatherly/backend/internal/config"
	apperrors "github.com/gatherly/backend/internal/errors"
)

// S3Storage writes content-addressed objects through aws-sdk-go-v2.
type S3Storage struct {
	client *s3.Client
	bucket string
	retry  *apperrors.RetryConfig
}

// NewS3Storage targets S3_ENDPOINT, or the MinIO endpoint when that is unset.
func NewS3Storage(cfg *config.Config) *S3Storage {
	opts := s3.Options{
		Region:       cfg.S3Region,
		Credentials:  awscreds.NewStaticCredentialsProvider(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		UsePathStyle: cfg.S3UsePathStyle,
	}

	endpoint := cfg.S3Endpoint
	if endpoint == "" && cfg.MinioEndpoint != "" {
		scheme := "http://"
		if cfg.MinioUseSSL {
			scheme = "https://"
		}
		endpoint = scheme + strings.TrimPrefix(strings.TrimPrefix(cfg.MinioEndpoint, "http://"), "https://")
	}
	if endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
	}

	return &S3Storage{
		client: s3.New(opts),
		bucket: cfg.MinioBucket,
		retry:  apperrors.StorageRetryConfig(),
	}
}

// ContentKey is the object key for a blob: identical uploads share one key.
func ContentKey(data []byte) string {
	sum := sha256.Sum256(data)
	return "images/" + hex.EncodeToString(sum[:])
}

// Put uploads data under its content key unless it is already stored.
func (s *S3Storage) Put(ctx context.Context, data []byte, contentType string) (string, bool, error) {
	key := ContentKey(data)

	exists, err := s.Exists(ctx, key)
	if err != nil {
		return "", false, err
	}
	if exists {
		return key, false, nil
	}

	err = apperrors.Retry(ctx, s.retry, func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String(contentType),
		})
		return err
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to upload %s: %w", key, err)
	}

	return key, true, nil
}

func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	return apperrors.RetryWithResult(ctx, s.retry, func(ctx context.Context) (bool, error) {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			return true, nil
		}
		if isNotFoundError(err) {
			return false, nil
		}
		return false, err
	})
}

func isNotFoundError(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	return strings.Contains(err.Error(), "StatusCode: 404")
}

func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
