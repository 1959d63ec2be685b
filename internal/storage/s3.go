package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

const defaultRegion = "auto"

// S3Config describes an S3-compatible bucket.
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Logger          *zap.Logger
}

// S3Store keeps media in an S3-compatible bucket.
type S3Store struct {
	bucket   string
	client   *s3.Client
	uploader *manager.Uploader
	logger   *zap.Logger
}

// NewS3Store builds a client with static credentials and path-style addressing so that
// MinIO and R2 endpoints work.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultRegion
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	options := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	sdkCfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(sdkCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		bucket:   bucket,
		client:   client,
		uploader: manager.NewUploader(client),
		logger:   logger,
	}, nil
}

// Put uploads the body under key.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, contentType string, size int64) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		s.logger.Error("s3 upload failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("storage: upload %s: %w", key, err)
	}
	return nil
}

// Get streams the object, or the requested range of it.
func (s *S3Store) Get(ctx context.Context, key string, byteRange string) (Object, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if byteRange = strings.TrimSpace(byteRange); byteRange != "" {
		input.Range = aws.String(byteRange)
	}

	output, err := s.client.GetObject(ctx, input)
	if err != nil {
		return Object{}, translateError(key, err)
	}

	object := Object{
		Body:          output.Body,
		ContentType:   aws.ToString(output.ContentType),
		ContentLength: aws.ToInt64(output.ContentLength),
		ContentRange:  aws.ToString(output.ContentRange),
	}
	if object.ContentType == "" {
		object.ContentType = "application/octet-stream"
	}
	return object, nil
}

// Delete removes the object. Missing objects are not an error.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		translated := translateError(key, err)
		if errors.Is(translated, ErrObjectNotFound) {
			return nil
		}
		s.logger.Warn("s3 delete failed", zap.String("key", key), zap.Error(err))
		return translated
	}
	return nil
}

func translateError(key string, err error) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		case "InvalidRange":
			return fmt.Errorf("%w: %s", ErrInvalidRange, key)
		}
	}
	return fmt.Errorf("storage: %s: %w", key, err)
}
