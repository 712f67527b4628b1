package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ErrObjectNotFound is returned by Download when the key does not exist
var ErrObjectNotFound = errors.New("object not found")

// S3Api is the subset of the S3 client used by Client
type S3Api interface {
	manager.DownloadAPIClient
	manager.UploadAPIClient

	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Config holds S3 connection settings. EndpointURL points at MinIO or any
// S3-compatible store; leave it empty for AWS.
type Config struct {
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
}

// Client stores blobs in a single bucket
type Client struct {
	api        S3Api
	downloader *manager.Downloader
	uploader   *manager.Uploader
	bucket     string
	logger     *slog.Logger
}

// NewClient builds an S3 client from static credentials or the default AWS chain
func NewClient(ctx context.Context, cfg *Config, logger *slog.Logger) (*Client, error) {
	opts := []func(*aws_config.LoadOptions) error{
		aws_config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, aws_config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := aws_config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}
		// MinIO only supports path-style addressing
		o.UsePathStyle = true
	})

	return NewFromClient(api, cfg.Bucket, logger), nil
}

// NewFromClient wraps an existing S3 API client
func NewFromClient(api S3Api, bucket string, logger *slog.Logger) *Client {
	return &Client{
		api:        api,
		downloader: manager.NewDownloader(api),
		uploader:   manager.NewUploader(api),
		bucket:     bucket,
		logger:     logger,
	}
}

// Bucket returns the bucket blobs are stored in
func (c *Client) Bucket() string {
	return c.bucket
}

// Upload writes data to key, replacing any existing object
func (c *Client) Upload(ctx context.Context, data []byte, key string) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", c.bucket, key, err)
	}

	c.logger.Debug("Uploaded object",
		slog.String("bucket", c.bucket),
		slog.String("key", key),
		slog.Int("size", len(data)),
	)
	return nil
}

// Download reads the object at key. Missing keys return ErrObjectNotFound.
func (c *Client) Download(ctx context.Context, key string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := c.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3://%s/%s: %w", c.bucket, key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to download s3://%s/%s: %w", c.bucket, key, err)
	}
	return buf.Bytes(), nil
}

// EnsureBucket creates the bucket if it does not exist yet
func (c *Client) EnsureBucket(ctx context.Context) error {
	_, err := c.api.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		var existsErr *types.BucketAlreadyExists
		var ownedErr *types.BucketAlreadyOwnedByYou
		if errors.As(err, &existsErr) || errors.As(err, &ownedErr) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", c.bucket, err)
	}

	c.logger.Info("Created bucket", slog.String("bucket", c.bucket))
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
