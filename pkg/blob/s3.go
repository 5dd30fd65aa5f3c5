package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ericyarmo/buds-relay/internal/logger"
)

// S3Config holds configuration for the S3 blob store.
type S3Config struct {
	// Bucket is the S3 bucket name.
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string `mapstructure:"region" yaml:"region,omitempty"`

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible
	// services such as MinIO or Localstack).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// AccessKeyID and SecretAccessKey configure static credentials.
	// When empty the SDK default credential chain is used.
	AccessKeyID     string `mapstructure:"access_key_id"     yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`

	// KeyPrefix is prepended to all blob keys. Should end with "/" if
	// non-empty.
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`

	// MaxRetries is the maximum number of retry attempts for transient
	// errors. Defaults to 3.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	// ForcePathStyle forces path-style addressing (required for
	// Localstack/MinIO).
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
}

// S3Store is an S3-backed implementation of Store.
type S3Store struct {
	client     *s3.Client
	bucket     string
	keyPrefix  string
	maxRetries int
	closed     bool
	mu         sync.RWMutex
}

const defaultMaxRetries = 3

// NewS3 creates an S3 blob store with an existing client.
func NewS3(client *s3.Client, config S3Config) *S3Store {
	retries := config.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	return &S3Store{
		client:     client,
		bucket:     config.Bucket,
		keyPrefix:  config.KeyPrefix,
		maxRetries: retries,
	}
}

// NewS3FromConfig creates an S3 blob store by building an S3 client from
// config. This is the preferred constructor when you don't have an
// existing S3 client.
func NewS3FromConfig(ctx context.Context, config S3Config) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}
	if config.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			config.AccessKeyID, config.SecretAccessKey, "",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if config.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
		})
	}
	if config.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	return NewS3(client, config), nil
}

// fullKey returns the full S3 key for a blob key.
func (s *S3Store) fullKey(key string) string {
	return s.keyPrefix + key
}

// Put writes the payload to S3 with metadata attached as object
// metadata. Transient failures are retried with exponential backoff.
func (s *S3Store) Put(ctx context.Context, key string, data []byte, meta Metadata) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	objMeta := map[string]string{
		"message_id":  meta.MessageID,
		"sender_did":  meta.SenderDID,
		"uploaded_at": meta.UploadedAt,
	}
	if meta.ReceiptCID != "" {
		objMeta["receipt_cid"] = meta.ReceiptCID
	}

	return s.withRetry(ctx, "put", func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(s.fullKey(key)),
			Body:     bytes.NewReader(data),
			Metadata: objMeta,
		})
		if err != nil {
			return fmt.Errorf("s3 put object: %w", err)
		}
		return nil
	})
}

// Get reads the payload from S3.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.withRetry(ctx, "get", func() error {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.fullKey(key)),
		})
		if err != nil {
			if isNotFoundError(err) {
				return ErrNotFound
			}
			return fmt.Errorf("s3 get object: %w", err)
		}
		defer resp.Body.Close()

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read s3 object body: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Delete removes the payload from S3. S3 DeleteObject is idempotent, so
// a missing key succeeds.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.withRetry(ctx, "delete", func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.fullKey(key)),
		})
		if err != nil {
			return fmt.Errorf("s3 delete object: %w", err)
		}
		return nil
	})
}

// HealthCheck verifies the S3 bucket is accessible via HeadBucket.
func (s *S3Store) HealthCheck(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

// Close marks the store as closed.
func (s *S3Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *S3Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// withRetry runs the operation with exponential backoff (100ms base,
// doubling). ErrNotFound is terminal, everything else is retried.
func (s *S3Store) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := 100 * time.Millisecond

	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			logger.DebugCtx(ctx, "retrying s3 operation", "op", op, "attempt", attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		err = fn()
		if err == nil || err == ErrNotFound {
			return err
		}
	}
	return err
}

// isNotFoundError checks if an error is an S3 not found error.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "NoSuchKey") ||
		strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "404")
}

var _ Store = (*S3Store)(nil)
