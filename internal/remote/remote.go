// Package remote stores shared cache objects in S3 or a plain directory.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"bstate/internal/config"
)

// ErrNotFound is returned by Head and Download for missing objects.
var ErrNotFound = errors.New("object not found")

type ObjectInfo struct {
	Size     int64
	Metadata map[string]string
}

type Backend interface {
	Upload(ctx context.Context, localPath, key string, metadata map[string]string) error
	Download(ctx context.Context, key, localPath string) error
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	VerifyCredentials(ctx context.Context) error
}

type S3 struct {
	client       *s3.Client
	uploader     *manager.Uploader
	bucket       string
	prefix       string
	storageClass types.StorageClass
}

var _ Backend = (*S3)(nil)

// NewS3FromConfig builds the backend described by the s3 section of cfg.
func NewS3FromConfig(ctx context.Context, cfg *config.Config) (*S3, error) {
	if !cfg.S3.Enabled {
		return nil, fmt.Errorf("s3 is not enabled in config")
	}
	return NewS3(ctx, cfg.S3.Bucket, cfg.S3.Region, cfg.S3.Prefix, cfg.S3.Endpoint,
		cfg.S3.StorageClass.Cache, cfg.S3RetryAttempts())
}

func NewS3(ctx context.Context, bucket, region, prefix, endpoint string, storageClass types.StorageClass, maxRetryAttempts int) (*S3, error) {
	if storageClass == "" {
		return nil, fmt.Errorf("storage class must be specified")
	}
	if err := ValidateStorageClass(string(storageClass)); err != nil {
		return nil, err
	}

	configOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if maxRetryAttempts > 0 {
		configOpts = append(configOpts,
			awsconfig.WithRetryMaxAttempts(maxRetryAttempts),
			awsconfig.WithRetryMode(aws.RetryModeStandard),
		)
		slog.Debug("Configured S3 retry strategy", "mode", "standard", "maxAttempts", maxRetryAttempts)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var client *s3.Client
	if endpoint != "" {
		accessKey, secretKey := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
		if accessKey != "" && secretKey != "" {
			cfg.Credentials = credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
		}
		client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
		slog.Debug("S3 client initialized with custom endpoint", "endpoint", endpoint)
	} else {
		client = s3.NewFromConfig(cfg)
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 64 * 1024 * 1024
		u.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenSupported
	})

	return &S3{
		client:       client,
		uploader:     uploader,
		bucket:       bucket,
		prefix:       prefix,
		storageClass: storageClass,
	}, nil
}

func (s *S3) key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *S3) Upload(ctx context.Context, localPath, key string, metadata map[string]string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(s.key(key)),
		Body:         file,
		StorageClass: s.storageClass,
		Metadata:     metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	slog.Info("Uploaded to S3", "bucket", s.bucket, "key", s.key(key), "storageClass", s.storageClass)
	return nil
}

func (s *S3) Download(ctx context.Context, key, localPath string) error {
	tmp := localPath + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}

	downloader := manager.NewDownloader(s.client)
	n, err := downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	closeErr := file.Close()
	if err != nil {
		os.Remove(tmp)
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return fmt.Errorf("%s: %w", s.key(key), ErrNotFound)
		}
		return fmt.Errorf("failed to download from S3: %w", err)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return closeErr
	}
	if err := os.Rename(tmp, localPath); err != nil {
		return err
	}

	slog.Info("Downloaded from S3", "bucket", s.bucket, "key", s.key(key), "bytes", n)
	return nil
}

func (s *S3) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	output, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%s: %w", s.key(key), ErrNotFound)
		}
		return nil, fmt.Errorf("failed to head object %s: %w", s.key(key), err)
	}

	info := &ObjectInfo{Metadata: output.Metadata}
	if output.ContentLength != nil {
		info.Size = *output.ContentLength
	}
	return info, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", s.key(key), err)
	}
	return nil
}

func (s *S3) VerifyCredentials(ctx context.Context) error {
	slog.Debug("Verifying AWS credentials and bucket access", "bucket", s.bucket)

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to verify AWS credentials or bucket access: %w", err)
	}

	slog.Info("AWS credentials verified successfully", "bucket", s.bucket)
	return nil
}

// ValidateStorageClass rejects archive classes: a cache object must be
// downloadable without a restore request.
func ValidateStorageClass(storageClass string) error {
	if storageClass == "GLACIER" || storageClass == "DEEP_ARCHIVE" {
		return fmt.Errorf("storage class %s is not immediately accessible (requires restore)", storageClass)
	}
	return nil
}
