package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/tenantry/pkg/observability"
)

// ObjectStoreConfig holds the settings of the audit archive bucket
type ObjectStoreConfig struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	// CreateBucket creates the bucket when it does not exist (local MinIO)
	CreateBucket bool
}

// BucketAPI is the subset of the S3 client used to prepare a bucket
type BucketAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// NewS3Client builds an S3 client for the archive bucket. Static keys are
// used when both are set; otherwise the default AWS credential chain applies.
func NewS3Client(ctx context.Context, cfg ObjectStoreConfig) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	if cfg.CreateBucket {
		if err := EnsureBucket(ctx, client, cfg.Bucket); err != nil {
			return nil, err
		}
	}
	return client, nil
}

// EnsureBucket creates bucket unless it already exists
func EnsureBucket(ctx context.Context, client BucketAPI, bucket string) error {
	ctx, span := observability.Tracer().Start(ctx, "s3.EnsureBucket")
	defer span.End()
	span.SetAttributes(attribute.String("s3.bucket", bucket))

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err == nil {
		return nil
	}

	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil && !isBucketExistsError(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create bucket failed")
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

func isBucketExistsError(err error) bool {
	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists
	return errors.As(err, &owned) || errors.As(err, &exists)
}
