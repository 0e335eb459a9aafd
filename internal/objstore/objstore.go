// Package objstore wires the AWS S3 client used by the S3 lease and checkpoint stores.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// API is the subset of the S3 client the stores use. Tests substitute a fake.
//
// It also satisfies s3.ListObjectsV2APIClient so listings can use the SDK paginator.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Compile-time assertion that the SDK client satisfies API.
var _ API = (*s3.Client)(nil)

// Config describes how to reach the bucket.
type Config struct {
	// Bucket is the bucket holding the objects.
	Bucket string `yaml:"bucket"`
	// Prefix is prepended to every object key.
	Prefix string `yaml:"prefix"`
	// Region is the AWS region of the bucket.
	Region string `yaml:"region"`
	// Endpoint overrides the S3 endpoint (MinIO, LocalStack).
	Endpoint string `yaml:"endpoint"`
	// ForcePathStyle uses path-style addressing, required by most S3 emulators.
	ForcePathStyle bool `yaml:"forcePathStyle"`
	// AccessKeyID and SecretAccessKey select static credentials; empty uses the default chain.
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	SessionToken    string `yaml:"sessionToken"`
}

// Validate checks the required fields.
func (c Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("s3 bucket required")
	}
	if c.Region == "" {
		return errors.New("s3 region required")
	}

	return nil
}

// LoadAWSConfig resolves the AWS configuration for region and optional static credentials.
func LoadAWSConfig(ctx context.Context, region, accessKeyID, secretAccessKey, sessionToken string) (aws.Config, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if accessKeyID != "" && secretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}

	return awsCfg, nil
}

// NewClient builds an S3 client from cfg.
//
// Example:
//
//	client, err := objstore.NewClient(ctx, objstore.Config{Bucket: "leases", Region: "us-east-1"})
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := LoadAWSConfig(ctx, cfg.Region, cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return true
	}

	return hasCode(err, "NoSuchKey", "NotFound") || hasStatus(err, http.StatusNotFound)
}

// IsPreconditionFailed reports whether a conditional write was rejected because
// the object changed or already exists.
func IsPreconditionFailed(err error) bool {
	if err == nil {
		return false
	}

	return hasCode(err, "PreconditionFailed", "ConditionalRequestConflict") ||
		hasStatus(err, http.StatusPreconditionFailed, http.StatusConflict)
}

func hasCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}

	return false
}

func hasStatus(err error, statuses ...int) bool {
	var respErr *smithyhttp.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	for _, status := range statuses {
		if respErr.HTTPStatusCode() == status {
			return true
		}
	}

	return false
}
