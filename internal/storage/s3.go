package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds settings for the S3 blob client. Containers map to
// buckets, optionally namespaced by BucketPrefix.
type S3Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketPrefix    string
	ForcePathStyle  bool
}

// S3BlobClient is a BlobClient backed by S3 (or any S3-compatible
// store).
type S3BlobClient struct {
	client       *s3.Client
	bucketPrefix string
}

// NewS3BlobClient builds an S3 client from static credentials.
func NewS3BlobClient(ctx context.Context, cfg S3Config) (*S3BlobClient, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("%w: region is required", ErrInvalidConfig)
	}
	if cfg.AccessKeyID == "" {
		return nil, fmt.Errorf("%w: access_key_id is required", ErrInvalidConfig)
	}
	if cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("%w: secret_access_key is required", ErrInvalidConfig)
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = cfg.ForcePathStyle
		},
	}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &S3BlobClient{
		client:       s3.NewFromConfig(awsCfg, clientOpts...),
		bucketPrefix: cfg.BucketPrefix,
	}, nil
}

func (c *S3BlobClient) bucketName(container string) string {
	if c.bucketPrefix == "" {
		return container
	}
	return c.bucketPrefix + container
}

// Exists reports whether the blob exists.
func (c *S3BlobClient) Exists(ctx context.Context, container, name string) (bool, error) {
	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucketName(container)),
		Key:    aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("heading object: %w", err)
	}
	return true, nil
}

// List returns the blobs in container whose name starts with prefix.
func (c *S3BlobClient) List(ctx context.Context, container, prefix string) ([]BlobInfo, error) {
	var blobs []BlobInfo

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucketName(container)),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	paginator := s3.NewListObjectsV2Paginator(c.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing objects: %w", err)
		}
		for _, obj := range page.Contents {
			info := BlobInfo{
				Container: container,
				Name:      aws.ToString(obj.Key),
				ETag:      aws.ToString(obj.ETag),
			}
			if obj.LastModified != nil {
				info.UpdatedAt = obj.LastModified.UTC()
			}
			blobs = append(blobs, info)
		}
	}

	return blobs, nil
}

// Metadata returns the blob's user metadata.
func (c *S3BlobClient) Metadata(ctx context.Context, container, name string) (map[string]string, error) {
	out, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucketName(container)),
		Key:    aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrBlobNotFound, container, name)
		}
		return nil, fmt.Errorf("heading object: %w", err)
	}
	return out.Metadata, nil
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}
