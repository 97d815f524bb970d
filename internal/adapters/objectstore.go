package adapters

import (
	"bytes"
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/clubside/regbot/internal/providers"
)

// ObjectStore is the S3-compatible object-store adapter the photo
// pipeline (C8) uploads processed images to.
type ObjectStore struct {
	client  *s3.Client
	bucket  string
	region  string
}

// NewObjectStore builds an ObjectStore against bucket/region, optionally
// pointed at an S3-compatible endpoint (e.g. a MinIO dev instance) and
// static credentials; an empty endpoint/credentials pair falls back to
// the default AWS credential chain.
func NewObjectStore(ctx context.Context, bucket, region, endpoint, accessKeyID, secretAccessKey string) (*ObjectStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(region))
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		}
	})

	return &ObjectStore{client: client, bucket: bucket, region: region}, nil
}

func (o *ObjectStore) Name() string          { return "object_store" }
func (o *ObjectStore) Timeout() time.Duration { return 60 * time.Second }
func (o *ObjectStore) Classify(err error) bool { return providers.IsRetryable(err) }

func (o *ObjectStore) Healthy(ctx context.Context) error {
	_, err := o.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &o.bucket})
	return err
}

// Upload implements the upload step of upload_photo_to_s3: puts data at
// key with contentType and structured metadata, and
// returns the object's public URL.
func (o *ObjectStore) Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (string, error) {
	_, err := o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &o.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
		Metadata:    metadata,
	})
	if err != nil {
		return "", fmt.Errorf("store_unavailable: %w", err)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", o.bucket, o.region, key), nil
}
