package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Destination writes JSONL day objects to an S3-compatible bucket.
type S3Destination struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

// NewS3Destination creates an S3 destination. If endpoint is non-empty,
// path-style addressing is enabled (for MinIO and similar).
func NewS3Destination(ctx context.Context, bucket, keyPrefix, region, endpoint string) (*S3Destination, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Destination{
		client:    s3.NewFromConfig(cfg, s3opts...),
		bucket:    bucket,
		keyPrefix: keyPrefix,
	}, nil
}

// Write uploads one day's export as <keyPrefix>/<day>.jsonl.
func (d *S3Destination) Write(ctx context.Context, day string, data []byte) error {
	contentType := "application/x-ndjson"
	key := fmt.Sprintf("%s/%s.jsonl", d.keyPrefix, day)
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("s3 put object %s: %w", key, err)
	}
	return nil
}
