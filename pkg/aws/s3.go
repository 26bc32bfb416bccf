package aws

import (
	"bytes"
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Archiver stores raw webhook bodies for audit.
type S3Archiver struct {
	client *s3.Client
	bucket string
}

func NewS3Archiver(cfg sdkaws.Config, bucket string) *S3Archiver {
	return &S3Archiver{
		client: s3.NewFromConfig(cfg, func(o *s3.Options) {
			// LocalStack serves buckets on the path, not the host.
			o.UsePathStyle = cfg.BaseEndpoint != nil
		}),
		bucket: bucket,
	}
}

// Archive uploads body under key as JSON.
func (a *S3Archiver) Archive(ctx context.Context, key string, body []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      sdkaws.String(a.bucket),
		Key:         sdkaws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: sdkaws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s to bucket %s: %w", key, a.bucket, err)
	}
	return nil
}
