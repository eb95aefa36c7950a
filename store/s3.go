package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/use-agent/serpcrawl/config"
)

// S3Blobs archives HTML in an S3 bucket. A custom endpoint (MinIO and
// friends) switches to path-style addressing.
type S3Blobs struct {
	svc    *s3.S3
	bucket string
}

// NewS3Blobs creates the client. No request is made until Put.
func NewS3Blobs(cfg config.BlobConfig) (*S3Blobs, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg := &aws.Config{Region: aws.String(region)}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
		awsCfg.DisableSSL = aws.Bool(strings.HasPrefix(cfg.Endpoint, "http://"))
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("s3: create session: %w", err)
	}
	return &S3Blobs{svc: s3.New(sess), bucket: cfg.Bucket}, nil
}

func (b *S3Blobs) Put(ctx context.Context, key, html string) error {
	_, err := b.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(html),
		ContentType: aws.String("text/html; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("s3: put %s: %w", key, err)
	}
	return nil
}
