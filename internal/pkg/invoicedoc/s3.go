package invoicedoc

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
)

// S3Archiver mirrors invoice artifacts into an S3-compatible bucket.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3ArchiverFromEnv builds the archiver, or returns nil when S3 mirroring
// is not configured. A nil archiver is valid: artifacts then live on local
// disk only.
func NewS3ArchiverFromEnv() *S3Archiver {
	bucket := env.GetEnv("S3_INVOICE_BUCKET", "")
	accessKey := env.GetEnv("S3_ACCESS_KEY_ID", "")
	secretKey := env.GetEnv("S3_SECRET_ACCESS_KEY", "")
	if bucket == "" || accessKey == "" || secretKey == "" {
		return nil
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(env.GetEnv("S3_REGION", "us-east-1")),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)),
	)
	if err != nil {
		log.Errorf("[InvoiceDoc] load AWS config: %v", err)
		return nil
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if endpoint := env.GetEnv("S3_ENDPOINT_URL", ""); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	log.Infof("[InvoiceDoc] S3 archiving enabled for bucket %s", bucket)
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: env.GetEnv("S3_INVOICE_PREFIX", "artifacts/"),
	}
}

// Upload writes one artifact under the configured prefix. Uploads are
// idempotent: the key is derived from the invoice id, so repeated renders
// overwrite the same object.
func (a *S3Archiver) Upload(key string, data []byte) error {
	_, err := a.client.PutObject(context.TODO(), &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.prefix + key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/html; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}
