package storage

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/autopeer-io/devgate/pkg/log"
	"github.com/autopeer-io/devgate/pkg/options"
)

type minioProvider struct {
	client     *minio.Client
	bucketName string
	region     string
}

var _ Provider = (*minioProvider)(nil)

// NewMinIOProvider creates an S3-compatible Provider.
func NewMinIOProvider(opts *options.S3Options) (Provider, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.UseSSL {
		// Edge deployments commonly run MinIO with self-signed certificates.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure:    opts.UseSSL,
		Region:    opts.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &minioProvider{
		client:     client,
		bucketName: opts.BucketName,
		region:     opts.Region,
	}, nil
}

func (p *minioProvider) CheckBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		log.Info("Bucket does not exist, creating", "bucket", p.bucketName)
		if err := p.client.MakeBucket(ctx, p.bucketName, minio.MakeBucketOptions{Region: p.region}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (p *minioProvider) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := p.client.PutObject(ctx, p.bucketName, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

func (p *minioProvider) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := p.client.PresignedGetObject(ctx, p.bucketName, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned url: %w", err)
	}
	return u.String(), nil
}
