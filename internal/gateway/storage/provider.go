package storage

import (
	"context"
	"time"
)

// Provider is an object store for archived alert audio.
type Provider interface {
	// CheckBucket makes sure the bucket exists, creating it if needed.
	CheckBucket(ctx context.Context) error

	// Put uploads data under key.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// PresignedURL returns a temporary download link for key.
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}
