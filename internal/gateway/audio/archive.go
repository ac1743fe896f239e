package audio

import (
	"context"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/autopeer-io/devgate/internal/gateway/storage"
)

const broadcastArchiveDir = "broadcast"

// Archiver uploads encoded alerts to object storage.
type Archiver struct {
	provider  storage.Provider
	prefix    string
	urlExpiry time.Duration
}

// NewArchiver returns an Archiver. A positive urlExpiry makes URL hand out
// presigned download links valid for that long.
func NewArchiver(provider storage.Provider, prefix string, urlExpiry time.Duration) *Archiver {
	return &Archiver{provider: provider, prefix: prefix, urlExpiry: urlExpiry}
}

// Key returns the object key for an alert sent to deviceID at t.
// An empty deviceID files the alert under the broadcast directory.
func (a *Archiver) Key(deviceID string, t time.Time) string {
	if deviceID == "" {
		deviceID = broadcastArchiveDir
	}
	name := t.UTC().Format("20060102T150405.000Z") + "-" + uuid.NewString() + ".opus"
	return path.Join(a.prefix, deviceID, name)
}

// Store uploads opus and returns its key.
func (a *Archiver) Store(ctx context.Context, deviceID string, opus []byte, t time.Time) (string, error) {
	key := a.Key(deviceID, t)
	if err := a.provider.Put(ctx, key, opus, "audio/ogg"); err != nil {
		return "", err
	}
	return key, nil
}

// URL returns a temporary download link for an archived alert, or "" when
// links are disabled.
func (a *Archiver) URL(ctx context.Context, key string) (string, error) {
	if a.urlExpiry <= 0 {
		return "", nil
	}
	return a.provider.PresignedURL(ctx, key, a.urlExpiry)
}
