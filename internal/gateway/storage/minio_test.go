package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/devgate/pkg/options"
)

func TestNewMinIOProvider(t *testing.T) {
	opts := options.NewS3Options()
	opts.Enabled = true

	p, err := NewMinIOProvider(opts)
	require.NoError(t, err)
	assert.Equal(t, "audio-alerts", p.(*minioProvider).bucketName)

	opts.Endpoint = "http://not-a-host-port/"
	_, err = NewMinIOProvider(opts)
	assert.Error(t, err, "minio rejects endpoints with a scheme or path")
}

func TestMemoryProvider(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryProvider()

	buf := []byte("opus")
	require.NoError(t, m.Put(ctx, "alerts/a.opus", buf, "audio/ogg"))
	buf[0] = 'X'

	o, ok := m.Get("alerts/a.opus")
	require.True(t, ok)
	assert.Equal(t, "opus", string(o.Data))
	assert.Equal(t, 1, m.Len())

	u, err := m.PresignedURL(ctx, "alerts/a.opus", 0)
	require.NoError(t, err)
	assert.Equal(t, "memory://alerts/a.opus", u)

	_, err = m.PresignedURL(ctx, "missing", 0)
	assert.Error(t, err)
}
