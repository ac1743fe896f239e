package audio

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/devgate/internal/gateway/core"
	"github.com/autopeer-io/devgate/internal/gateway/core/model"
	"github.com/autopeer-io/devgate/internal/gateway/storage"
	"github.com/autopeer-io/devgate/pkg/mqtt"
	"github.com/autopeer-io/devgate/pkg/mqtt/topic"
)

var topics = topic.NewTopicBuilder(topic.DefaultRoot)

type fakeTranscoder struct {
	out   []byte
	err   error
	calls atomic.Int32
}

func (f *fakeTranscoder) Transcode(context.Context, []byte, string) ([]byte, error) {
	f.calls.Add(1)
	return f.out, f.err
}

type harness struct {
	pipeline *Pipeline
	gateway  *mqtt.MemoryClient
	frames   chan *mqtt.Message
	store    *storage.MemoryProvider
	clock    *clocktesting.FakePassiveClock
}

func newHarness(t *testing.T, tc Transcoder, subscribe string) *harness {
	t.Helper()
	ctx := context.Background()
	b := mqtt.NewMemoryBroker()

	gw := b.NewClient(nil)
	require.NoError(t, gw.Start(ctx))
	t.Cleanup(func() { gw.Disconnect(ctx) })

	speaker := b.NewClient(nil)
	require.NoError(t, speaker.Start(ctx))
	t.Cleanup(func() { speaker.Disconnect(ctx) })

	h := &harness{
		gateway: gw,
		frames:  make(chan *mqtt.Message, 4),
		store:   storage.NewMemoryProvider(),
		clock:   clocktesting.NewFakePassiveClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	_, err := speaker.Subscribe(ctx, subscribe, 1, func(_ context.Context, m *mqtt.Message) { h.frames <- m })
	require.NoError(t, err)

	h.pipeline, err = NewPipeline(Config{
		Client:     gw,
		Topics:     topics,
		Transcoder: tc,
		Archiver:   NewArchiver(h.store, "alerts", time.Hour),
		QoS:        1,
		Clock:      h.clock,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) frame(t *testing.T) *mqtt.Message {
	t.Helper()
	select {
	case m := <-h.frames:
		return m
	case <-time.After(time.Second):
		t.Fatal("no frame published")
		return nil
	}
}

func (h *harness) noFrame(t *testing.T) {
	t.Helper()
	select {
	case m := <-h.frames:
		t.Fatalf("unexpected frame on %s", m.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendAudioAlert(t *testing.T) {
	opus := oggOpus(t, 4)
	tc := &fakeTranscoder{out: opus}
	h := newHarness(t, tc, topics.Audio("spk-01"))

	params := model.DefaultAlertParams()
	params.Priority = 9
	params.InterruptCurrent = true

	res, err := h.pipeline.SendAudioAlert(context.Background(), model.AudioAlertJob{
		DeviceID: "spk-01",
		Audio:    []byte("RIFF-wav-bytes"),
		MIMEType: "audio/wav",
		Params:   params,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, tc.calls.Load())
	assert.Equal(t, "rapidreach/audio/spk-01", res.Topic)
	assert.Equal(t, len(opus), res.OpusBytes)
	assert.Equal(t, res.HeaderBytes+res.OpusBytes, res.FrameBytes)
	assert.Equal(t, h.clock.Now(), res.PublishedAt)

	msg := h.frame(t)
	assert.Len(t, msg.Payload, res.FrameBytes)
	header, payload, err := DecodeFrame(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, params, header.Params())
	assert.Equal(t, opus, payload)

	require.True(t, strings.HasPrefix(res.ArchiveKey, "alerts/spk-01/20260301T120000.000Z-"), res.ArchiveKey)
	obj, ok := h.store.Get(res.ArchiveKey)
	require.True(t, ok)
	assert.Equal(t, opus, obj.Data)
	assert.Equal(t, "audio/ogg", obj.ContentType)
	assert.Equal(t, "memory://"+res.ArchiveKey, res.ArchiveURL)
}

func TestSendAudioAlertEncodeFailurePublishesNothing(t *testing.T) {
	tests := []struct {
		name string
		tc   *fakeTranscoder
	}{
		{"transcoder error", &fakeTranscoder{err: errors.New("moov atom not found")}},
		{"garbage output", &fakeTranscoder{out: []byte("not ogg")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.tc, topics.Audio("spk-01"))
			_, err := h.pipeline.SendAudioAlert(context.Background(), model.AudioAlertJob{
				DeviceID: "spk-01",
				Audio:    []byte{1, 2, 3},
				Params:   model.DefaultAlertParams(),
			})
			assert.ErrorIs(t, err, core.ErrEncode)
			h.noFrame(t)
			assert.Zero(t, h.store.Len())
		})
	}
}

func TestSendAudioAlertValidation(t *testing.T) {
	tc := &fakeTranscoder{out: oggOpus(t, 1)}
	h := newHarness(t, tc, topics.Root()+"/#")

	bad := model.DefaultAlertParams()
	bad.Volume = 150

	jobs := map[string]model.AudioAlertJob{
		"bad volume":          {DeviceID: "spk-01", Audio: []byte{1}, Params: bad},
		"no device":           {Audio: []byte{1}, Params: model.DefaultAlertParams()},
		"wildcard device":     {DeviceID: "spk/+", Audio: []byte{1}, Params: model.DefaultAlertParams()},
		"broadcast to device": {DeviceID: "spk-01", Broadcast: true, Audio: []byte{1}, Params: model.DefaultAlertParams()},
		"empty audio":         {DeviceID: "spk-01", Params: model.DefaultAlertParams()},
	}
	for name, job := range jobs {
		t.Run(name, func(t *testing.T) {
			_, err := h.pipeline.SendAudioAlert(context.Background(), job)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}
	assert.Zero(t, tc.calls.Load(), "validation happens before transcoding")
	h.noFrame(t)
}

func TestSendPreEncodedAlert(t *testing.T) {
	tc := &fakeTranscoder{err: errors.New("must not be called")}
	h := newHarness(t, tc, topics.AudioBroadcast())

	opus := oggOpus(t, 2)
	res, err := h.pipeline.SendPreEncodedAlert(context.Background(), model.AudioAlertJob{
		Broadcast: true,
		Audio:     opus,
		Params:    model.DefaultAlertParams(),
	})
	require.NoError(t, err)
	assert.Zero(t, tc.calls.Load())
	assert.Equal(t, "rapidreach/audio/broadcast", res.Topic)
	assert.Contains(t, res.ArchiveKey, "alerts/broadcast/")

	_, payload, err := DecodeFrame(h.frame(t).Payload)
	require.NoError(t, err)
	assert.Equal(t, opus, payload)

	_, err = h.pipeline.SendPreEncodedAlert(context.Background(), model.AudioAlertJob{
		Broadcast: true,
		Audio:     []byte("ID3 mp3 bytes"),
		Params:    model.DefaultAlertParams(),
	})
	assert.ErrorIs(t, err, core.ErrValidation)
	h.noFrame(t)
}

func TestSendAlertTransportFailure(t *testing.T) {
	h := newHarness(t, &fakeTranscoder{out: oggOpus(t, 1)}, topics.Audio("spk-01"))
	h.gateway.SetConnected(false)

	_, err := h.pipeline.SendAudioAlert(context.Background(), model.AudioAlertJob{
		DeviceID: "spk-01",
		Audio:    []byte{1},
		Params:   model.DefaultAlertParams(),
	})
	assert.ErrorIs(t, err, core.ErrTransport)
	assert.ErrorIs(t, err, mqtt.ErrNotConnected)
	assert.Zero(t, h.store.Len(), "nothing is archived when publish fails")
}

type failingProvider struct{ storage.MemoryProvider }

func (*failingProvider) Put(context.Context, string, []byte, string) error {
	return errors.New("bucket unavailable")
}

func TestArchiveFailureDoesNotFailAlert(t *testing.T) {
	h := newHarness(t, &fakeTranscoder{out: oggOpus(t, 1)}, topics.Audio("spk-01"))
	h.pipeline.cfg.Archiver = NewArchiver(&failingProvider{}, "alerts", time.Hour)

	res, err := h.pipeline.SendAudioAlert(context.Background(), model.AudioAlertJob{
		DeviceID: "spk-01",
		Audio:    []byte{1},
		Params:   model.DefaultAlertParams(),
	})
	require.NoError(t, err)
	assert.Empty(t, res.ArchiveKey)
	assert.Empty(t, res.ArchiveURL)
	h.frame(t)
}

func TestArchiveURLDisabled(t *testing.T) {
	h := newHarness(t, &fakeTranscoder{out: oggOpus(t, 1)}, topics.Audio("spk-01"))
	h.pipeline.cfg.Archiver = NewArchiver(h.store, "alerts", 0)

	res, err := h.pipeline.SendAudioAlert(context.Background(), model.AudioAlertJob{
		DeviceID: "spk-01",
		Audio:    []byte{1},
		Params:   model.DefaultAlertParams(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ArchiveKey)
	assert.Empty(t, res.ArchiveURL)
}

func TestNewPipelineRequiresCollaborators(t *testing.T) {
	_, err := NewPipeline(Config{Transcoder: &fakeTranscoder{}})
	assert.Error(t, err)
	_, err = NewPipeline(Config{Client: mqtt.NewMemoryBroker().NewClient(nil)})
	assert.Error(t, err)
}
