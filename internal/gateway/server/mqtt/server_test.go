package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/devgate/internal/gateway/core/model"
	"github.com/autopeer-io/devgate/internal/gateway/presence"
	pkgmqtt "github.com/autopeer-io/devgate/pkg/mqtt"
	"github.com/autopeer-io/devgate/pkg/mqtt/topic"
)

func runServer(t *testing.T) (*presence.Tracker, *pkgmqtt.MemoryClient, *pkgmqtt.MemoryClient) {
	t.Helper()
	b := pkgmqtt.NewMemoryBroker()
	gw := b.NewClient(nil)
	dev := b.NewClient(nil)
	require.NoError(t, dev.Start(context.Background()))
	t.Cleanup(func() { dev.Disconnect(context.Background()) })

	clk := clocktesting.NewFakePassiveClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	tracker := presence.NewTracker(time.Minute, clk)
	srv := NewServer(gw, topic.NewTopicBuilder(topic.DefaultRoot), tracker)

	stopped := make(chan struct{})
	srv.OnStop = func() { close(stopped) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		<-stopped
		assert.False(t, gw.IsConnected())
	})

	require.Eventually(t, func() bool { return gw.ActiveFilters() == 2 }, time.Second, 5*time.Millisecond)
	return tracker, gw, dev
}

func TestHeartbeatIngress(t *testing.T) {
	tracker, _, dev := runServer(t)
	ctx := context.Background()

	require.NoError(t, dev.Publish(ctx, "rapidreach/heartbeat", 0, false,
		[]byte(`{"device_id":"spk-01","status":"idle","uptime":120,"firmware_version":"1.4.2"}`)))
	require.NoError(t, dev.Publish(ctx, "rapidreach/sensor-07/heartbeat", 0, false,
		[]byte(`{"status":"ok","type":"sensor"}`)))

	require.Eventually(t, func() bool {
		_, a := tracker.Get("spk-01")
		_, b := tracker.Get("sensor-07")
		return a && b
	}, time.Second, 5*time.Millisecond)

	spk, _ := tracker.Get("spk-01")
	assert.Equal(t, model.StatusOnline, spk.Status)
	assert.Equal(t, "1.4.2", spk.FirmwareVersion)
	assert.EqualValues(t, 120, spk.Uptime)

	sensor, _ := tracker.Get("sensor-07")
	assert.Equal(t, model.DeviceTypeSensor, sensor.Type)
}

func TestHeartbeatWithoutJSONTouchesDevice(t *testing.T) {
	tracker, _, dev := runServer(t)
	ctx := context.Background()

	require.NoError(t, dev.Publish(ctx, "rapidreach/spk-09/heartbeat", 0, false, []byte("alive")))
	require.Eventually(t, func() bool {
		d, ok := tracker.Get("spk-09")
		return ok && d.Online()
	}, time.Second, 5*time.Millisecond)

	// Garbage on the shared topic names no device and is dropped.
	require.NoError(t, dev.Publish(ctx, "rapidreach/heartbeat", 0, false, []byte("alive")))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, tracker.List(), 1)
}

func TestAudioTopicIsNotAHeartbeat(t *testing.T) {
	tracker, _, dev := runServer(t)
	ctx := context.Background()

	// The alert frame for a speaker named "heartbeat" starts with a JSON header.
	frame := append([]byte(`{"opus_data_size":4,"priority":5,"volume":100,"play_count":1}`), "OggS"...)
	require.NoError(t, dev.Publish(ctx, "rapidreach/audio/heartbeat", 1, false, frame))
	require.NoError(t, dev.Publish(ctx, "rapidreach/spk-02/heartbeat", 0, false, []byte("alive")))

	require.Eventually(t, func() bool {
		_, ok := tracker.Get("spk-02")
		return ok
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok := tracker.Get("audio")
	assert.False(t, ok)
	assert.Len(t, tracker.List(), 1)
}
