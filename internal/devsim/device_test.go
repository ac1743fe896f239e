package devsim

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/devgate/internal/gateway/audio"
	"github.com/autopeer-io/devgate/internal/gateway/core/model"
	"github.com/autopeer-io/devgate/internal/gateway/correlator"
	"github.com/autopeer-io/devgate/internal/gateway/presence"
	"github.com/autopeer-io/devgate/pkg/log"
	"github.com/autopeer-io/devgate/pkg/mqtt"
	"github.com/autopeer-io/devgate/pkg/mqtt/topic"
)

var topics = topic.NewTopicBuilder(topic.DefaultRoot)

func newDevice(t *testing.T, b *mqtt.MemoryBroker, cfg Config) *Device {
	t.Helper()
	client := b.NewClient(nil)
	require.NoError(t, client.Start(context.Background()))
	t.Cleanup(func() { client.Disconnect(context.Background()) })

	cfg.Client = client
	cfg.Topics = topics
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
	d, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, d.Subscribe(context.Background()))
	return d
}

func newGatewayClient(t *testing.T, b *mqtt.MemoryBroker) *mqtt.MemoryClient {
	t.Helper()
	c := b.NewClient(nil)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { c.Disconnect(context.Background()) })
	return c
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{DeviceID: "spk-01"})
	assert.Error(t, err)

	client := mqtt.NewMemoryBroker().NewClient(nil)
	_, err = New(Config{Client: client, DeviceID: "a/b"})
	assert.Error(t, err)

	d, err := New(Config{Client: client, DeviceID: "spk-01"})
	require.NoError(t, err)
	assert.Equal(t, "spk-01", d.ID())
	assert.False(t, d.Heartbeating())
}

func TestExecute(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	d := newDevice(t, mqtt.NewMemoryBroker(), Config{DeviceID: "spk-01", Clock: clk, HeartbeatInterval: 30 * time.Second})
	clk.Step(90500 * time.Millisecond)

	tests := []struct {
		cmd  string
		want string
	}{
		{"kernel uptime", "Uptime: 90500 ms (90 seconds)"},
		{"rapidreach test", "Hello"},
		{"kernel version", "Zephyr version 3.7.0"},
		{"rapidreach mqtt status", "MQTT Connected\nClient ID: spk-01"},
		{"rapidreach mqtt heartbeat status", "Heartbeat running\nInterval: 30 seconds"},
		{"rapidreach mqtt heartbeat", "Usage: rapidreach mqtt heartbeat <start|stop|status>"},
		{"rapidreach alerts", "Alerts played: 0"},
		{"", "Error: empty command"},
		{"reboot now", "Command 'reboot now' not found"},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Execute(tt.cmd))
		})
	}
	assert.True(t, strings.HasPrefix(d.Execute("help"), "Available commands:"))
}

func TestHeartbeatToggle(t *testing.T) {
	d := newDevice(t, mqtt.NewMemoryBroker(), Config{DeviceID: "spk-01", HeartbeatInterval: time.Minute})
	require.True(t, d.Heartbeating())

	assert.Equal(t, "Heartbeat stopped", d.Execute("rapidreach mqtt heartbeat stop"))
	assert.False(t, d.Heartbeating())
	assert.Equal(t, "Heartbeat started", d.Execute("rapidreach mqtt heartbeat start"))
	assert.True(t, d.Heartbeating())
}

func TestCommandRoundTrip(t *testing.T) {
	for _, echo := range []bool{true, false} {
		t.Run(map[bool]string{true: "echo", false: "legacy"}[echo], func(t *testing.T) {
			b := mqtt.NewMemoryBroker()
			newDevice(t, b, Config{DeviceID: "spk-01", EchoCorrelation: echo})

			corr, err := correlator.New(correlator.Config{
				Client:         newGatewayClient(t, b),
				Topics:         topics,
				Logger:         log.NewNopLogger(),
				DefaultTimeout: 2 * time.Second,
			})
			require.NoError(t, err)
			t.Cleanup(corr.Close)

			resp, err := corr.Execute(context.Background(), model.CommandRequest{DeviceID: "spk-01", Command: "rapidreach test"})
			require.NoError(t, err)
			assert.True(t, resp.Success)
			assert.Equal(t, "Hello", resp.Output)
		})
	}
}

func TestReplyIsCapped(t *testing.T) {
	b := mqtt.NewMemoryBroker()
	newDevice(t, b, Config{DeviceID: "spk-01"})
	gw := newGatewayClient(t, b)

	got := make(chan *mqtt.Message, 1)
	_, err := gw.Subscribe(context.Background(), topics.Response("spk-01"), 0, func(_ context.Context, m *mqtt.Message) {
		got <- m
	})
	require.NoError(t, err)

	long := strings.Repeat("x", 400)
	require.NoError(t, gw.Publish(context.Background(), topics.Command("spk-01"), 0, false, []byte(long)))

	select {
	case m := <-got:
		// The command is cut to the console buffer before it is echoed back.
		assert.Contains(t, string(m.Payload), strings.Repeat("x", MaxCommandBytes))
		assert.NotContains(t, string(m.Payload), strings.Repeat("x", MaxCommandBytes+1))
		assert.LessOrEqual(t, len(m.Payload), MaxReplyBytes)
	case <-time.After(time.Second):
		t.Fatal("no reply")
	}
}

func TestHeartbeatIsUnderstoodByGateway(t *testing.T) {
	for _, perDevice := range []bool{false, true} {
		b := mqtt.NewMemoryBroker()
		d := newDevice(t, b, Config{DeviceID: "spk-07", Firmware: "v2.1.0", PerDeviceHeartbeat: perDevice})
		gw := newGatewayClient(t, b)

		got := make(chan *mqtt.Message, 1)
		filter := topics.Heartbeat()
		if perDevice {
			filter = topics.DeviceHeartbeatWildcard()
		}
		_, err := gw.Subscribe(context.Background(), filter, 0, func(_ context.Context, m *mqtt.Message) { got <- m })
		require.NoError(t, err)

		require.NoError(t, d.SendHeartbeat(context.Background()))

		var m *mqtt.Message
		select {
		case m = <-got:
		case <-time.After(time.Second):
			t.Fatal("no heartbeat")
		}
		topicID, _ := topics.DeviceFromHeartbeat(m.Topic)
		hb, err := presence.DecodeHeartbeat(m.Payload, topicID)
		require.NoError(t, err)
		assert.Equal(t, "spk-07", hb.DeviceID)
		assert.Equal(t, "online", hb.Status)
		assert.Equal(t, "v2.1.0", hb.FirmwareVersion)
		assert.Equal(t, model.DeviceTypeSpeaker, hb.Type)
		assert.False(t, hb.ReportedAt.IsZero())
	}
}

func TestAudioFrames(t *testing.T) {
	b := mqtt.NewMemoryBroker()
	d := newDevice(t, b, Config{DeviceID: "spk-01"})
	gw := newGatewayClient(t, b)
	ctx := context.Background()

	params := model.AlertParams{Priority: 9, Volume: 80, PlayCount: 2, InterruptCurrent: true}
	frame, _, err := audio.EncodeFrame(params, []byte("OggS-fake-opus"))
	require.NoError(t, err)

	require.NoError(t, gw.Publish(ctx, topics.Audio("spk-01"), 1, false, frame))
	require.NoError(t, gw.Publish(ctx, topics.AudioBroadcast(), 1, false, frame))
	require.NoError(t, gw.Publish(ctx, topics.Audio("spk-01"), 1, false, []byte("not a frame")))
	require.NoError(t, gw.Publish(ctx, topics.Audio("spk-02"), 1, false, frame))

	require.Eventually(t, func() bool { return len(d.Alerts()) == 2 }, time.Second, 5*time.Millisecond)
	// Give the malformed and foreign frames a chance to arrive.
	time.Sleep(20 * time.Millisecond)

	alerts := d.Alerts()
	require.Len(t, alerts, 2)
	for _, a := range alerts {
		assert.Equal(t, params, a.Header.Params())
		assert.Equal(t, len("OggS-fake-opus"), a.OpusBytes)
	}
	broadcasts := 0
	for _, a := range alerts {
		if a.Broadcast {
			broadcasts++
		}
	}
	assert.Equal(t, 1, broadcasts)
	assert.Equal(t, "Alerts played: 2", d.Execute("rapidreach alerts"))
}

func TestRunStopsWithContext(t *testing.T) {
	b := mqtt.NewMemoryBroker()
	gw := newGatewayClient(t, b)

	beats := make(chan struct{}, 8)
	_, err := gw.Subscribe(context.Background(), topics.Heartbeat(), 0, func(context.Context, *mqtt.Message) {
		select {
		case beats <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	d, err := New(Config{
		Client:            b.NewClient(nil),
		Topics:            topics,
		DeviceID:          "spk-09",
		HeartbeatInterval: 10 * time.Millisecond,
		Logger:            log.NewNopLogger(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	for range 2 {
		select {
		case <-beats:
		case <-time.After(time.Second):
			t.Fatal("no heartbeat")
		}
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
