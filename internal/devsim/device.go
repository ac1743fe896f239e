// Package devsim implements a simulated speaker that speaks the same MQTT
// protocol as the device firmware. It is used for local development against
// a gateway and in end-to-end tests.
package devsim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/devgate/internal/gateway/audio"
	"github.com/autopeer-io/devgate/pkg/log"
	"github.com/autopeer-io/devgate/pkg/mqtt"
	"github.com/autopeer-io/devgate/pkg/mqtt/topic"
)

const (
	// MaxCommandBytes and MaxReplyBytes mirror the console bridge buffers.
	MaxCommandBytes = 255
	MaxReplyBytes   = 1023

	// FirmwareVersion is reported when Config.Firmware is empty.
	FirmwareVersion = "v1.0.0-sim"
)

// Config describes one simulated device.
type Config struct {
	Client mqtt.Client
	Topics *topic.TopicBuilder

	DeviceID string
	Type     string
	Firmware string

	// HeartbeatInterval of zero disables the heartbeat loop.
	HeartbeatInterval time.Duration

	// PerDeviceHeartbeat publishes on {root}/{id}/heartbeat instead of the
	// shared heartbeat topic.
	PerDeviceHeartbeat bool

	// EchoCorrelation copies MQTT v5 correlation data into replies. Older
	// firmware does not.
	EchoCorrelation bool

	// ReplyDelay is added before every reply.
	ReplyDelay time.Duration

	QoS    int
	Clock  clock.WithTicker
	Logger log.Logger
}

// Alert is a decoded audio frame as the speaker would play it.
type Alert struct {
	Topic     string
	Header    audio.Header
	OpusBytes int
	Broadcast bool
}

// Device is a running simulated speaker.
type Device struct {
	cfg    Config
	client mqtt.Client
	topics *topic.TopicBuilder
	clock  clock.WithTicker
	log    log.Logger

	bootedAt  time.Time
	seq       atomic.Uint32
	beating   atomic.Bool
	heartbeat chan bool

	mu     sync.Mutex
	alerts []Alert
}

// New validates cfg and returns a device that is not yet connected.
func New(cfg Config) (*Device, error) {
	if cfg.Client == nil {
		return nil, errors.New("devsim: mqtt client is required")
	}
	if err := topic.ValidateSegment(cfg.DeviceID); err != nil {
		return nil, fmt.Errorf("devsim: device id: %w", err)
	}
	if cfg.Topics == nil {
		cfg.Topics = topic.NewTopicBuilder(topic.DefaultRoot)
	}
	if cfg.Type == "" {
		cfg.Type = "speaker"
	}
	if cfg.Firmware == "" {
		cfg.Firmware = FirmwareVersion
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithName("devsim").WithValues("device", cfg.DeviceID)
	}

	d := &Device{
		cfg:       cfg,
		client:    cfg.Client,
		topics:    cfg.Topics,
		clock:     cfg.Clock,
		log:       cfg.Logger,
		bootedAt:  cfg.Clock.Now(),
		heartbeat: make(chan bool, 1),
	}
	d.beating.Store(cfg.HeartbeatInterval > 0)
	return d, nil
}

// ID returns the device ID.
func (d *Device) ID() string { return d.cfg.DeviceID }

// Subscribe attaches the command and audio handlers. Run calls it; tests that
// drive heartbeats by hand may call it directly.
func (d *Device) Subscribe(ctx context.Context) error {
	handlers := map[string]mqtt.MessageHandler{
		d.topics.Command(d.cfg.DeviceID): d.handleCommand,
		d.topics.Audio(d.cfg.DeviceID):  d.handleAudio,
		d.topics.AudioBroadcast():        d.handleAudio,
	}
	for t, h := range handlers {
		if _, err := d.client.Subscribe(ctx, t, d.cfg.QoS, h); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
		d.log.Debug("Subscribed", "topic", t)
	}
	return nil
}

// Run connects, subscribes and sends heartbeats until ctx is done.
func (d *Device) Run(ctx context.Context) error {
	if err := d.client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mqtt client: %w", err)
	}
	defer d.client.Disconnect(context.Background())

	if err := d.client.AwaitConnection(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if err := d.Subscribe(ctx); err != nil {
		return err
	}
	d.log.Info("Simulated device online", "type", d.cfg.Type, "firmware", d.cfg.Firmware)

	d.heartbeatLoop(ctx)
	d.log.Info("Simulated device stopped")
	return nil
}

func (d *Device) heartbeatLoop(ctx context.Context) {
	interval := d.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := d.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		if d.beating.Load() {
			if err := d.SendHeartbeat(ctx); err != nil && ctx.Err() == nil {
				d.log.Warn("Heartbeat failed", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		case <-d.heartbeat:
		}
	}
}

type heartbeatPayload struct {
	DeviceID        string `json:"device_id"`
	Timestamp       int64  `json:"timestamp"`
	Status          string `json:"status"`
	Alive           bool   `json:"alive"`
	Seq             uint32 `json:"seq"`
	Uptime          int64  `json:"uptime"`
	FirmwareVersion string `json:"firmware_version"`
	Type            string `json:"type"`
}

// SendHeartbeat publishes one heartbeat. Uptime is in seconds.
func (d *Device) SendHeartbeat(ctx context.Context) error {
	now := d.clock.Now()
	body, err := json.Marshal(heartbeatPayload{
		DeviceID:        d.cfg.DeviceID,
		Timestamp:       now.Unix(),
		Status:          "online",
		Alive:           true,
		Seq:             d.seq.Add(1),
		Uptime:          int64(now.Sub(d.bootedAt) / time.Second),
		FirmwareVersion: d.cfg.Firmware,
		Type:            d.cfg.Type,
	})
	if err != nil {
		return err
	}

	t := d.topics.Heartbeat()
	if d.cfg.PerDeviceHeartbeat {
		t = d.topics.DeviceHeartbeat(d.cfg.DeviceID)
	}
	return d.client.Publish(ctx, t, 0, false, body, mqtt.WithContentType("application/json"))
}

func (d *Device) handleCommand(ctx context.Context, msg *mqtt.Message) {
	cmd := msg.Payload
	if len(cmd) > MaxCommandBytes {
		cmd = cmd[:MaxCommandBytes]
	}
	line := strings.TrimSpace(string(cmd))
	d.log.Info("Received CLI command", "command", line)

	reply := d.Execute(line)
	if len(reply) > MaxReplyBytes {
		reply = reply[:MaxReplyBytes]
	}

	var opts []mqtt.PublishOption
	if d.cfg.EchoCorrelation && len(msg.CorrelationData) > 0 {
		opts = append(opts, mqtt.WithCorrelationData(msg.CorrelationData))
	}
	respTopic := msg.ResponseTopic
	if respTopic == "" {
		respTopic = d.topics.Response(d.cfg.DeviceID)
	}

	if d.cfg.ReplyDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-d.clock.After(d.cfg.ReplyDelay):
		}
	}
	if err := d.client.Publish(ctx, respTopic, d.cfg.QoS, false, []byte(reply), opts...); err != nil {
		d.log.Error(err, "Failed to publish reply", "command", line)
	}
}

// Execute runs one console command and returns its output.
func (d *Device) Execute(cmd string) string {
	switch {
	case cmd == "":
		return "Error: empty command"
	case cmd == "help":
		return helpText
	case cmd == "kernel uptime":
		ms := d.clock.Since(d.bootedAt).Milliseconds()
		return fmt.Sprintf("Uptime: %d ms (%d seconds)", ms, ms/1000)
	case cmd == "kernel version":
		return "Zephyr version 3.7.0"
	case cmd == "rapidreach test":
		return "Hello"
	case cmd == "rapidreach mqtt status":
		if d.client.IsConnected() {
			return "MQTT Connected\nClient ID: " + d.cfg.DeviceID
		}
		return "MQTT Disconnected"
	case strings.HasPrefix(cmd, "rapidreach mqtt heartbeat"):
		return d.heartbeatCommand(strings.TrimSpace(strings.TrimPrefix(cmd, "rapidreach mqtt heartbeat")))
	case cmd == "rapidreach alerts":
		return fmt.Sprintf("Alerts played: %d", len(d.Alerts()))
	}
	return fmt.Sprintf("Command '%s' not found", cmd)
}

func (d *Device) heartbeatCommand(arg string) string {
	switch arg {
	case "start":
		d.toggleHeartbeat(true)
		return "Heartbeat started"
	case "stop":
		d.toggleHeartbeat(false)
		return "Heartbeat stopped"
	case "status":
		state := "stopped"
		if d.beating.Load() {
			state = "running"
		}
		return fmt.Sprintf("Heartbeat %s\nInterval: %d seconds", state, int(d.cfg.HeartbeatInterval.Seconds()))
	}
	return "Usage: rapidreach mqtt heartbeat <start|stop|status>"
}

func (d *Device) toggleHeartbeat(on bool) {
	d.beating.Store(on)
	// Wake the loop; a pending toggle is replaced by the newest one.
	select {
	case d.heartbeat <- on:
	default:
		select {
		case <-d.heartbeat:
		default:
		}
		d.heartbeat <- on
	}
}

// Heartbeating reports whether the heartbeat loop is sending.
func (d *Device) Heartbeating() bool { return d.beating.Load() }

func (d *Device) handleAudio(_ context.Context, msg *mqtt.Message) {
	hdr, opus, err := audio.DecodeFrame(msg.Payload)
	if err != nil {
		d.log.Warn("Dropping malformed audio frame", "topic", msg.Topic, "bytes", len(msg.Payload), "error", err)
		return
	}

	a := Alert{
		Topic:     msg.Topic,
		Header:    hdr,
		OpusBytes: len(opus),
		Broadcast: msg.Topic == d.topics.AudioBroadcast(),
	}
	d.mu.Lock()
	d.alerts = append(d.alerts, a)
	d.mu.Unlock()

	d.log.Info("Playing audio alert",
		"bytes", len(opus),
		"priority", hdr.Priority,
		"volume", hdr.Volume,
		"playCount", hdr.PlayCount,
		"interrupt", hdr.InterruptCurrent,
		"broadcast", a.Broadcast,
	)
}

// Alerts returns the audio alerts received so far.
func (d *Device) Alerts() []Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Alert(nil), d.alerts...)
}

const helpText = `Available commands:
  help                      : Prints the help message.
  kernel uptime             : Time since boot.
  kernel version            : Firmware kernel version.
  rapidreach test           : Connectivity check.
  rapidreach mqtt status    : Broker connection state.
  rapidreach mqtt heartbeat : start, stop or status.
  rapidreach alerts         : Number of audio alerts played.`
