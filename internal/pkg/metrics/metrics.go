package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every devgate collector and is what /metrics serves.
var Registry = prometheus.NewRegistry()

var (
	// MQTTConnected is 1 while the broker connection is up.
	MQTTConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "devgate_mqtt_connected",
			Help: "Whether the gateway is connected to the MQTT broker (1=connected).",
		},
	)

	// CommandsTotal counts finished commands by outcome (success or an error kind).
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devgate_commands_total",
			Help: "Total number of device commands by outcome.",
		},
		[]string{"outcome"},
	)

	// CommandDuration observes the time from publish to resolution.
	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devgate_command_duration_seconds",
			Help:    "Time between publishing a command and its resolution.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)

	// PendingCommands is the number of commands awaiting a reply.
	PendingCommands = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "devgate_pending_commands",
			Help: "Commands published and awaiting a device reply.",
		},
	)

	// LateReplies counts replies that arrived for a command that had already timed out.
	LateReplies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devgate_late_replies_total",
			Help: "Device replies discarded because their command had already timed out.",
		},
	)

	// HeartbeatsTotal counts heartbeat messages by result (accepted, touched or rejected).
	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devgate_heartbeats_total",
			Help: "Heartbeat messages received, by result.",
		},
		[]string{"result"},
	)

	// AudioAlertsTotal counts alert dispatches by mode (transcode/preencoded) and outcome.
	AudioAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devgate_audio_alerts_total",
			Help: "Audio alerts processed, by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	// TranscodeDuration observes ffmpeg run time.
	TranscodeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "devgate_audio_transcode_duration_seconds",
			Help:    "Time spent transcoding audio alerts to Opus.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		MQTTConnected,
		CommandsTotal,
		CommandDuration,
		PendingCommands,
		LateReplies,
		HeartbeatsTotal,
		AudioAlertsTotal,
		TranscodeDuration,
	)
}

var onlineOnce sync.Once

// RegisterOnlineDevices exposes the number of online devices as computed by fn.
// Only the first call registers; later calls are ignored.
func RegisterOnlineDevices(fn func() int) {
	onlineOnce.Do(func() {
		Registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "devgate_devices_online",
				Help: "Devices whose last heartbeat is inside the liveness window.",
			},
			func() float64 { return float64(fn()) },
		))
	})
}

// SetMQTTConnected records the broker connection state.
func SetMQTTConnected(connected bool) {
	if connected {
		MQTTConnected.Set(1)
		return
	}
	MQTTConnected.Set(0)
}
