package gateway

import (
	"context"
	"fmt"
	"os"

	"github.com/autopeer-io/devgate/internal/gateway/audio"
	"github.com/autopeer-io/devgate/internal/gateway/batch"
	"github.com/autopeer-io/devgate/internal/gateway/correlator"
	"github.com/autopeer-io/devgate/internal/gateway/presence"
	"github.com/autopeer-io/devgate/internal/gateway/server"
	httpserver "github.com/autopeer-io/devgate/internal/gateway/server/http"
	mqttserver "github.com/autopeer-io/devgate/internal/gateway/server/mqtt"
	"github.com/autopeer-io/devgate/internal/gateway/storage"
	"github.com/autopeer-io/devgate/internal/pkg/metrics"
	"github.com/autopeer-io/devgate/pkg/log"
	"github.com/autopeer-io/devgate/pkg/mqtt"
	"github.com/autopeer-io/devgate/pkg/mqtt/topic"
	"github.com/autopeer-io/devgate/pkg/options"
)

// Config holds everything needed to assemble a Gateway.
type Config struct {
	MqttOptions     *options.MqttOptions
	HttpOptions     *options.HttpOptions
	S3Options       *options.S3Options
	CommandOptions  *options.CommandOptions
	PresenceOptions *options.PresenceOptions
	AudioOptions    *options.AudioOptions
	BatchOptions    *options.BatchOptions
}

// NewGateway wires the transport, the core components and the ingress servers.
func (cfg *Config) NewGateway(ctx context.Context) (*Gateway, error) {
	// 1. Transport
	client, err := cfg.newMQTTClient()
	if err != nil {
		return nil, fmt.Errorf("failed to init mqtt client: %w", err)
	}
	topics := topic.NewTopicBuilder(cfg.MqttOptions.TopicRoot)

	// 2. Presence
	tracker := presence.NewTracker(cfg.PresenceOptions.LivenessWindow, nil)
	metrics.RegisterOnlineDevices(tracker.OnlineCount)

	// 3. Commands
	co := cfg.CommandOptions
	corr, err := correlator.New(correlator.Config{
		Client:           client,
		Topics:           topics,
		Presence:         tracker,
		Logger:           log.WithName("correlator"),
		DefaultTimeout:   co.DefaultTimeout,
		MaxTimeout:       co.MaxTimeout,
		StaleReplyWindow: co.StaleReplyWindow,
		QoS:              co.QoS,
		RejectOffline:    co.RejectOffline,
		MaxCommandBytes:  co.MaxCommandBytes,
		MaxOutputBytes:   co.MaxOutputBytes,
	})
	if err != nil {
		return nil, err
	}
	// A batch must answer before the HTTP server gives up on the write.
	executor := batch.NewExecutor(corr, cfg.BatchOptions.MaxItems, cfg.BatchOptions.Concurrency).
		WithDeadline(cfg.HttpOptions.Timeout * 9 / 10)

	// 4. Audio alerts
	archiver, err := cfg.newArchiver(ctx)
	if err != nil {
		return nil, err
	}
	pipeline, err := audio.NewPipeline(audio.Config{
		Client:     client,
		Topics:     topics,
		Transcoder: audio.NewFFmpegTranscoder(cfg.AudioOptions),
		Archiver:   archiver,
		QoS:        cfg.AudioOptions.QoS,
		Logger:     log.WithName("audio"),
	})
	if err != nil {
		return nil, err
	}

	// 5. Ingress servers
	mqttSrv := mqttserver.NewServer(client, topics, tracker)
	mqttSrv.OnStop = corr.Close
	httpSrv := httpserver.NewServer(cfg.HttpOptions, httpserver.Deps{
		Commands:       corr,
		Batch:          executor,
		Devices:        tracker,
		Alerts:         pipeline,
		Ready:          client.IsConnected,
		Gatherer:       metrics.Registry,
		MaxUploadBytes: cfg.AudioOptions.MaxUploadBytes,
	})

	return &Gateway{
		serverManager: server.NewManager(mqttSrv, httpSrv),
		tracker:       tracker,
	}, nil
}

func (cfg *Config) newMQTTClient() (mqtt.Client, error) {
	clientCfg := cfg.MqttOptions.ToClientConfig()
	clientCfg.OnConnectionChange = metrics.SetMQTTConnected

	if clientCfg.ClientID == "" {
		hostname, _ := os.Hostname()
		clientCfg.ClientID = fmt.Sprintf("devgate-%s", hostname)
	}

	if cfg.MqttOptions.UseMemoryBroker() {
		log.Warn("Using the in-process MQTT broker; no real device can reach this gateway")
		return mqtt.NewMemoryBroker().NewClient(clientCfg), nil
	}
	return mqtt.NewClient(clientCfg)
}

func (cfg *Config) newArchiver(ctx context.Context) (*audio.Archiver, error) {
	if cfg.S3Options == nil || !cfg.S3Options.Enabled {
		return nil, nil
	}
	provider, err := storage.NewMinIOProvider(cfg.S3Options)
	if err != nil {
		return nil, err
	}
	if err := provider.CheckBucket(ctx); err != nil {
		return nil, err
	}
	return audio.NewArchiver(provider, cfg.S3Options.Prefix, cfg.S3Options.URLExpiry), nil
}
