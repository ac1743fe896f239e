package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/devgate/internal/devsim"
	"github.com/autopeer-io/devgate/pkg/app"
	"github.com/autopeer-io/devgate/pkg/log"
	"github.com/autopeer-io/devgate/pkg/mqtt"
	"github.com/autopeer-io/devgate/pkg/mqtt/topic"
)

const (
	commandName = "devsim"
	commandDesc = `devsim runs one or more simulated speakers against an MQTT broker.
Each device publishes heartbeats, answers console commands on its command
topic and decodes the audio alerts it receives.`
)

func NewApp() *app.App {
	opts := NewSimOptions()
	return app.NewApp(
		commandName,
		"Simulate devgate field devices",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
	)
}

func run(opts *SimOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		ctx := genericapiserver.SetupSignalContext()

		devices, err := newDevices(opts)
		if err != nil {
			return err
		}
		return runDevices(ctx, devices)
	}
}

func newDevices(opts *SimOptions) ([]*devsim.Device, error) {
	topics := topic.NewTopicBuilder(opts.MqttOptions.TopicRoot)
	do := opts.DeviceOptions

	var devices []*devsim.Device
	for _, id := range do.IDs() {
		client, err := mqtt.NewClient(opts.clientConfig(id))
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", id, err)
		}
		d, err := devsim.New(devsim.Config{
			Client:             client,
			Topics:             topics,
			DeviceID:           id,
			Type:               do.Type,
			Firmware:           do.Firmware,
			HeartbeatInterval:  do.HeartbeatInterval,
			PerDeviceHeartbeat: do.PerDeviceHeartbeat,
			EchoCorrelation:    do.EchoCorrelation,
			ReplyDelay:         do.ReplyDelay,
			QoS:                1,
		})
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func runDevices(ctx context.Context, devices []*devsim.Device) error {
	log.Info("Starting simulated devices", "count", len(devices))
	eg, ctx := errgroup.WithContext(ctx)
	for _, d := range devices {
		eg.Go(func() error {
			if err := d.Run(ctx); err != nil {
				return fmt.Errorf("device %s: %w", d.ID(), err)
			}
			return nil
		})
	}
	return eg.Wait()
}
