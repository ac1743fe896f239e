package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/devgate/cmd/devgate/app/options"
	"github.com/autopeer-io/devgate/pkg/app"
	"github.com/autopeer-io/devgate/pkg/log"
)

const (
	commandName = "devgate"
	commandDesc = `devgate bridges synchronous HTTP clients and MQTT-only field devices.
It turns console commands into request/response calls with deadlines, tracks
device liveness from heartbeats and publishes audio alerts to speakers.`
)

func NewApp() *app.App {
	opts := options.NewGatewayOptions()
	application := app.NewApp(
		commandName,
		"Launch the devgate device gateway",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
		app.WithSubCommands(newDevicesCommand()),
	)
	return application
}

func run(opts *options.GatewayOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		gw, err := cfg.NewGateway(ctx)
		if err != nil {
			return fmt.Errorf("failed to create gateway: %w", err)
		}

		return gw.Run(ctx)
	}
}
