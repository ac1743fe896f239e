package options

import (
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/devgate/internal/gateway"
	"github.com/autopeer-io/devgate/pkg/app"
	"github.com/autopeer-io/devgate/pkg/log"
	"github.com/autopeer-io/devgate/pkg/options"
)

type GatewayOptions struct {
	MqttOptions     *options.MqttOptions     `json:"mqtt" mapstructure:"mqtt"`
	HttpOptions     *options.HttpOptions     `json:"http" mapstructure:"http"`
	S3Options       *options.S3Options       `json:"s3" mapstructure:"s3"`
	CommandOptions  *options.CommandOptions  `json:"command" mapstructure:"command"`
	PresenceOptions *options.PresenceOptions `json:"presence" mapstructure:"presence"`
	AudioOptions    *options.AudioOptions    `json:"audio" mapstructure:"audio"`
	BatchOptions    *options.BatchOptions    `json:"batch" mapstructure:"batch"`
	Log             *log.Options             `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*GatewayOptions)(nil)

func NewGatewayOptions() *GatewayOptions {
	return &GatewayOptions{
		MqttOptions:     options.NewMqttOptions(),
		HttpOptions:     options.NewHttpOptions(),
		S3Options:       options.NewS3Options(),
		CommandOptions:  options.NewCommandOptions(),
		PresenceOptions: options.NewPresenceOptions(),
		AudioOptions:    options.NewAudioOptions(),
		BatchOptions:    options.NewBatchOptions(),
		Log:             log.NewOptions(),
	}
}

func (o *GatewayOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.CommandOptions.AddFlags(fss.FlagSet("command"))
	o.PresenceOptions.AddFlags(fss.FlagSet("presence"))
	o.AudioOptions.AddFlags(fss.FlagSet("audio"))
	o.BatchOptions.AddFlags(fss.FlagSet("batch"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

// Complete keeps the HTTP write timeout above the longest command timeout.
func (o *GatewayOptions) Complete() error {
	if floor := o.CommandOptions.MaxTimeout + 5*time.Second; o.HttpOptions.Timeout < floor {
		o.HttpOptions.Timeout = floor
	}
	return nil
}

func (o *GatewayOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.CommandOptions.Validate()...)
	errs = append(errs, o.PresenceOptions.Validate()...)
	errs = append(errs, o.AudioOptions.Validate()...)
	errs = append(errs, o.BatchOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *GatewayOptions) Config() (*gateway.Config, error) {
	return &gateway.Config{
		MqttOptions:     o.MqttOptions,
		HttpOptions:     o.HttpOptions,
		S3Options:       o.S3Options,
		CommandOptions:  o.CommandOptions,
		PresenceOptions: o.PresenceOptions,
		AudioOptions:    o.AudioOptions,
		BatchOptions:    o.BatchOptions,
	}, nil
}
