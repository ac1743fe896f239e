package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/devgate/pkg/app"
	"github.com/autopeer-io/devgate/pkg/log"
	"github.com/autopeer-io/devgate/pkg/mqtt"
	"github.com/autopeer-io/devgate/pkg/mqtt/topic"
	"github.com/autopeer-io/devgate/pkg/options"
)

// DeviceOptions describes the simulated fleet.
type DeviceOptions struct {
	DeviceID           string        `json:"id" mapstructure:"id"`
	Count              int           `json:"count" mapstructure:"count"`
	Type               string        `json:"type" mapstructure:"type"`
	Firmware           string        `json:"firmware" mapstructure:"firmware"`
	HeartbeatInterval  time.Duration `json:"heartbeat-interval" mapstructure:"heartbeat-interval"`
	PerDeviceHeartbeat bool          `json:"per-device-heartbeat" mapstructure:"per-device-heartbeat"`
	EchoCorrelation    bool          `json:"echo-correlation" mapstructure:"echo-correlation"`
	ReplyDelay         time.Duration `json:"reply-delay" mapstructure:"reply-delay"`
}

func newDeviceOptions() *DeviceOptions {
	return &DeviceOptions{
		DeviceID:          "speaker-sim",
		Count:             1,
		Type:              "speaker",
		HeartbeatInterval: 10 * time.Second,
		EchoCorrelation:   true,
	}
}

func (o *DeviceOptions) Validate() []error {
	var errs []error
	if err := topic.ValidateSegment(o.DeviceID); err != nil {
		errs = append(errs, fmt.Errorf("--device.id: %w", err))
	}
	if o.Count < 1 {
		errs = append(errs, errors.New("--device.count must be at least 1"))
	}
	if o.HeartbeatInterval < 0 || o.ReplyDelay < 0 {
		errs = append(errs, errors.New("--device.heartbeat-interval and --device.reply-delay must not be negative"))
	}
	return errs
}

func (o *DeviceOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.DeviceID, "device.id", o.DeviceID, "Device ID. With --device.count above 1 it is used as a prefix: <id>-01, <id>-02, ...")
	fs.IntVar(&o.Count, "device.count", o.Count, "Number of devices to simulate.")
	fs.StringVar(&o.Type, "device.type", o.Type, "Device type reported in heartbeats.")
	fs.StringVar(&o.Firmware, "device.firmware", o.Firmware, "Firmware version reported in heartbeats.")
	fs.DurationVar(&o.HeartbeatInterval, "device.heartbeat-interval", o.HeartbeatInterval, "Heartbeat period. Zero starts with heartbeats stopped.")
	fs.BoolVar(&o.PerDeviceHeartbeat, "device.per-device-heartbeat", o.PerDeviceHeartbeat, "Publish heartbeats on {root}/{id}/heartbeat instead of the shared topic.")
	fs.BoolVar(&o.EchoCorrelation, "device.echo-correlation", o.EchoCorrelation, "Echo MQTT v5 correlation data in command replies.")
	fs.DurationVar(&o.ReplyDelay, "device.reply-delay", o.ReplyDelay, "Delay added before every command reply.")
}

// IDs returns the device IDs to simulate.
func (o *DeviceOptions) IDs() []string {
	if o.Count <= 1 {
		return []string{o.DeviceID}
	}
	ids := make([]string, o.Count)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%02d", o.DeviceID, i+1)
	}
	return ids
}

// SimOptions is the top-level option set of devsim.
type SimOptions struct {
	MqttOptions   *options.MqttOptions `json:"mqtt" mapstructure:"mqtt"`
	DeviceOptions *DeviceOptions       `json:"device" mapstructure:"device"`
	Log           *log.Options         `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*SimOptions)(nil)

func NewSimOptions() *SimOptions {
	return &SimOptions{
		MqttOptions:   options.NewMqttOptions(),
		DeviceOptions: newDeviceOptions(),
		Log:           log.NewOptions(),
	}
}

func (o *SimOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.DeviceOptions.AddFlags(fss.FlagSet("device"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *SimOptions) Complete() error { return nil }

func (o *SimOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.MqttOptions.Validate()...)
	if o.MqttOptions.UseMemoryBroker() {
		errs = append(errs, errors.New("--mqtt.broker: the in-process broker cannot reach a gateway in another process"))
	}
	errs = append(errs, o.DeviceOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

// clientConfig returns the MQTT client settings for one device. Every device
// connects with its own client ID.
func (o *SimOptions) clientConfig(deviceID string) *mqtt.ClientConfig {
	cfg := o.MqttOptions.ToClientConfig()
	cfg.ClientID = deviceID
	return cfg
}
