package options

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/devgate/pkg/mqtt"
	"github.com/autopeer-io/devgate/pkg/mqtt/topic"
)

var _ IOptions = (*MqttOptions)(nil)

// MqttOptions contains configuration for MQTT client and topics.
type MqttOptions struct {
	Broker   string `json:"broker" mapstructure:"broker"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	ClientID string `json:"client-id" mapstructure:"client-id"`

	// Client behavior
	KeepAlive      time.Duration `json:"keep-alive" mapstructure:"keep-alive"`
	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	SessionExpiry  uint32        `json:"session-expiry" mapstructure:"session-expiry"`
	CleanStart     bool          `json:"clean-start" mapstructure:"clean-start"`

	// InsecureSkipVerify controls whether a client verifies the server's certificate chain and host name.
	// This should be used only for testing.
	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`

	ReconnectMinBackoff time.Duration `json:"reconnect-min-backoff" mapstructure:"reconnect-min-backoff"`
	ReconnectMaxBackoff time.Duration `json:"reconnect-max-backoff" mapstructure:"reconnect-max-backoff"`

	// PublishRetryTimeout bounds how long a publish waits for a lost connection.
	PublishRetryTimeout time.Duration `json:"publish-retry-timeout" mapstructure:"publish-retry-timeout"`

	QueueSize int `json:"queue-size" mapstructure:"queue-size"`

	// TopicRoot is the namespace every topic is built under: {TopicRoot}/{deviceID}/cli/command, ...
	TopicRoot string `json:"topic-root" mapstructure:"topic-root"`
}

// NewMqttOptions creates a new MqttOptions with default values.
func NewMqttOptions() *MqttOptions {
	return &MqttOptions{
		Broker:              "tcp://localhost:1883",
		ClientID:            "devgate",
		KeepAlive:           60 * time.Second,
		ConnectTimeout:      5 * time.Second,
		SessionExpiry:       0,
		CleanStart:          true,
		ReconnectMinBackoff: time.Second,
		ReconnectMaxBackoff: 30 * time.Second,
		PublishRetryTimeout: 2 * time.Second,
		QueueSize:           64,
		TopicRoot:           topic.DefaultRoot,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *MqttOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error

	if o.Broker == "" {
		errs = append(errs, errors.New("--mqtt.broker must not be empty"))
	}
	if o.KeepAlive < time.Second || o.KeepAlive.Seconds() > 65535 {
		errs = append(errs, fmt.Errorf("--mqtt.keep-alive %s out of range [1s, 65535s]", o.KeepAlive))
	}
	if o.ReconnectMinBackoff <= 0 || o.ReconnectMaxBackoff < o.ReconnectMinBackoff {
		errs = append(errs, fmt.Errorf("--mqtt.reconnect-min-backoff/--mqtt.reconnect-max-backoff invalid: %s/%s",
			o.ReconnectMinBackoff, o.ReconnectMaxBackoff))
	}
	if o.PublishRetryTimeout < 0 {
		errs = append(errs, errors.New("--mqtt.publish-retry-timeout must not be negative"))
	}
	if o.QueueSize <= 0 {
		errs = append(errs, errors.New("--mqtt.queue-size must be positive"))
	}
	if o.TopicRoot == "" {
		errs = append(errs, errors.New("--mqtt.topic-root must not be empty"))
	}

	return errs
}

// AddFlags adds flags for MqttOptions to the specified FlagSet.
func (o *MqttOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Broker, "mqtt.broker", o.Broker, "The URL of the MQTT broker. Use memory:// for an in-process broker.")
	fs.StringVar(&o.Username, "mqtt.username", o.Username, "The username for MQTT authentication.")
	fs.StringVar(&o.Password, "mqtt.password", o.Password, "The password for MQTT authentication.")
	fs.StringVar(&o.ClientID, "mqtt.client-id", o.ClientID, "MQTT client ID of the gateway.")

	fs.DurationVar(&o.KeepAlive, "mqtt.keep-alive", o.KeepAlive, "MQTT Keep Alive interval.")
	fs.DurationVar(&o.ConnectTimeout, "mqtt.connect-timeout", o.ConnectTimeout, "Timeout for each MQTT connection attempt.")
	fs.Uint32Var(&o.SessionExpiry, "mqtt.session-expiry", o.SessionExpiry, "MQTT Session Expiry Interval in seconds.")
	fs.BoolVar(&o.CleanStart, "mqtt.clean-start", o.CleanStart, "Start a clean MQTT session on the first connection.")
	fs.BoolVar(&o.InsecureSkipVerify, "mqtt.insecure-skip-verify", o.InsecureSkipVerify, "If true, skips the TLS certificate verification.")

	fs.DurationVar(&o.ReconnectMinBackoff, "mqtt.reconnect-min-backoff", o.ReconnectMinBackoff, "Initial delay between reconnect attempts.")
	fs.DurationVar(&o.ReconnectMaxBackoff, "mqtt.reconnect-max-backoff", o.ReconnectMaxBackoff, "Upper bound of the reconnect delay.")
	fs.DurationVar(&o.PublishRetryTimeout, "mqtt.publish-retry-timeout", o.PublishRetryTimeout, "How long a publish waits for a lost connection before failing.")
	fs.IntVar(&o.QueueSize, "mqtt.queue-size", o.QueueSize, "Per-subscription inbound message buffer.")

	fs.StringVar(&o.TopicRoot, "mqtt.topic-root", o.TopicRoot, "Root namespace of every device topic.")
}

// UseMemoryBroker reports whether the in-process broker was requested.
func (o *MqttOptions) UseMemoryBroker() bool {
	return o.Broker == mqtt.MemoryBrokerURL
}

func (o *MqttOptions) ToClientConfig() *mqtt.ClientConfig {
	return &mqtt.ClientConfig{
		BrokerURL:           o.Broker,
		Username:            o.Username,
		Password:            o.Password,
		ClientID:            o.ClientID,
		KeepAlive:           uint16(o.KeepAlive.Seconds()),
		SessionExpiry:       o.SessionExpiry,
		ConnectTimeout:      o.ConnectTimeout,
		CleanStart:          o.CleanStart,
		InsecureSkipVerify:  o.InsecureSkipVerify,
		ReconnectMinBackoff: o.ReconnectMinBackoff,
		ReconnectMaxBackoff: o.ReconnectMaxBackoff,
		PublishRetryTimeout: o.PublishRetryTimeout,
		QueueSize:           o.QueueSize,
	}
}
