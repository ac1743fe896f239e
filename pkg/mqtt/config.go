package mqtt

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ClientConfig holds the configuration for creating a new MQTT Client.
type ClientConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// KeepAlive in seconds. Default is 60.
	KeepAlive uint16

	// ConnectTimeout for each connection attempt. Default is 5s.
	ConnectTimeout time.Duration

	// CleanStart indicates whether to start a clean session.
	CleanStart bool

	// SessionExpiry in seconds. Zero ends the session with the connection.
	SessionExpiry uint32

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool

	// ReconnectMinBackoff and ReconnectMaxBackoff bound the exponential
	// reconnect delay. Defaults are 1s and 30s.
	ReconnectMinBackoff time.Duration
	ReconnectMaxBackoff time.Duration

	// PublishRetryTimeout is how long Publish waits for a lost connection to
	// come back before failing. Zero fails immediately.
	PublishRetryTimeout time.Duration

	// QueueSize is the per-subscription delivery buffer. Default is 64.
	QueueSize int

	// Will message published by the broker if the client vanishes.
	WillTopic   string
	WillPayload []byte
	WillQoS     byte
	WillRetain  bool

	// OnConnectionChange, if set, is called on every connection state change.
	OnConnectionChange func(connected bool)
}

// setDefaultConfig applies safe default values to the configuration.
func setDefaultConfig(cfg *ClientConfig) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 60
	}

	if cfg.ReconnectMinBackoff == 0 {
		cfg.ReconnectMinBackoff = time.Second
	}
	if cfg.ReconnectMaxBackoff == 0 {
		cfg.ReconnectMaxBackoff = 30 * time.Second
	}

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
}

// Validate checks if the configuration is valid.
func (c *ClientConfig) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker url is required")
	}
	if _, err := url.Parse(c.BrokerURL); err != nil {
		return err
	}
	if c.ReconnectMaxBackoff < c.ReconnectMinBackoff {
		return fmt.Errorf("reconnect max backoff %s is below min backoff %s", c.ReconnectMaxBackoff, c.ReconnectMinBackoff)
	}
	if c.WillQoS > 2 {
		return fmt.Errorf("will qos %d out of range", c.WillQoS)
	}
	return nil
}

// reconnectBackoff doubles the delay per attempt, capped at ceiling.
func reconnectBackoff(floor, ceiling time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := floor
		for i := 0; i < attempt && d < ceiling; i++ {
			d *= 2
		}
		return min(d, ceiling)
	}
}
