package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*CommandOptions)(nil)

// CommandOptions controls request/response correlation of device commands.
type CommandOptions struct {
	// DefaultTimeout applies when a request carries no timeout of its own.
	DefaultTimeout time.Duration `json:"default-timeout" mapstructure:"default-timeout"`

	// MaxTimeout caps per-request timeouts.
	MaxTimeout time.Duration `json:"max-timeout" mapstructure:"max-timeout"`

	// StaleReplyWindow is how long a timed-out command keeps claiming the
	// next uncorrelated reply from its device. Devices that do not echo
	// correlation data reject new commands as busy during that window.
	StaleReplyWindow time.Duration `json:"stale-reply-window" mapstructure:"stale-reply-window"`

	// QoS of command publishes and response subscriptions.
	QoS int `json:"qos" mapstructure:"qos"`

	// RejectOffline short-circuits commands to devices that are not online.
	RejectOffline bool `json:"reject-offline" mapstructure:"reject-offline"`

	MaxCommandBytes int `json:"max-command-bytes" mapstructure:"max-command-bytes"`
	MaxOutputBytes  int `json:"max-output-bytes" mapstructure:"max-output-bytes"`
}

func NewCommandOptions() *CommandOptions {
	return &CommandOptions{
		DefaultTimeout:   5 * time.Second,
		MaxTimeout:       60 * time.Second,
		StaleReplyWindow: 30 * time.Second,
		QoS:              1,
		RejectOffline:    true,
		MaxCommandBytes:  256,
		MaxOutputBytes:   1024,
	}
}

func (o *CommandOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.DefaultTimeout <= 0 {
		errs = append(errs, fmt.Errorf("--command.default-timeout must be positive, got %s", o.DefaultTimeout))
	}
	if o.MaxTimeout < o.DefaultTimeout {
		errs = append(errs, fmt.Errorf("--command.max-timeout %s is below --command.default-timeout %s", o.MaxTimeout, o.DefaultTimeout))
	}
	if o.StaleReplyWindow < 0 {
		errs = append(errs, fmt.Errorf("--command.stale-reply-window must not be negative"))
	}
	if o.QoS < 0 || o.QoS > 2 {
		errs = append(errs, fmt.Errorf("--command.qos must be 0, 1 or 2, got %d", o.QoS))
	}
	if o.MaxCommandBytes <= 0 {
		errs = append(errs, fmt.Errorf("--command.max-command-bytes must be positive"))
	}
	if o.MaxOutputBytes <= 0 {
		errs = append(errs, fmt.Errorf("--command.max-output-bytes must be positive"))
	}
	return errs
}

func (o *CommandOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.DefaultTimeout, "command.default-timeout", o.DefaultTimeout, "Reply timeout for commands that do not set one.")
	fs.DurationVar(&o.MaxTimeout, "command.max-timeout", o.MaxTimeout, "Largest per-command timeout a caller may request.")
	fs.DurationVar(&o.StaleReplyWindow, "command.stale-reply-window", o.StaleReplyWindow,
		"How long a timed-out command keeps absorbing the late reply it provoked.")
	fs.IntVar(&o.QoS, "command.qos", o.QoS, "MQTT QoS for command traffic.")
	fs.BoolVar(&o.RejectOffline, "command.reject-offline", o.RejectOffline, "Fail fast on commands to offline or unknown devices.")
	fs.IntVar(&o.MaxCommandBytes, "command.max-command-bytes", o.MaxCommandBytes, "Longest accepted command text.")
	fs.IntVar(&o.MaxOutputBytes, "command.max-output-bytes", o.MaxOutputBytes, "Device output beyond this size is truncated.")
}
