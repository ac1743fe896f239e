package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*PresenceOptions)(nil)

// PresenceOptions controls heartbeat-based liveness.
type PresenceOptions struct {
	// LivenessWindow is how long after its last heartbeat a device still counts as online.
	LivenessWindow time.Duration `json:"liveness-window" mapstructure:"liveness-window"`
}

func NewPresenceOptions() *PresenceOptions {
	return &PresenceOptions{LivenessWindow: 60 * time.Second}
}

func (o *PresenceOptions) Validate() []error {
	if o == nil {
		return nil
	}
	if o.LivenessWindow <= 0 {
		return []error{fmt.Errorf("--presence.liveness-window must be positive, got %s", o.LivenessWindow)}
	}
	return nil
}

func (o *PresenceOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.LivenessWindow, "presence.liveness-window", o.LivenessWindow, "A device is online if its last heartbeat is at most this old.")
}
