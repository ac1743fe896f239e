// Package presence tracks device liveness from heartbeats.
package presence

import (
	"slices"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/devgate/internal/gateway/core/model"
)

// Tracker records the last heartbeat of every device it has heard from.
// Status is derived on read, so a device goes offline without any timer
// firing. Records are never removed.
type Tracker struct {
	clock  clock.PassiveClock
	window time.Duration

	// devices maps device ID to *record. Each record has its own lock so
	// heartbeats from different devices never contend.
	devices sync.Map
}

type record struct {
	mu  sync.RWMutex
	dev model.Device
}

// NewTracker returns a tracker that considers a device online while its last
// heartbeat is younger than window. A nil clock uses wall time.
func NewTracker(window time.Duration, clk clock.PassiveClock) *Tracker {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Tracker{clock: clk, window: window}
}

// Window returns the liveness window.
func (t *Tracker) Window() time.Duration { return t.window }

// OnHeartbeat records a heartbeat. LastSeen is the gateway's receipt time;
// the device-reported timestamp is kept for display only.
func (t *Tracker) OnHeartbeat(hb model.Heartbeat) {
	if hb.DeviceID == "" {
		return
	}
	now := t.clock.Now()
	r := t.load(hb.DeviceID)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.dev.LastSeen = now
	r.dev.Heartbeats++
	if hb.Type != "" && hb.Type != model.DeviceTypeUnknown {
		r.dev.Type = hb.Type
	}
	if hb.Status != "" {
		r.dev.ReportedStatus = hb.Status
	}
	if hb.Uptime > 0 {
		r.dev.Uptime = hb.Uptime
	}
	if hb.FirmwareVersion != "" {
		r.dev.FirmwareVersion = hb.FirmwareVersion
	}
	if !hb.ReportedAt.IsZero() {
		r.dev.ReportedAt = hb.ReportedAt
	}
}

// Touch marks a device as seen now without any heartbeat details.
func (t *Tracker) Touch(deviceID string) {
	t.OnHeartbeat(model.Heartbeat{DeviceID: deviceID})
}

func (t *Tracker) load(id string) *record {
	if v, ok := t.devices.Load(id); ok {
		return v.(*record)
	}
	v, _ := t.devices.LoadOrStore(id, &record{dev: model.Device{ID: id, Type: guessType(id)}})
	return v.(*record)
}

// Status returns online, offline or unknown for never-seen IDs.
func (t *Tracker) Status(deviceID string) model.DeviceStatus {
	v, ok := t.devices.Load(deviceID)
	if !ok {
		return model.StatusUnknown
	}
	r := v.(*record)

	r.mu.RLock()
	last := r.dev.LastSeen
	r.mu.RUnlock()

	return t.statusAt(last, t.clock.Now())
}

func (t *Tracker) statusAt(last, now time.Time) model.DeviceStatus {
	if now.Sub(last) < t.window {
		return model.StatusOnline
	}
	return model.StatusOffline
}

// Get returns a snapshot of one device.
func (t *Tracker) Get(deviceID string) (model.Device, bool) {
	v, ok := t.devices.Load(deviceID)
	if !ok {
		return model.Device{ID: deviceID, Type: model.DeviceTypeUnknown, Status: model.StatusUnknown}, false
	}
	return t.snapshot(v.(*record), t.clock.Now()), true
}

func (t *Tracker) snapshot(r *record, now time.Time) model.Device {
	r.mu.RLock()
	d := r.dev
	r.mu.RUnlock()

	d.Status = t.statusAt(d.LastSeen, now)
	return d
}

// List returns every known device ordered by ID. All statuses are computed
// against the same instant.
func (t *Tracker) List() []model.Device {
	now := t.clock.Now()
	var out []model.Device
	t.devices.Range(func(_, v any) bool {
		out = append(out, t.snapshot(v.(*record), now))
		return true
	})
	slices.SortFunc(out, func(a, b model.Device) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// OnlineCount returns how many devices are currently online.
func (t *Tracker) OnlineCount() int {
	now := t.clock.Now()
	n := 0
	t.devices.Range(func(_, v any) bool {
		r := v.(*record)
		r.mu.RLock()
		last := r.dev.LastSeen
		r.mu.RUnlock()
		if t.statusAt(last, now) == model.StatusOnline {
			n++
		}
		return true
	})
	return n
}

// guessType infers the device type from the naming convention used by the
// firmware (speaker_*, sensor_*) until a heartbeat reports it.
func guessType(id string) model.DeviceType {
	lower := strings.ToLower(id)
	switch {
	case strings.HasPrefix(lower, "speaker"), strings.HasPrefix(lower, "spk"):
		return model.DeviceTypeSpeaker
	case strings.HasPrefix(lower, "sensor"):
		return model.DeviceTypeSensor
	}
	return model.DeviceTypeUnknown
}
