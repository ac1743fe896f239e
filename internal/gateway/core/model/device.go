package model

import "time"

// DeviceType is the kind of hardware behind a device ID.
type DeviceType string

const (
	DeviceTypeSpeaker DeviceType = "speaker"
	DeviceTypeSensor  DeviceType = "sensor"
	DeviceTypeUnknown DeviceType = "unknown"
)

// ParseDeviceType maps a reported type string onto a known DeviceType.
func ParseDeviceType(s string) DeviceType {
	switch DeviceType(s) {
	case DeviceTypeSpeaker, DeviceTypeSensor:
		return DeviceType(s)
	}
	return DeviceTypeUnknown
}

// DeviceStatus is derived from the age of the last heartbeat; it is never stored.
type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
	StatusUnknown DeviceStatus = "unknown"
)

// Device is a point-in-time view of a tracked device.
type Device struct {
	ID       string       `json:"deviceId"`
	Type     DeviceType   `json:"type"`
	Status   DeviceStatus `json:"status"`
	LastSeen time.Time    `json:"lastSeen"`

	// Details from the most recent heartbeat.
	ReportedStatus  string    `json:"reportedStatus,omitempty"`
	Uptime          int64     `json:"uptime,omitempty"`
	FirmwareVersion string    `json:"firmwareVersion,omitempty"`
	ReportedAt      time.Time `json:"reportedAt,omitzero"`
	Heartbeats      uint64    `json:"heartbeats"`
}

// Online reports whether the device was online when the view was taken.
func (d *Device) Online() bool { return d.Status == StatusOnline }
