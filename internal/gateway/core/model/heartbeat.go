package model

import "time"

// Heartbeat is one liveness report from a device.
type Heartbeat struct {
	DeviceID        string
	Type            DeviceType
	Status          string
	Uptime          int64
	FirmwareVersion string

	// ReportedAt is the device clock, zero when absent. Liveness never uses it.
	ReportedAt time.Time
}
