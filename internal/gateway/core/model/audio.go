package model

import "time"

// Audio alert parameter bounds and defaults.
const (
	DefaultPriority  = 5
	DefaultVolume    = 40
	DefaultPlayCount = 1

	MaxPriority = 255
	MaxVolume   = 100
)

// AlertParams controls how a speaker plays an alert.
type AlertParams struct {
	Priority int
	Volume   int

	// PlayCount is how many times to play; 0 repeats until interrupted.
	PlayCount int

	InterruptCurrent bool
	SaveToFile       bool
	Filename         string
}

// DefaultAlertParams returns the parameters used when a caller sets none.
func DefaultAlertParams() AlertParams {
	return AlertParams{
		Priority:  DefaultPriority,
		Volume:    DefaultVolume,
		PlayCount: DefaultPlayCount,
	}
}

// AudioAlertJob is a single alert submission. It lives for one request.
type AudioAlertJob struct {
	DeviceID  string
	Broadcast bool

	Audio    []byte
	MIMEType string

	Params AlertParams
}

// DispatchResult describes a published alert frame.
type DispatchResult struct {
	DeviceID    string    `json:"deviceId,omitempty"`
	Topic       string    `json:"topic"`
	FrameBytes  int       `json:"frameBytes"`
	HeaderBytes int       `json:"headerBytes"`
	OpusBytes   int       `json:"opusBytes"`
	ArchiveKey  string    `json:"archiveKey,omitempty"`
	ArchiveURL  string    `json:"archiveUrl,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
}
