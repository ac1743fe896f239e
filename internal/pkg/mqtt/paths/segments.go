package paths

// Topic segments shared between the gateway and device firmware.
// Changing any of them breaks devices already in the field.

// Downstream: gateway -> device
const (
	// CLICommand carries a plain-text console command.
	// Pattern: {root}/{deviceID}/cli/command
	CLICommand = "cli/command"

	// Audio carries a framed audio alert for a single speaker.
	// Payload: JSON header immediately followed by raw Opus bytes.
	// Pattern: {root}/audio/{deviceID}
	Audio = "audio"

	// AudioBroadcast is the device ID slot used for alerts addressed to every speaker.
	// Pattern: {root}/audio/broadcast
	AudioBroadcast = "broadcast"
)

// Upstream: device -> gateway
const (
	// CLIResponse carries the textual output of the last console command.
	// Pattern: {root}/{deviceID}/cli/response
	CLIResponse = "cli/response"

	// Heartbeat is the liveness report. Firmware publishes it either on the
	// shared topic {root}/heartbeat or on {root}/{deviceID}/heartbeat.
	// Payload: { "device_id": "...", "timestamp": ..., "status": "online", "uptime": 123 }
	Heartbeat = "heartbeat"
)
