package topic

// Standard MQTT wildcard definitions.
const (
	// Wildcard matches exactly one topic level.
	// Example: "rapidreach/+/heartbeat" matches "rapidreach/spk-01/heartbeat".
	Wildcard = "+"

	// MultiWildcard matches the current level and all subsequent levels.
	// It must be the last character in the topic filter.
	MultiWildcard = "#"
)
