package topic

import (
	"errors"
	"fmt"
	"strings"

	"github.com/autopeer-io/devgate/internal/pkg/mqtt/paths"
)

// DefaultRoot is the namespace used by the deployed firmware.
const DefaultRoot = "rapidreach"

// TopicBuilder encapsulates the logic for constructing MQTT topic strings.
type TopicBuilder struct {
	// root is the base namespace for all topics (e.g., "rapidreach").
	root string
}

// NewTopicBuilder creates a new instance of TopicBuilder with the specified root namespace.
func NewTopicBuilder(root string) *TopicBuilder {
	if root == "" {
		root = DefaultRoot
	}
	return &TopicBuilder{root: strings.TrimSuffix(root, "/")}
}

// Root returns the namespace the builder was created with.
func (b *TopicBuilder) Root() string { return b.root }

// Command returns the topic a device listens on for console commands.
// Direction: Gateway -> Device
func (b *TopicBuilder) Command(deviceID string) string {
	return b.device(deviceID, paths.CLICommand)
}

// Response returns the topic a device publishes command output on.
// Direction: Device -> Gateway
func (b *TopicBuilder) Response(deviceID string) string {
	return b.device(deviceID, paths.CLIResponse)
}

// Heartbeat returns the shared heartbeat topic.
// Direction: Device -> Gateway
func (b *TopicBuilder) Heartbeat() string {
	return b.root + "/" + paths.Heartbeat
}

// DeviceHeartbeat returns the per-device heartbeat topic.
func (b *TopicBuilder) DeviceHeartbeat(deviceID string) string {
	return b.device(deviceID, paths.Heartbeat)
}

// DeviceHeartbeatWildcard matches every per-device heartbeat topic.
// Result: {root}/+/heartbeat
func (b *TopicBuilder) DeviceHeartbeatWildcard() string {
	return b.device(Wildcard, paths.Heartbeat)
}

// Audio returns the audio alert topic of one speaker.
// Direction: Gateway -> Device
func (b *TopicBuilder) Audio(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, paths.Audio, deviceID)
}

// AudioBroadcast returns the audio alert topic every speaker subscribes to.
func (b *TopicBuilder) AudioBroadcast() string {
	return b.Audio(paths.AudioBroadcast)
}

// DeviceFromHeartbeat extracts the device ID from a per-device heartbeat topic.
// It returns false for the shared topic and for unrelated topics, including
// {root}/audio/heartbeat, which is the alert topic of a speaker named
// "heartbeat" rather than a heartbeat of a device named "audio".
func (b *TopicBuilder) DeviceFromHeartbeat(t string) (string, bool) {
	rest, ok := strings.CutPrefix(t, b.root+"/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/"+paths.Heartbeat)
	if !ok || id == "" || id == paths.Audio || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// device builds {root}/{id}/{suffix}.
func (b *TopicBuilder) device(id, suffix string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, id, suffix)
}

var errEmptySegment = errors.New("topic segment is empty")

// ValidateSegment checks that s can be used as a single topic level.
func ValidateSegment(s string) error {
	if s == "" {
		return errEmptySegment
	}
	if strings.ContainsAny(s, "/"+Wildcard+MultiWildcard+"\x00") {
		return fmt.Errorf("topic segment %q contains '/', a wildcard or NUL", s)
	}
	return nil
}
