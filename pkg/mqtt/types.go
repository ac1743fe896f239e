package mqtt

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotStarted is returned when an operation is attempted before Start.
	ErrNotStarted = errors.New("mqtt: client not started")

	// ErrNotConnected is returned by Publish when the broker connection is down
	// and did not come back within the publish retry window.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrInvalidTopic is returned for empty topics or filters.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)

// Message is a received MQTT publication.
// Payload is shared between every subscription the message is delivered to
// and must be treated as read-only.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      int
	Retained bool

	// MQTT v5 request/response properties. Empty when the publisher did not set them.
	CorrelationData []byte
	ResponseTopic   string
	ContentType     string

	ReceivedAt time.Time
}

// MessageHandler processes messages for one subscription.
// Handlers of the same subscription run sequentially on a dedicated goroutine,
// never on the network reader.
type MessageHandler func(ctx context.Context, msg *Message)

// PublishOptions carries optional MQTT v5 publish properties.
type PublishOptions struct {
	CorrelationData []byte
	ResponseTopic   string
	ContentType     string
}

// PublishOption mutates PublishOptions.
type PublishOption func(*PublishOptions)

// WithCorrelationData attaches MQTT v5 correlation data to the publication.
func WithCorrelationData(data []byte) PublishOption {
	return func(o *PublishOptions) { o.CorrelationData = data }
}

// WithResponseTopic sets the MQTT v5 response topic.
func WithResponseTopic(topic string) PublishOption {
	return func(o *PublishOptions) { o.ResponseTopic = topic }
}

// WithContentType sets the MQTT v5 content type.
func WithContentType(ct string) PublishOption {
	return func(o *PublishOptions) { o.ContentType = ct }
}

func buildPublishOptions(opts []PublishOption) PublishOptions {
	var o PublishOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Client defines the interface for a generic MQTT client.
// It abstracts the underlying paho implementation details.
type Client interface {
	// Start initiates the connection to the broker.
	// It is non-blocking and returns immediately. Use AwaitConnection to wait.
	Start(ctx context.Context) error

	// Disconnect cleanly closes the connection and stops every subscription.
	Disconnect(ctx context.Context)

	// Publish sends a message to the specified topic.
	// While disconnected it waits for the configured retry window and then fails
	// with ErrNotConnected; messages are never buffered.
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte, opts ...PublishOption) error

	// Subscribe registers a handler for a topic filter and returns its handle.
	// Several handles may share a filter; the broker subscription is made once
	// and reinstated automatically after a reconnect.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) (*Subscription, error)

	// Unsubscribe stops one handle. The UNSUBSCRIBE packet is sent only when the
	// last handle for the filter goes away.
	Unsubscribe(ctx context.Context, sub *Subscription) error

	// AwaitConnection blocks until the client is connected to the broker.
	AwaitConnection(ctx context.Context) error

	// IsConnected returns true if the client is currently connected.
	IsConnected() bool
}
