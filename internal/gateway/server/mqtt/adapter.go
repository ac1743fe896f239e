package mqtt

import (
	"context"

	"github.com/autopeer-io/devgate/pkg/log"
	pkgmqtt "github.com/autopeer-io/devgate/pkg/mqtt"
)

// HandlerFunc handles one inbound message. A returned error is logged.
type HandlerFunc func(ctx context.Context, msg *pkgmqtt.Message) error

// adapt turns a HandlerFunc into a subscription handler.
func adapt(topic string, h HandlerFunc) pkgmqtt.MessageHandler {
	return func(ctx context.Context, msg *pkgmqtt.Message) {
		if err := h(ctx, msg); err != nil {
			log.Warn("Handler execution failed", "topic", topic, "msgTopic", msg.Topic, "error", err)
		}
	}
}
