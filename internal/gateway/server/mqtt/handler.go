package mqtt

import (
	"context"
	"fmt"

	"github.com/autopeer-io/devgate/internal/gateway/core/model"
	"github.com/autopeer-io/devgate/internal/gateway/presence"
	"github.com/autopeer-io/devgate/internal/pkg/metrics"
	"github.com/autopeer-io/devgate/pkg/log"
	pkgmqtt "github.com/autopeer-io/devgate/pkg/mqtt"
)

// HeartbeatSink receives decoded heartbeats.
type HeartbeatSink interface {
	OnHeartbeat(hb model.Heartbeat)
	Touch(deviceID string)
}

// handleHeartbeat feeds a heartbeat into the presence tracker. On a per-device
// topic a payload that is not a JSON heartbeat still counts as a sign of life.
func (s *Server) handleHeartbeat(_ context.Context, msg *pkgmqtt.Message) error {
	topicID, ok := s.topics.DeviceFromHeartbeat(msg.Topic)
	if !ok && msg.Topic != s.topics.Heartbeat() {
		// Matched the wildcard but is not a heartbeat, e.g. {root}/audio/heartbeat.
		log.Debug("Ignoring non-heartbeat topic", "topic", msg.Topic)
		return nil
	}

	hb, err := presence.DecodeHeartbeat(msg.Payload, topicID)
	if err != nil {
		if topicID != "" {
			s.sink.Touch(topicID)
			metrics.HeartbeatsTotal.WithLabelValues("touched").Inc()
			return nil
		}
		metrics.HeartbeatsTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("drop heartbeat: %w", err)
	}

	s.sink.OnHeartbeat(hb)
	metrics.HeartbeatsTotal.WithLabelValues("accepted").Inc()
	log.Debug("Heartbeat received", "device", hb.DeviceID, "status", hb.Status, "uptime", hb.Uptime)
	return nil
}
