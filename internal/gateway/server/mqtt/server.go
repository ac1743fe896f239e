package mqtt

import (
	"context"
	"fmt"
	"time"

	"github.com/autopeer-io/devgate/pkg/log"
	pkgmqtt "github.com/autopeer-io/devgate/pkg/mqtt"
	"github.com/autopeer-io/devgate/pkg/mqtt/topic"
)

const heartbeatQoS = 0

// Server owns the broker connection and the device-to-gateway ingress
// subscriptions. Command replies are subscribed by the correlator itself.
type Server struct {
	client pkgmqtt.Client
	topics *topic.TopicBuilder
	sink   HeartbeatSink

	// OnStop runs after ctx is done and before the client disconnects.
	OnStop func()
}

// NewServer creates the MQTT ingress server.
func NewServer(client pkgmqtt.Client, builder *topic.TopicBuilder, sink HeartbeatSink) *Server {
	return &Server{
		client: client,
		topics: builder,
		sink:   sink,
	}
}

// Start connects to the broker, subscribes to heartbeats and blocks until ctx
// is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.client.Start(ctx); err != nil {
		return err
	}

	defer func() {
		if s.OnStop != nil {
			s.OnStop()
		}
		log.Info("Disconnecting MQTT client...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.client.Disconnect(shutdownCtx)
	}()

	// Subscriptions are registered before the first connect so they are sent
	// with the initial (re)subscribe.
	if err := s.initSubscriptions(ctx); err != nil {
		return err
	}

	log.Info("Waiting for MQTT connection...")
	if err := s.client.AwaitConnection(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	log.Info("MQTT Connected")

	<-ctx.Done()
	return nil
}

func (s *Server) initSubscriptions(ctx context.Context) error {
	subscriptions := map[string]HandlerFunc{
		s.topics.Heartbeat():               s.handleHeartbeat,
		s.topics.DeviceHeartbeatWildcard(): s.handleHeartbeat,
	}

	for fullTopic, handler := range subscriptions {
		if _, err := s.client.Subscribe(ctx, fullTopic, heartbeatQoS, adapt(fullTopic, handler)); err != nil {
			return fmt.Errorf("failed to subscribe to topic: %s, err: %w", fullTopic, err)
		}
	}
	return nil
}
