package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/autopeer-io/devgate/pkg/log"
)

type pahoClient struct {
	cfg *ClientConfig

	mu sync.RWMutex
	cm *autopaho.ConnectionManager

	connected atomic.Bool
	subs      *registry
}

var _ Client = (*pahoClient)(nil)

// NewClient creates a new MQTT client backed by the paho autopaho connection manager.
func NewClient(cfg *ClientConfig) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt config is required")
	}

	setDefaultConfig(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	return &pahoClient{
		cfg:  cfg,
		subs: newRegistry(cfg.QueueSize),
	}, nil
}

func (c *pahoClient) Start(ctx context.Context) error {
	brokerURL, _ := url.Parse(c.cfg.BrokerURL) // Already validated

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     c.cfg.KeepAlive,
		CleanStartOnInitialConnection: c.cfg.CleanStart,
		SessionExpiryInterval:         c.cfg.SessionExpiry,
		ReconnectBackoff:              reconnectBackoff(c.cfg.ReconnectMinBackoff, c.cfg.ReconnectMaxBackoff),
		ConnectTimeout:                c.cfg.ConnectTimeout,
		ConnectUsername:               c.cfg.Username,
		ConnectPassword:               []byte(c.cfg.Password),
		TlsCfg: &tls.Config{
			InsecureSkipVerify: c.cfg.InsecureSkipVerify,
		},
		WillMessage: c.willMessage(),
		ClientConfig: paho.ClientConfig{
			ClientID:           c.cfg.ClientID,
			OnClientError:      c.onClientError,
			OnServerDisconnect: c.onServerDisconnect,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				c.router,
			},
		},
		OnConnectionUp: c.onConnectionUp,
		OnConnectError: c.onConnectError,
	}

	log.Info("Starting MQTT client", "broker", c.cfg.BrokerURL, "clientID", c.cfg.ClientID)

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.cm = cm
	c.mu.Unlock()

	go func() {
		<-cm.Done()
		c.setConnected(false)
	}()
	return nil
}

func (c *pahoClient) manager() (*autopaho.ConnectionManager, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cm == nil {
		return nil, ErrNotStarted
	}
	return c.cm, nil
}

func (c *pahoClient) Disconnect(ctx context.Context) {
	c.subs.closeAll()

	cm, err := c.manager()
	if err != nil {
		return
	}
	if err := cm.Disconnect(ctx); err != nil {
		log.Warn("MQTT disconnect returned an error", "error", err)
	}
	c.setConnected(false)
	log.Info("MQTT client disconnected")
}

func (c *pahoClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte, opts ...PublishOption) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	cm, err := c.manager()
	if err != nil {
		return err
	}
	if err := awaitConnected(ctx, c.cfg.PublishRetryTimeout, c.IsConnected); err != nil {
		return err
	}

	po := buildPublishOptions(opts)
	pub := &paho.Publish{
		Topic:   topic,
		QoS:     byte(qos),
		Retain:  retain,
		Payload: payload,
	}
	if po.CorrelationData != nil || po.ResponseTopic != "" || po.ContentType != "" {
		pub.Properties = &paho.PublishProperties{
			CorrelationData: po.CorrelationData,
			ResponseTopic:   po.ResponseTopic,
			ContentType:     po.ContentType,
		}
	}

	if _, err := cm.Publish(ctx, pub); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (c *pahoClient) Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) (*Subscription, error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}
	cm, err := c.manager()
	if err != nil {
		return nil, err
	}

	// Register first so a reconnect between here and the SUBSCRIBE packet
	// still picks the filter up.
	sub, first := c.subs.add(topic, qos, handler)
	if !first {
		return sub, nil
	}

	if !c.IsConnected() {
		log.Debug("MQTT subscription deferred until connected", "topic", topic)
		return sub, nil
	}

	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: topic, QoS: byte(qos)},
		},
	}); err != nil {
		c.subs.remove(sub)
		return nil, fmt.Errorf("failed to send subscription packet: %w", err)
	}

	log.Debug("Subscribed to topic", "topic", topic)
	return sub, nil
}

func (c *pahoClient) Unsubscribe(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return nil
	}
	cm, err := c.manager()
	if err != nil {
		return err
	}

	last, found := c.subs.remove(sub)
	if !found || !last || !c.IsConnected() {
		return nil
	}

	if _, err := cm.Unsubscribe(ctx, &paho.Unsubscribe{
		Topics: []string{sub.filter},
	}); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.filter, err)
	}
	log.Debug("Unsubscribed from topic", "topic", sub.filter)
	return nil
}

func (c *pahoClient) AwaitConnection(ctx context.Context) error {
	cm, err := c.manager()
	if err != nil {
		return err
	}
	return cm.AwaitConnection(ctx)
}

func (c *pahoClient) IsConnected() bool {
	return c.connected.Load()
}

func (c *pahoClient) setConnected(v bool) {
	if c.connected.Swap(v) != v && c.cfg.OnConnectionChange != nil {
		c.cfg.OnConnectionChange(v)
	}
}

// onConnectionUp is called when the connection is established or re-established.
func (c *pahoClient) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	log.Info("MQTT connection established")
	c.setConnected(true)

	filters := c.subs.filters()
	if len(filters) == 0 {
		return
	}

	req := &paho.Subscribe{}
	for topic, qos := range filters {
		req.Subscriptions = append(req.Subscriptions, paho.SubscribeOptions{Topic: topic, QoS: byte(qos)})
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()
	if _, err := cm.Subscribe(ctx, req); err != nil {
		log.Error(err, "Failed to re-subscribe", "count", len(req.Subscriptions))
		return
	}
	log.Info("Re-subscribed after connect", "count", len(req.Subscriptions))
}

func (c *pahoClient) onConnectError(err error) {
	c.setConnected(false)
	log.Error(err, "MQTT connection failed, retrying")
}

func (c *pahoClient) onClientError(err error) {
	c.setConnected(false)
	log.Error(err, "MQTT client internal error")
}

func (c *pahoClient) onServerDisconnect(d *paho.Disconnect) {
	c.setConnected(false)
	reason := ""
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	log.Warn("MQTT server requested disconnect", "code", d.ReasonCode, "reason", reason)
}

// router hands inbound publications to the matching subscription queues.
// It never runs handler code itself.
func (c *pahoClient) router(p paho.PublishReceived) (bool, error) {
	pkt := p.Packet
	msg := &Message{
		Topic:      pkt.Topic,
		Payload:    pkt.Payload,
		QoS:        int(pkt.QoS),
		Retained:   pkt.Retain,
		ReceivedAt: time.Now(),
	}
	if pkt.Properties != nil {
		msg.CorrelationData = pkt.Properties.CorrelationData
		msg.ResponseTopic = pkt.Properties.ResponseTopic
		msg.ContentType = pkt.Properties.ContentType
	}

	if !c.subs.dispatch(msg) {
		log.Debug("Received message on unhandled topic", "topic", pkt.Topic)
	}

	return true, nil
}

func (c *pahoClient) willMessage() *paho.WillMessage {
	if c.cfg.WillTopic == "" {
		return nil
	}
	return &paho.WillMessage{
		Topic:   c.cfg.WillTopic,
		Payload: c.cfg.WillPayload,
		QoS:     c.cfg.WillQoS,
		Retain:  c.cfg.WillRetain,
	}
}
