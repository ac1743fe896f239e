package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryBrokerURL selects the in-process broker instead of a network broker.
const MemoryBrokerURL = "memory://"

// MemoryBroker is an in-process MQTT broker. Clients created from it behave
// like network clients: deliveries are asynchronous, subscriptions survive a
// simulated outage and publishing fails while a client is disconnected.
// Retained messages and QoS semantics are not modelled.
type MemoryBroker struct {
	mu      sync.RWMutex
	clients map[*MemoryClient]struct{}
	now     func() time.Time
}

// NewMemoryBroker returns an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		clients: make(map[*MemoryClient]struct{}),
		now:     time.Now,
	}
}

// NewClient returns a client attached to the broker. It connects on Start.
func (b *MemoryBroker) NewClient(cfg *ClientConfig) *MemoryClient {
	if cfg == nil {
		cfg = &ClientConfig{BrokerURL: MemoryBrokerURL}
	}
	setDefaultConfig(cfg)

	c := &MemoryClient{
		broker:    b,
		cfg:       cfg,
		subs:      newRegistry(cfg.QueueSize),
		connectCh: make(chan struct{}),
	}
	return c
}

func (b *MemoryBroker) attach(c *MemoryClient) {
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
}

func (b *MemoryBroker) detach(c *MemoryClient) {
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
}

func (b *MemoryBroker) route(topic string, qos int, retain bool, payload []byte, po PublishOptions) {
	// Copy so a publisher reusing its buffer cannot race with receivers.
	body := append([]byte(nil), payload...)
	msg := &Message{
		Topic:           topic,
		Payload:         body,
		QoS:             qos,
		Retained:        retain,
		CorrelationData: po.CorrelationData,
		ResponseTopic:   po.ResponseTopic,
		ContentType:     po.ContentType,
		ReceivedAt:      b.now(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.clients {
		if c.IsConnected() {
			c.subs.dispatch(msg)
		}
	}
}

// MemoryClient is a Client attached to a MemoryBroker.
type MemoryClient struct {
	broker *MemoryBroker
	cfg    *ClientConfig
	subs   *registry

	started   atomic.Bool
	connected atomic.Bool

	mu        sync.Mutex
	connectCh chan struct{}
}

var _ Client = (*MemoryClient)(nil)

func (c *MemoryClient) Start(_ context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("mqtt: client already started")
	}
	c.broker.attach(c)
	c.SetConnected(true)
	return nil
}

func (c *MemoryClient) Disconnect(_ context.Context) {
	c.subs.closeAll()
	c.broker.detach(c)
	c.SetConnected(false)
}

// SetConnected simulates the broker connection going down or coming back.
func (c *MemoryClient) SetConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected.Swap(v) == v {
		return
	}
	if v {
		close(c.connectCh)
	} else {
		c.connectCh = make(chan struct{})
	}
	if c.cfg.OnConnectionChange != nil {
		c.cfg.OnConnectionChange(v)
	}
}

func (c *MemoryClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte, opts ...PublishOption) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.started.Load() {
		return ErrNotStarted
	}
	if err := awaitConnected(ctx, c.cfg.PublishRetryTimeout, c.IsConnected); err != nil {
		return err
	}
	c.broker.route(topic, qos, retain, payload, buildPublishOptions(opts))
	return nil
}

func (c *MemoryClient) Subscribe(_ context.Context, topic string, qos int, handler MessageHandler) (*Subscription, error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}
	if !c.started.Load() {
		return nil, ErrNotStarted
	}
	sub, _ := c.subs.add(topic, qos, handler)
	return sub, nil
}

func (c *MemoryClient) Unsubscribe(_ context.Context, sub *Subscription) error {
	if sub == nil {
		return nil
	}
	c.subs.remove(sub)
	return nil
}

// ActiveFilters returns the number of distinct topic filters with live handles.
func (c *MemoryClient) ActiveFilters() int {
	return len(c.subs.filters())
}

func (c *MemoryClient) AwaitConnection(ctx context.Context) error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	c.mu.Lock()
	ch := c.connectCh
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *MemoryClient) IsConnected() bool {
	return c.connected.Load()
}
