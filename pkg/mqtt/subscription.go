package mqtt

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/autopeer-io/devgate/pkg/log"
)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id      uint64
	filter  string
	match   string
	qos     int
	handler MessageHandler

	queue   chan *Message
	ctx     context.Context
	cancel  context.CancelFunc
	dropped atomic.Uint64
}

// Topic returns the topic filter the subscription was made with.
func (s *Subscription) Topic() string { return s.filter }

// Dropped reports how many messages were discarded because the queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.queue:
			s.handle(msg)
		}
	}
}

func (s *Subscription) handle(msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(nil, "MQTT handler panicked", "topic", msg.Topic, "filter", s.filter, "panic", r)
		}
	}()
	s.handler(s.ctx, msg)
}

// registry tracks handles per topic filter. It is shared by the paho client
// and the in-memory broker.
type registry struct {
	mu        sync.RWMutex
	nextID    uint64
	byFilter  map[string]map[uint64]*Subscription
	queueSize int
}

func newRegistry(queueSize int) *registry {
	return &registry{
		byFilter:  make(map[string]map[uint64]*Subscription),
		queueSize: queueSize,
	}
}

// add registers a handle and starts its dispatch goroutine.
// first is true when no other handle exists for the filter.
func (r *registry) add(filter string, qos int, handler MessageHandler) (sub *Subscription, first bool) {
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.nextID++
	sub = &Subscription{
		id:      r.nextID,
		filter:  filter,
		match:   topicFilter(filter),
		qos:     qos,
		handler: handler,
		queue:   make(chan *Message, r.queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	subs, ok := r.byFilter[filter]
	if !ok {
		subs = make(map[uint64]*Subscription)
		r.byFilter[filter] = subs
	}
	first = len(subs) == 0
	subs[sub.id] = sub
	r.mu.Unlock()

	go sub.run()
	return sub, first
}

// remove stops a handle. last is true when it was the final handle for its
// filter; found is false for handles that were already removed.
func (r *registry) remove(sub *Subscription) (last, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.byFilter[sub.filter]
	if !ok {
		return false, false
	}
	if _, ok := subs[sub.id]; !ok {
		return false, false
	}
	delete(subs, sub.id)
	sub.cancel()

	if len(subs) == 0 {
		delete(r.byFilter, sub.filter)
		return true, true
	}
	return false, true
}

// filters returns every active filter with the highest QoS requested for it.
func (r *registry) filters() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.byFilter))
	for filter, subs := range r.byFilter {
		for _, s := range subs {
			if q, ok := out[filter]; !ok || s.qos > q {
				out[filter] = s.qos
			}
		}
	}
	return out
}

// dispatch queues msg on every matching handle without blocking.
func (r *registry) dispatch(msg *Message) (matched bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, subs := range r.byFilter {
		for _, s := range subs {
			if !TopicMatches(s.match, msg.Topic) {
				continue
			}
			matched = true
			select {
			case s.queue <- msg:
			default:
				s.dropped.Add(1)
				log.Warn("MQTT subscription queue full, dropping message", "topic", msg.Topic, "filter", s.filter)
			}
		}
	}
	return matched
}

func (r *registry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for filter, subs := range r.byFilter {
		for _, s := range subs {
			s.cancel()
		}
		delete(r.byFilter, filter)
	}
}
