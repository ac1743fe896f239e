// Package correlator turns the fire-and-forget command topic of a device into
// a request/response call with a deadline.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/devgate/internal/gateway/core"
	"github.com/autopeer-io/devgate/internal/gateway/core/model"
	"github.com/autopeer-io/devgate/internal/pkg/metrics"
	"github.com/autopeer-io/devgate/pkg/log"
	"github.com/autopeer-io/devgate/pkg/mqtt"
	"github.com/autopeer-io/devgate/pkg/mqtt/topic"
)

const opExecute = "execute command"

// MinTimeout is the smallest per-request timeout accepted.
const MinTimeout = time.Millisecond

// PresenceChecker reports device liveness.
type PresenceChecker interface {
	Status(deviceID string) model.DeviceStatus
}

// Config wires a Correlator.
type Config struct {
	Client   mqtt.Client
	Topics   *topic.TopicBuilder
	Presence PresenceChecker

	// Clock defaults to wall time.
	Clock  clock.WithDelayedExecution
	Logger log.Logger

	DefaultTimeout   time.Duration
	MaxTimeout       time.Duration
	StaleReplyWindow time.Duration
	QoS              int
	RejectOffline    bool
	MaxCommandBytes  int
	MaxOutputBytes   int
}

// Correlator publishes commands and matches device replies to them.
// At most one command per device is outstanding; a second one is rejected
// with core.ErrDeviceBusy. A device that has never echoed correlation data
// also stays busy while a timed-out command may still be answered, since an
// unkeyed reply could not be told apart from the answer to a new command.
type Correlator struct {
	cfg    Config
	client mqtt.Client
	topics *topic.TopicBuilder
	clock  clock.WithDelayedExecution
	log    log.Logger

	store store
}

// New validates cfg and returns a Correlator.
func New(cfg Config) (*Correlator, error) {
	if cfg.Client == nil {
		return nil, errors.New("correlator: mqtt client is required")
	}
	if cfg.Topics == nil {
		cfg.Topics = topic.NewTopicBuilder(topic.DefaultRoot)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithName("correlator")
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Second
	}
	if cfg.MaxTimeout < cfg.DefaultTimeout {
		cfg.MaxTimeout = max(60*time.Second, cfg.DefaultTimeout)
	}
	if cfg.MaxCommandBytes <= 0 {
		cfg.MaxCommandBytes = 256
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 1024
	}

	return &Correlator{
		cfg:    cfg,
		client: cfg.Client,
		topics: cfg.Topics,
		clock:  cfg.Clock,
		log:    cfg.Logger,
	}, nil
}

// Execute publishes req.Command to the device and waits for its reply.
//
// The returned response is never nil. On failure it carries the same error
// that is returned, classified as one of the core error kinds. Cancelling ctx
// is treated like the timeout expiring.
func (c *Correlator) Execute(ctx context.Context, req model.CommandRequest) (*model.CommandResponse, error) {
	resp := &model.CommandResponse{
		DeviceID:  req.DeviceID,
		Command:   req.Command,
		Timestamp: c.clock.Now(),
	}

	timeout, err := c.validate(req)
	if err != nil {
		return c.reject(resp, err)
	}
	if err := c.checkPresence(req); err != nil {
		return c.reject(resp, err)
	}

	slot, p, err := c.register(ctx, req.DeviceID, timeout)
	if err != nil {
		return c.reject(resp, err)
	}

	metrics.PendingCommands.Inc()
	defer metrics.PendingCommands.Dec()

	logger := c.log.WithValues("device", req.DeviceID, "generation", p.key.Generation)
	logger.Debug("Publishing command", "command", req.Command, "timeout", timeout)

	err = c.client.Publish(ctx, c.topics.Command(req.DeviceID), c.cfg.QoS, false, []byte(req.Command),
		mqtt.WithCorrelationData(p.key.Bytes()),
		mqtt.WithResponseTopic(c.topics.Response(req.DeviceID)),
		mqtt.WithContentType("text/plain"),
	)
	if err != nil {
		c.terminate(slot, p, eventFail, core.E(core.KindTransport, opExecute, req.DeviceID, err))
	} else {
		c.await(ctx, slot, p, timeout)
	}
	<-p.done

	resp.Timestamp = p.resolvedAt
	resp.ExecutionTime = p.elapsed()

	outcome := "success"
	if p.err != nil {
		resp.Err = p.err
		outcome = string(core.KindOf(p.err))
		logger.Info("Command failed", "state", p.state(), "elapsed", resp.ExecutionTime, "error", p.err)
	} else {
		resp.Success = true
		resp.Output, resp.Truncated = truncate(p.output, c.cfg.MaxOutputBytes)
		logger.Debug("Command resolved", "elapsed", resp.ExecutionTime, "bytes", len(p.output))
	}
	metrics.CommandsTotal.WithLabelValues(outcome).Inc()
	metrics.CommandDuration.WithLabelValues(outcome).Observe(resp.ExecutionTime.Seconds())

	return resp, resp.Err
}

func (c *Correlator) reject(resp *model.CommandResponse, err error) (*model.CommandResponse, error) {
	resp.Err = err
	metrics.CommandsTotal.WithLabelValues(string(core.KindOf(err))).Inc()
	c.log.Debug("Command rejected", "device", resp.DeviceID, "error", err)
	return resp, err
}

func (c *Correlator) validate(req model.CommandRequest) (time.Duration, error) {
	if err := topic.ValidateSegment(req.DeviceID); err != nil {
		return 0, core.E(core.KindValidation, opExecute, req.DeviceID, fmt.Errorf("device id: %w", err))
	}
	if strings.TrimSpace(req.Command) == "" {
		return 0, core.Errorf(core.KindValidation, opExecute, req.DeviceID, "command is empty")
	}
	if len(req.Command) > c.cfg.MaxCommandBytes {
		return 0, core.Errorf(core.KindValidation, opExecute, req.DeviceID,
			"command is %d bytes, limit is %d", len(req.Command), c.cfg.MaxCommandBytes)
	}
	if strings.ContainsRune(req.Command, 0) {
		return 0, core.Errorf(core.KindValidation, opExecute, req.DeviceID, "command contains NUL")
	}

	timeout := req.Timeout
	switch {
	case timeout == 0:
		timeout = c.cfg.DefaultTimeout
	case timeout < MinTimeout || timeout > c.cfg.MaxTimeout:
		return 0, core.Errorf(core.KindValidation, opExecute, req.DeviceID,
			"timeout %s outside [%s, %s]", timeout, MinTimeout, c.cfg.MaxTimeout)
	}
	return timeout, nil
}

func (c *Correlator) checkPresence(req model.CommandRequest) error {
	if req.Force || !c.cfg.RejectOffline || c.cfg.Presence == nil {
		return nil
	}
	switch c.cfg.Presence.Status(req.DeviceID) {
	case model.StatusUnknown:
		return core.E(core.KindNotFound, opExecute, req.DeviceID, nil)
	case model.StatusOffline:
		return core.E(core.KindOffline, opExecute, req.DeviceID, nil)
	}
	return nil
}

// register claims the device slot and makes sure the response topic is
// subscribed before anything is published.
func (c *Correlator) register(ctx context.Context, deviceID string, timeout time.Duration) (*deviceSlot, *pendingRequest, error) {
	slot := c.store.slot(deviceID)

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.live != nil {
		return nil, nil, core.E(core.KindBusy, opExecute, deviceID,
			fmt.Errorf("%w: generation %d still awaiting a reply", core.ErrDeviceBusy, slot.live.key.Generation))
	}
	if len(slot.stale) > 0 && !slot.keyed {
		return nil, nil, core.E(core.KindBusy, opExecute, deviceID,
			fmt.Errorf("%w: reply to timed-out generation %d may still arrive", core.ErrDeviceBusy, slot.stale[0].key.Generation))
	}

	slot.generation++
	p := newPendingRequest(newKey(c.topics.Root(), deviceID, slot.generation), c.clock.Now(), timeout)
	if ok, err := p.dispatch(); !ok || err != nil {
		return nil, nil, core.E(core.KindInternal, opExecute, deviceID, fmt.Errorf("dispatch pending request: %v", err))
	}

	if slot.sub == nil {
		sub, err := c.client.Subscribe(ctx, c.topics.Response(deviceID), c.cfg.QoS, c.replyHandler(slot))
		if err != nil {
			return nil, nil, core.E(core.KindTransport, opExecute, deviceID, fmt.Errorf("subscribe to responses: %w", err))
		}
		slot.sub = sub
	}

	slot.live = p
	return slot, p, nil
}

func (c *Correlator) await(ctx context.Context, slot *deviceSlot, p *pendingRequest, timeout time.Duration) {
	timer := c.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C():
		c.terminate(slot, p, eventExpire, core.Errorf(core.KindTimeout, opExecute, slot.id, "no reply within %s", timeout))
	case <-ctx.Done():
		c.terminate(slot, p, eventExpire, core.E(core.KindTimeout, opExecute, slot.id, ctx.Err()))
	}
}

// terminate resolves p with a failure unless something else resolved it first.
func (c *Correlator) terminate(slot *deviceSlot, p *pendingRequest, event string, cause error) {
	now := c.clock.Now()

	slot.mu.Lock()
	defer slot.mu.Unlock()

	var won bool
	var err error
	switch event {
	case eventExpire:
		won, err = p.expire(cause, now)
	default:
		won, err = p.fail(cause, now)
	}
	if err != nil {
		c.log.Error(err, "Pending request transition failed", "device", slot.id, "event", event, "state", p.state())
		// Never leave the caller hanging on a broken transition.
		p.settle("", core.E(core.KindInternal, opExecute, slot.id, err), now)
		won = true
	}
	if !won {
		return
	}
	c.detach(slot, p, event == eventExpire)
}

// detach clears p from the slot. A timed-out request stays on the stale list
// so the reply it provoked cannot resolve a later command. Caller holds slot.mu.
func (c *Correlator) detach(slot *deviceSlot, p *pendingRequest, timedOut bool) {
	if slot.live == p {
		slot.live = nil
	}

	if timedOut && c.cfg.StaleReplyWindow > 0 {
		entry := &staleReply{key: p.key}
		entry.timer = c.clock.AfterFunc(c.cfg.StaleReplyWindow, func() { c.forgetStale(slot, entry.key) })
		slot.stale = append(slot.stale, entry)
	}

	c.releaseIfIdle(slot)
}

func (c *Correlator) forgetStale(slot *deviceSlot, key CorrelationKey) {
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if _, ok := slot.takeStale(&key); ok {
		c.log.Debug("Stale reply window closed", "device", slot.id, "generation", key.Generation)
	}
	c.releaseIfIdle(slot)
}

// releaseIfIdle drops the response subscription once nothing on the device
// can still receive a reply. Caller holds slot.mu.
func (c *Correlator) releaseIfIdle(slot *deviceSlot) {
	if !slot.idle() || slot.sub == nil {
		return
	}
	sub := slot.sub
	slot.sub = nil

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.client.Unsubscribe(ctx, sub); err != nil {
		c.log.Warn("Failed to release response subscription", "device", slot.id, "error", err)
	}
}

// replyHandler consumes the device's response topic. Keyed replies are
// matched by correlation data. An unkeyed reply goes to the oldest timed-out
// command still inside its stale window, else to the live command; register
// keeps the two from coexisting for devices that do not echo keys.
func (c *Correlator) replyHandler(slot *deviceSlot) mqtt.MessageHandler {
	return func(_ context.Context, msg *mqtt.Message) {
		now := c.clock.Now()
		output := strings.TrimRight(string(msg.Payload), "\x00")

		slot.mu.Lock()
		defer slot.mu.Unlock()

		if len(msg.CorrelationData) > 0 {
			if key, err := ParseKey(string(msg.CorrelationData)); err == nil {
				slot.keyed = true
				c.matchKeyed(slot, key, output, now)
				return
			}
		}

		if late, ok := slot.takeStale(nil); ok {
			c.discardLate(slot, late.key)
			return
		}
		if slot.live != nil {
			c.resolve(slot, slot.live, output, now)
			return
		}
		c.log.Debug("Dropping unsolicited reply", "device", slot.id, "bytes", len(msg.Payload))
	}
}

func (c *Correlator) matchKeyed(slot *deviceSlot, key CorrelationKey, output string, now time.Time) {
	if slot.live != nil && slot.live.key == key {
		c.resolve(slot, slot.live, output, now)
		return
	}
	if _, ok := slot.takeStale(&key); ok {
		c.discardLate(slot, key)
		return
	}
	c.log.Debug("Dropping reply with unknown correlation key", "device", slot.id, "generation", key.Generation)
}

// Caller holds slot.mu.
func (c *Correlator) resolve(slot *deviceSlot, p *pendingRequest, output string, now time.Time) {
	won, err := p.reply(output, now)
	if err != nil {
		c.log.Error(err, "Pending request transition failed", "device", slot.id, "event", eventReply, "state", p.state())
		return
	}
	if won {
		c.detach(slot, p, false)
	}
}

// Caller holds slot.mu.
func (c *Correlator) discardLate(slot *deviceSlot, key CorrelationKey) {
	metrics.LateReplies.Inc()
	c.log.Info("Discarding late reply to timed-out command", "device", slot.id, "generation", key.Generation)
	c.releaseIfIdle(slot)
}

// Pending reports whether a command to deviceID is awaiting its reply.
func (c *Correlator) Pending(deviceID string) bool {
	slot, ok := c.store.get(deviceID)
	if !ok {
		return false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.live != nil
}

// PendingCount returns the number of commands awaiting a reply.
func (c *Correlator) PendingCount() int {
	n := 0
	c.store.each(func(slot *deviceSlot) {
		slot.mu.Lock()
		if slot.live != nil {
			n++
		}
		slot.mu.Unlock()
	})
	return n
}

// Close fails every outstanding command with a transport error and releases
// all response subscriptions.
func (c *Correlator) Close() {
	now := c.clock.Now()
	c.store.each(func(slot *deviceSlot) {
		slot.mu.Lock()
		defer slot.mu.Unlock()

		for len(slot.stale) > 0 {
			slot.takeStale(nil)
		}
		if p := slot.live; p != nil {
			cause := core.Errorf(core.KindTransport, opExecute, slot.id, "gateway shutting down")
			if won, _ := p.fail(cause, now); won {
				slot.live = nil
			}
		}
		c.releaseIfIdle(slot)
	})
}

// truncate cuts s to at most limit bytes without splitting a UTF-8 sequence.
func truncate(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}
