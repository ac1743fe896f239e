package correlator

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"

	fsmutil "github.com/autopeer-io/devgate/internal/pkg/util/fsm"
)

// PendingRequest lifecycle states.
const (
	StateCreated         = "created"
	StateAwaiting        = "awaiting"
	StateResolved        = "resolved"
	StateTimedOut        = "timed_out"
	StateTransportFailed = "transport_failed"
)

const (
	eventDispatch = "dispatch"
	eventReply    = "reply"
	eventExpire   = "expire"
	eventFail     = "fail"
)

// pendingRequest is the single-resolution slot of one command. All three
// terminal events start from awaiting, so whichever fires first wins and the
// others are rejected by the state machine.
type pendingRequest struct {
	key      CorrelationKey
	issuedAt time.Time
	deadline time.Time

	fsm  *fsm.FSM
	done chan struct{}
	once sync.Once

	// Written once by the winning transition, read after done is closed.
	output     string
	err        error
	resolvedAt time.Time
}

func newPendingRequest(key CorrelationKey, issuedAt time.Time, timeout time.Duration) *pendingRequest {
	p := &pendingRequest{
		key:      key,
		issuedAt: issuedAt,
		deadline: issuedAt.Add(timeout),
		done:     make(chan struct{}),
	}

	terminal := []string{StateAwaiting}
	p.fsm = fsm.NewFSM(
		StateCreated,
		fsm.Events{
			{Name: eventDispatch, Src: []string{StateCreated}, Dst: StateAwaiting},
			{Name: eventReply, Src: terminal, Dst: StateResolved},
			{Name: eventExpire, Src: terminal, Dst: StateTimedOut},
			{Name: eventFail, Src: terminal, Dst: StateTransportFailed},
		},
		fsm.Callbacks{
			"enter_" + StateResolved:        fsmutil.WrapEvent(p.enterResolved),
			"enter_" + StateTimedOut:        fsmutil.WrapEvent(p.enterFailed),
			"enter_" + StateTransportFailed: fsmutil.WrapEvent(p.enterFailed),
		},
	)
	return p
}

// Args: output string, at time.Time
func (p *pendingRequest) enterResolved(_ context.Context, e *fsm.Event) error {
	p.settle(e.Args[0].(string), nil, e.Args[1].(time.Time))
	return nil
}

// Args: cause error, at time.Time
func (p *pendingRequest) enterFailed(_ context.Context, e *fsm.Event) error {
	p.settle("", e.Args[0].(error), e.Args[1].(time.Time))
	return nil
}

// settle records the outcome and wakes the waiter. Only the first call counts.
func (p *pendingRequest) settle(output string, err error, at time.Time) {
	p.once.Do(func() {
		p.output = output
		p.err = err
		p.resolvedAt = at
		close(p.done)
	})
}

func (p *pendingRequest) dispatch() (bool, error) {
	return fsmutil.Fire(context.Background(), p.fsm, eventDispatch)
}

func (p *pendingRequest) reply(output string, at time.Time) (bool, error) {
	return fsmutil.Fire(context.Background(), p.fsm, eventReply, output, at)
}

func (p *pendingRequest) expire(cause error, at time.Time) (bool, error) {
	return fsmutil.Fire(context.Background(), p.fsm, eventExpire, cause, at)
}

func (p *pendingRequest) fail(cause error, at time.Time) (bool, error) {
	return fsmutil.Fire(context.Background(), p.fsm, eventFail, cause, at)
}

func (p *pendingRequest) state() string { return p.fsm.Current() }

func (p *pendingRequest) elapsed() time.Duration {
	d := p.resolvedAt.Sub(p.issuedAt)
	if d < 0 {
		return 0
	}
	return d
}
