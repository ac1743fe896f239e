package correlator

import (
	"sync"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/devgate/pkg/mqtt"
)

// store is the pending-request map. Every device gets its own slot with its
// own lock, so commands to different devices never serialize on each other.
type store struct {
	slots sync.Map // device ID -> *deviceSlot
}

// deviceSlot holds the correlation state of one device. All fields are
// guarded by mu.
type deviceSlot struct {
	id string
	mu sync.Mutex

	// generation is the last generation handed out for this device.
	generation uint64

	// live is the command currently awaiting a reply, if any.
	live *pendingRequest

	// stale lists timed-out commands whose reply may still arrive, oldest first.
	stale []*staleReply

	// keyed is set once the device has echoed correlation data.
	keyed bool

	// sub is the response-topic subscription, held while live or stale is non-empty.
	sub *mqtt.Subscription
}

type staleReply struct {
	key   CorrelationKey
	timer clock.Timer
}

func (s *store) slot(id string) *deviceSlot {
	if v, ok := s.slots.Load(id); ok {
		return v.(*deviceSlot)
	}
	v, _ := s.slots.LoadOrStore(id, &deviceSlot{id: id})
	return v.(*deviceSlot)
}

func (s *store) get(id string) (*deviceSlot, bool) {
	v, ok := s.slots.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*deviceSlot), true
}

func (s *store) each(fn func(*deviceSlot)) {
	s.slots.Range(func(_, v any) bool {
		fn(v.(*deviceSlot))
		return true
	})
}

func (d *deviceSlot) idle() bool {
	return d.live == nil && len(d.stale) == 0
}

// takeStale removes and returns the stale entry for key, or the oldest entry
// when key is nil.
func (d *deviceSlot) takeStale(key *CorrelationKey) (*staleReply, bool) {
	for i, s := range d.stale {
		if key == nil || s.key == *key {
			d.stale = append(d.stale[:i], d.stale[i+1:]...)
			if s.timer != nil {
				s.timer.Stop()
			}
			return s, true
		}
	}
	return nil, false
}
