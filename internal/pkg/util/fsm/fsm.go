package fsm

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// WrapEvent adapts an error-returning callback to fsm.Callback. A returned
// error is stored on the event and surfaces from FSM.Event.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// Fire triggers event and reports whether the machine changed state.
// An event that is not allowed from the current state is not an error; it
// means another transition got there first.
func Fire(ctx context.Context, f *fsm.FSM, event string, args ...any) (bool, error) {
	err := f.Event(ctx, event, args...)
	if err == nil {
		return true, nil
	}

	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		return false, nil
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return false, nil
	}
	return false, err
}
