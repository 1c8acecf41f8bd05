package service

import (
	"context"
	"fmt"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/looplab/fsm"
)

const (
	evPlace     = "place"
	evRing      = "ring"
	evAccept    = "accept"
	evAnswer    = "answer"
	evConnect   = "connect"
	evTerminate = "terminate"
	evDispose   = "dispose"
)

// newCallFSM encodes the legal session transitions. Terminated is absorbing:
// the only way out is disposal back to idle.
func newCallFSM(onEnter func(from, to domain.CallState)) *fsm.FSM {
	var (
		idle       = string(domain.StateIdle)
		outbound   = string(domain.StateOutboundRinging)
		inbound    = string(domain.StateInboundRinging)
		connecting = string(domain.StateConnecting)
		active     = string(domain.StateActive)
		terminated = string(domain.StateTerminated)
	)

	return fsm.NewFSM(
		idle,
		fsm.Events{
			{Name: evPlace, Src: []string{idle}, Dst: outbound},
			{Name: evRing, Src: []string{idle}, Dst: inbound},
			{Name: evAccept, Src: []string{outbound}, Dst: connecting},
			{Name: evAnswer, Src: []string{inbound}, Dst: connecting},
			{Name: evConnect, Src: []string{connecting}, Dst: active},
			{Name: evTerminate, Src: []string{outbound, inbound, connecting, active}, Dst: terminated},
			{Name: evDispose, Src: []string{terminated}, Dst: idle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if onEnter != nil {
					onEnter(domain.CallState(e.Src), domain.CallState(e.Dst))
				}
			},
		},
	)
}

func fireEvent(f *fsm.FSM, event string) error {
	if err := f.Event(context.Background(), event); err != nil {
		return fmt.Errorf("%w: %s from %s: %v", domain.ErrInvalidTransition, event, f.Current(), err)
	}
	return nil
}
