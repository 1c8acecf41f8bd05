// Package gateway holds what every signaling channel adapter shares: the
// subscription registry and the wire envelope.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

// Envelope is one event frame on the wire.
type Envelope struct {
	Event   domain.EventName `json:"event"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

// Encode marshals an outbound event into its wire frame.
func Encode(ev domain.OutboundEvent) ([]byte, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", ev.Name, err)
	}
	return json.Marshal(Envelope{Event: ev.Name, Payload: payload})
}

// Registry tracks event handlers and disconnect callbacks. Adapters embed it
// to satisfy the subscription half of port.SignalingChannel.
type Registry struct {
	mu       sync.Mutex
	next     uint64
	handlers map[domain.EventName]map[uint64]port.EventHandler
	onLost   map[uint64]func(error)
	lost     bool
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[domain.EventName]map[uint64]port.EventHandler),
		onLost:   make(map[uint64]func(error)),
	}
}

type subscription struct {
	once   sync.Once
	remove func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.remove)
}

func (r *Registry) Subscribe(name domain.EventName, h port.EventHandler) port.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	id := r.next
	if r.handlers[name] == nil {
		r.handlers[name] = make(map[uint64]port.EventHandler)
	}
	r.handlers[name][id] = h
	return &subscription{remove: func() {
		r.mu.Lock()
		delete(r.handlers[name], id)
		r.mu.Unlock()
	}}
}

// OnDisconnect registers fn. A channel that is already lost calls fn right
// away.
func (r *Registry) OnDisconnect(fn func(error)) port.Subscription {
	r.mu.Lock()
	if r.lost {
		r.mu.Unlock()
		go fn(domain.ErrChannelDisconnected)
		return &subscription{remove: func() {}}
	}
	r.next++
	id := r.next
	r.onLost[id] = fn
	r.mu.Unlock()
	return &subscription{remove: func() {
		r.mu.Lock()
		delete(r.onLost, id)
		r.mu.Unlock()
	}}
}

// Dispatch hands ev to every handler registered for its name and reports how
// many ran. Handlers run on the caller's goroutine, outside the registry lock.
func (r *Registry) Dispatch(ctx context.Context, ev domain.InboundEvent) int {
	r.mu.Lock()
	hs := make([]port.EventHandler, 0, len(r.handlers[ev.Name]))
	for _, h := range r.handlers[ev.Name] {
		hs = append(hs, h)
	}
	r.mu.Unlock()

	for _, h := range hs {
		h(ctx, ev)
	}
	return len(hs)
}

// DispatchFrame decodes a wire frame and dispatches it.
func (r *Registry) DispatchFrame(ctx context.Context, frame []byte) (domain.EventName, int, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", 0, fmt.Errorf("decode frame: %w", err)
	}
	if env.Event == "" {
		return "", 0, fmt.Errorf("decode frame: missing event name")
	}
	return env.Event, r.Dispatch(ctx, domain.InboundEvent{Name: env.Event, Payload: env.Payload}), nil
}

// Lost fires the disconnect callbacks. Only the first call has an effect.
func (r *Registry) Lost(err error) bool {
	r.mu.Lock()
	if r.lost {
		r.mu.Unlock()
		return false
	}
	r.lost = true
	fns := make([]func(error), 0, len(r.onLost))
	for id, fn := range r.onLost {
		fns = append(fns, fn)
		delete(r.onLost, id)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
	return true
}
