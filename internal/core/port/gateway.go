package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// EventHandler receives one inbound signaling event.
type EventHandler func(ctx context.Context, ev domain.InboundEvent)

// Subscription is a disposable handler registration.
type Subscription interface {
	Unsubscribe()
}

// SignalingChannel is a duplex event channel already connected to the
// signaling server. It is shared with non-call traffic; subscribers only see
// the events they registered for.
type SignalingChannel interface {
	Send(ctx context.Context, ev domain.OutboundEvent) error
	Subscribe(name domain.EventName, h EventHandler) Subscription
	// OnDisconnect registers fn to run once when the connection is lost.
	OnDisconnect(fn func(err error)) Subscription
}
