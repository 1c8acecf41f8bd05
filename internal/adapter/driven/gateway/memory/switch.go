// Package memory is an in-process signaling server. Every connected party
// gets a Channel; events are routed between them the way the real server
// rewrites call-user into incoming-call and so on.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/rs/zerolog/log"
)

type Switch struct {
	mu    sync.Mutex
	peers map[domain.UserID]*Channel
}

func NewSwitch() *Switch {
	return &Switch{peers: make(map[domain.UserID]*Channel)}
}

// Connect attaches a party. A second Connect for the same id replaces and
// disconnects the first.
func (s *Switch) Connect(id domain.UserID) *Channel {
	c := &Channel{
		Registry: gateway.NewRegistry(),
		id:       id,
		sw:       s,
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
	}

	s.mu.Lock()
	old := s.peers[id]
	s.peers[id] = c
	s.mu.Unlock()

	if old != nil {
		old.drop(fmt.Errorf("%w: replaced by a new connection", domain.ErrChannelDisconnected))
	}
	go c.run()
	log.Debug().Str("user_id", id.String()).Msg("Loopback party connected")
	return c
}

func (s *Switch) peer(id domain.UserID) *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[id]
}

func (s *Switch) remove(c *Channel) {
	s.mu.Lock()
	if s.peers[c.id] == c {
		delete(s.peers, c.id)
	}
	s.mu.Unlock()
}

func (s *Switch) route(from *Channel, ev domain.OutboundEvent) error {
	to, out, err := gateway.Route(ev)
	if err != nil {
		return err
	}

	peer := s.peer(to)
	if peer == nil {
		if failed, ok := gateway.Unreachable(ev, to); ok {
			from.enqueue(failed)
		}
		log.Debug().Str("event", string(ev.Name)).Str("to", to.String()).Msg("Loopback addressee offline")
		return nil
	}
	peer.enqueue(out)
	return nil
}

// Channel is one party's end of the switch. It implements
// port.SignalingChannel. Delivery is asynchronous and FIFO per channel.
type Channel struct {
	*gateway.Registry

	id domain.UserID
	sw *Switch

	mu      sync.Mutex
	pending []domain.InboundEvent
	closed  bool
	wake    chan struct{}
	quit    chan struct{}
	once    sync.Once
}

func (c *Channel) ID() domain.UserID {
	return c.id
}

func (c *Channel) Send(ctx context.Context, ev domain.OutboundEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return domain.ErrChannelDisconnected
	}
	return c.sw.route(c, ev)
}

// Close detaches the party from the switch and fires the disconnect
// callbacks.
func (c *Channel) Close() error {
	c.drop(domain.ErrChannelDisconnected)
	return nil
}

func (c *Channel) drop(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.pending = nil
		c.mu.Unlock()
		close(c.quit)
		c.sw.remove(c)
		c.Lost(err)
	})
}

func (c *Channel) enqueue(ev domain.InboundEvent) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.pending = append(c.pending, ev)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Channel) run() {
	ctx := context.Background()
	for {
		select {
		case <-c.quit:
			return
		case <-c.wake:
		}
		for {
			c.mu.Lock()
			if c.closed || len(c.pending) == 0 {
				c.mu.Unlock()
				break
			}
			ev := c.pending[0]
			c.pending = c.pending[1:]
			c.mu.Unlock()

			if n := c.Dispatch(ctx, ev); n == 0 {
				log.Debug().Str("user_id", c.id.String()).Str("event", string(ev.Name)).Msg("No handler for event")
			}
		}
	}
}
