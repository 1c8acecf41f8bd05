// Package redis carries signaling over Redis pub/sub. Each party subscribes
// to call:<userId>; senders rewrite events the way the signaling server
// would and publish them straight to the addressee.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway"
	"github.com/Wyydra/yacall/internal/core/domain"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	channelPrefix = "call:"
	// healthInterval is how long the subscription may stay silent before it
	// is probed with PING. An unanswered probe counts as a lost connection.
	healthInterval = 15 * time.Second
)

// ChannelFor is the pub/sub channel a party listens on.
func ChannelFor(id domain.UserID) string {
	return channelPrefix + id.String()
}

type Config struct {
	Addr         string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// Open creates a client and checks connectivity with PING.
func Open(ctx context.Context, cfg Config) (*goredis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// Gateway implements port.SignalingChannel for one party.
type Gateway struct {
	*gateway.Registry

	rdb         *goredis.Client
	self        domain.UserID
	pubsub      *goredis.PubSub
	healthEvery time.Duration
	log         zerolog.Logger

	done chan struct{}
	once sync.Once
}

// Connect subscribes self's channel and starts delivering events. The
// subscription is probed after healthEvery of silence; zero uses the default.
// go-redis reconnects a broken subscription silently and drops whatever was
// published meanwhile, so any receive error is reported as a lost channel.
func Connect(ctx context.Context, rdb *goredis.Client, self domain.UserID, healthEvery time.Duration) (*Gateway, error) {
	if healthEvery <= 0 {
		healthEvery = healthInterval
	}
	ps := rdb.Subscribe(ctx, ChannelFor(self))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", ChannelFor(self), err)
	}

	g := &Gateway{
		Registry:    gateway.NewRegistry(),
		rdb:         rdb,
		self:        self,
		pubsub:      ps,
		healthEvery: healthEvery,
		log:         log.With().Str("channel", ChannelFor(self)).Logger(),
		done:        make(chan struct{}),
	}
	go g.readLoop()
	g.log.Info().Msg("Signaling subscribed")
	return g, nil
}

func (g *Gateway) Send(ctx context.Context, ev domain.OutboundEvent) error {
	select {
	case <-g.done:
		return domain.ErrChannelDisconnected
	default:
	}

	to, in, err := gateway.Route(ev)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(gateway.Envelope{Event: in.Name, Payload: in.Payload})
	if err != nil {
		return fmt.Errorf("encode %s: %w", in.Name, err)
	}

	receivers, err := g.rdb.Publish(ctx, ChannelFor(to), frame).Result()
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Name, err)
	}
	if receivers == 0 {
		g.log.Debug().Str("event", string(ev.Name)).Str("to", to.String()).Msg("Addressee not subscribed")
		if failed, ok := gateway.Unreachable(ev, to); ok {
			go g.Dispatch(context.Background(), failed)
		}
	}
	return nil
}

// Close unsubscribes and reports the channel as lost.
func (g *Gateway) Close() error {
	g.shutdown(domain.ErrChannelDisconnected)
	return g.pubsub.Close()
}

// Done is closed once the subscription is gone.
func (g *Gateway) Done() <-chan struct{} {
	return g.done
}

func (g *Gateway) shutdown(cause error) {
	g.once.Do(func() {
		close(g.done)
		g.log.Info().Err(cause).Msg("Signaling unsubscribed")
		go g.Lost(cause)
	})
}

func (g *Gateway) closing() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

func (g *Gateway) readLoop() {
	ctx := context.Background()
	awaitingPong := false
	for {
		msg, err := g.pubsub.ReceiveTimeout(ctx, g.healthEvery)
		if err != nil {
			if g.closing() {
				return
			}
			if !isTimeout(err) {
				g.shutdown(fmt.Errorf("%w: receive: %v", domain.ErrChannelDisconnected, err))
				return
			}
			if awaitingPong {
				g.shutdown(fmt.Errorf("%w: health check unanswered", domain.ErrChannelDisconnected))
				return
			}
			if err := g.pubsub.Ping(ctx); err != nil {
				g.shutdown(fmt.Errorf("%w: ping: %v", domain.ErrChannelDisconnected, err))
				return
			}
			awaitingPong = true
			continue
		}

		awaitingPong = false
		switch m := msg.(type) {
		case *goredis.Message:
			name, n, err := g.DispatchFrame(ctx, []byte(m.Payload))
			if err != nil {
				g.log.Warn().Err(err).Msg("Dropping undecodable message")
				continue
			}
			if n == 0 {
				g.log.Debug().Str("event", string(name)).Msg("No handler for event")
			}
		case *goredis.Subscription:
			g.log.Debug().Str("kind", m.Kind).Msg("Subscription changed")
		}
	}
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
