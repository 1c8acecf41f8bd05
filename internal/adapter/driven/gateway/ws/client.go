// Package ws connects to the signaling server over a websocket. Frames are
// {"event": name, "payload": {...}} in both directions.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 64 << 10
	tokenTTL     = time.Hour
)

// Claims identify the agent to the signaling server.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// NewToken signs a bearer token for user with HS256.
func NewToken(secret []byte, user domain.Party, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("signaling secret is empty")
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
		Name: user.Name,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyToken checks a token produced by NewToken and returns its claims.
func VerifyToken(secret []byte, token string) (Claims, error) {
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	_, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return Claims{}, err
	}
	if claims.Subject == "" {
		return Claims{}, errors.New("token subject missing")
	}
	return claims, nil
}

// Client implements port.SignalingChannel on one websocket connection.
type Client struct {
	*gateway.Registry

	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// Dial connects to url, authenticating with token as a bearer credential,
// and starts the read loop.
func Dial(ctx context.Context, url, token string) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		Registry: gateway.NewRegistry(),
		conn:     conn,
		log:      log.With().Str("signaling", url).Logger(),
		done:     make(chan struct{}),
	}
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readLoop()
	go c.pingLoop()
	c.log.Info().Msg("Signaling connected")
	return c, nil
}

func (c *Client) Send(ctx context.Context, ev domain.OutboundEvent) error {
	frame, err := gateway.Encode(ev)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return domain.ErrChannelDisconnected
	default:
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		cause := fmt.Errorf("%w: write %s: %v", domain.ErrChannelDisconnected, ev.Name, err)
		c.shutdown(cause)
		return cause
	}
	return nil
}

// Close sends a close frame and tears the connection down.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	c.shutdown(domain.ErrChannelDisconnected)
	return nil
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) shutdown(cause error) {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
		c.log.Info().Err(cause).Msg("Signaling disconnected")
		// Send can fail while its caller holds locks a disconnect handler needs.
		go c.Lost(cause)
	})
}

func (c *Client) readLoop() {
	ctx := context.Background()
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Error().Err(err).Msg("Unexpected close error")
			}
			c.shutdown(fmt.Errorf("%w: %v", domain.ErrChannelDisconnected, err))
			return
		}

		name, n, err := c.DispatchFrame(ctx, frame)
		if err != nil {
			c.log.Warn().Err(err).Msg("Dropping undecodable frame")
			continue
		}
		if n == 0 {
			c.log.Debug().Str("event", string(name)).Msg("No handler for event")
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.shutdown(fmt.Errorf("%w: ping: %v", domain.ErrChannelDisconnected, err))
				return
			}
		}
	}
}
