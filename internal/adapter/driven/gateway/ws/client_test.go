package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ port.SignalingChannel = (*Client)(nil)

var secret = []byte("test-secret")

// newServer answers every call-user with call-accepted, like a peer that
// picks up immediately. It closes the connection on a "hangup-socket" frame.
func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if _, err := VerifyToken(secret, token); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var env gateway.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			switch env.Event {
			case domain.EventCallUser:
				var p domain.CallUserPayload
				_ = json.Unmarshal(env.Payload, &p)
				sig, _ := json.Marshal(p.Signal)
				payload, _ := json.Marshal(domain.CallAcceptedPayload{SessionID: p.SessionID, Signal: sig})
				_ = conn.WriteJSON(gateway.Envelope{Event: domain.EventCallAccepted, Payload: payload})
			case "hangup-socket":
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRoundTripWithBearerToken(t *testing.T) {
	srv := newServer(t)
	token, err := NewToken(secret, domain.Party{ID: "alice", Name: "Alice"}, time.Now())
	require.NoError(t, err)

	c, err := Dial(context.Background(), wsURL(srv), token)
	require.NoError(t, err)
	defer c.Close()

	got := make(chan domain.InboundEvent, 1)
	sub := c.Subscribe(domain.EventCallAccepted, func(_ context.Context, ev domain.InboundEvent) {
		got <- ev
	})
	defer sub.Unsubscribe()

	err = c.Send(context.Background(), domain.OutboundEvent{
		Name: domain.EventCallUser,
		To:   "bob",
		Payload: domain.CallUserPayload{
			SessionID:  "sess-1",
			CallerID:   "alice",
			ReceiverID: "bob",
			Signal:     domain.NewSignal(domain.SignalOffer, "v=0"),
		},
	})
	require.NoError(t, err)

	select {
	case ev := <-got:
		var p domain.CallAcceptedPayload
		require.NoError(t, json.Unmarshal(ev.Payload, &p))
		assert.Equal(t, domain.SessionID("sess-1"), p.SessionID)
		sig, err := domain.ParseSignal(p.Signal)
		require.NoError(t, err)
		assert.Equal(t, "v=0", sig.SDP)
	case <-time.After(2 * time.Second):
		t.Fatal("call-accepted never arrived")
	}
}

func TestDialRejectsBadToken(t *testing.T) {
	srv := newServer(t)
	token, err := NewToken([]byte("other-secret"), domain.Party{ID: "alice"}, time.Now())
	require.NoError(t, err)

	_, err = Dial(context.Background(), wsURL(srv), token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestDisconnectFiresOnce(t *testing.T) {
	srv := newServer(t)
	token, err := NewToken(secret, domain.Party{ID: "alice"}, time.Now())
	require.NoError(t, err)

	c, err := Dial(context.Background(), wsURL(srv), token)
	require.NoError(t, err)

	lost := make(chan error, 2)
	c.OnDisconnect(func(err error) { lost <- err })

	require.NoError(t, c.Send(context.Background(), domain.OutboundEvent{Name: "hangup-socket", Payload: struct{}{}}))

	select {
	case err := <-lost:
		assert.ErrorIs(t, err, domain.ErrChannelDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect never reported")
	}
	<-c.Done()

	err = c.Send(context.Background(), domain.OutboundEvent{Name: domain.EventEndCall, Payload: struct{}{}})
	assert.ErrorIs(t, err, domain.ErrChannelDisconnected)
	require.NoError(t, c.Close())
	assert.Empty(t, lost)

	late := make(chan error, 1)
	c.OnDisconnect(func(err error) { late <- err })
	assert.ErrorIs(t, <-late, domain.ErrChannelDisconnected)
}

func TestTokenClaims(t *testing.T) {
	now := time.Now()
	token, err := NewToken(secret, domain.Party{ID: "alice", Name: "Alice"}, now)
	require.NoError(t, err)

	claims, err := VerifyToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "Alice", claims.Name)

	_, err = NewToken(nil, domain.Party{ID: "alice"}, now)
	assert.Error(t, err)

	expired, err := NewToken(secret, domain.Party{ID: "alice"}, now.Add(-2*tokenTTL))
	require.NoError(t, err)
	_, err = VerifyToken(secret, expired)
	assert.Error(t, err)
}
