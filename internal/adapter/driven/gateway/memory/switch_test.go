package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/device/virtual"
	"github.com/Wyydra/yacall/internal/adapter/driven/permission/static"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ port.SignalingChannel = (*Channel)(nil)

type agent struct {
	m      *service.CallManager
	ch     *Channel
	device *virtual.Device
}

func newAgent(t *testing.T, sw *Switch, who domain.Party) *agent {
	t.Helper()
	ch := sw.Connect(who.ID)
	dev := virtual.New()
	gate := static.New(domain.CapabilityMicrophone, domain.CapabilityCamera)
	m := service.NewCallManager(ch, gate, service.NewMediaManager(dev, nil), service.Options{Local: who})
	t.Cleanup(func() {
		m.Close(context.Background())
		_ = ch.Close()
	})
	return &agent{m: m, ch: ch, device: dev}
}

func (a *agent) waitState(t *testing.T, want domain.CallState) domain.Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return a.m.Snapshot().State == want }, 2*time.Second, 5*time.Millisecond,
		"%s never reached %s", a.ch.ID(), want)
	return a.m.Snapshot()
}

var (
	alice = domain.Party{ID: "alice", Name: "Alice"}
	bob   = domain.Party{ID: "bob", Name: "Bob"}
	carol = domain.Party{ID: "carol", Name: "Carol"}
)

func TestCallBetweenTwoAgents(t *testing.T) {
	sw := NewSwitch()
	a := newAgent(t, sw, alice)
	b := newAgent(t, sw, bob)

	out, err := a.m.PlaceCall(context.Background(), bob, domain.KindVideo)
	require.NoError(t, err)

	in := b.waitState(t, domain.StateInboundRinging)
	assert.Equal(t, out.SessionID, in.SessionID, "both sides agree on the session id")
	assert.Equal(t, alice.ID, in.Remote.ID)
	assert.Equal(t, domain.KindVideo, in.Kind)

	_, err = b.m.Answer(context.Background())
	require.NoError(t, err)
	a.waitState(t, domain.StateActive)
	assert.Equal(t, 1, a.device.Stats().Open)
	assert.Equal(t, 1, b.device.Stats().Open)

	_, err = a.m.HangUp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, a.device.Stats().Open)

	ended := b.waitState(t, domain.StateTerminated)
	assert.Equal(t, domain.ReasonRemoteEnded, ended.Reason)
	assert.Equal(t, 0, b.device.Stats().Open)
}

func TestCalleeDeclines(t *testing.T) {
	sw := NewSwitch()
	a := newAgent(t, sw, alice)
	b := newAgent(t, sw, bob)

	_, err := a.m.PlaceCall(context.Background(), bob, domain.KindAudio)
	require.NoError(t, err)
	b.waitState(t, domain.StateInboundRinging)

	_, err = b.m.Reject(context.Background(), "")
	require.NoError(t, err)

	snap := a.waitState(t, domain.StateTerminated)
	assert.Equal(t, domain.ReasonRemoteRejected, snap.Reason)
}

func TestCallerCancelsWhileRinging(t *testing.T) {
	sw := NewSwitch()
	a := newAgent(t, sw, alice)
	b := newAgent(t, sw, bob)

	_, err := a.m.PlaceCall(context.Background(), bob, domain.KindAudio)
	require.NoError(t, err)
	b.waitState(t, domain.StateInboundRinging)

	_, err = a.m.HangUp(context.Background())
	require.NoError(t, err)

	snap := b.waitState(t, domain.StateTerminated)
	assert.Equal(t, domain.ReasonRemoteCancelled, snap.Reason)
}

func TestBusyCalleeRejects(t *testing.T) {
	sw := NewSwitch()
	a := newAgent(t, sw, alice)
	b := newAgent(t, sw, bob)
	c := newAgent(t, sw, carol)

	_, err := a.m.PlaceCall(context.Background(), bob, domain.KindAudio)
	require.NoError(t, err)
	b.waitState(t, domain.StateInboundRinging)

	_, err = c.m.PlaceCall(context.Background(), bob, domain.KindAudio)
	require.NoError(t, err)

	snap := c.waitState(t, domain.StateTerminated)
	assert.Equal(t, domain.ReasonRemoteRejected, snap.Reason)
	assert.Equal(t, alice.ID, b.m.Snapshot().Remote.ID)
}

func TestOfflineCallee(t *testing.T) {
	sw := NewSwitch()
	a := newAgent(t, sw, alice)

	_, err := a.m.PlaceCall(context.Background(), bob, domain.KindAudio)
	require.NoError(t, err)

	snap := a.waitState(t, domain.StateTerminated)
	assert.Equal(t, domain.ReasonRemoteFailed, snap.Reason)
	assert.Contains(t, snap.Error, "offline")
}

func TestCloseReportsChannelLost(t *testing.T) {
	sw := NewSwitch()
	a := newAgent(t, sw, alice)
	b := newAgent(t, sw, bob)

	_, err := a.m.PlaceCall(context.Background(), bob, domain.KindAudio)
	require.NoError(t, err)
	b.waitState(t, domain.StateInboundRinging)

	require.NoError(t, b.ch.Close())
	snap := b.waitState(t, domain.StateTerminated)
	assert.Equal(t, domain.ReasonChannelLost, snap.Reason)

	err = b.ch.Send(context.Background(), domain.OutboundEvent{Name: domain.EventEndCall, Payload: struct{}{}})
	assert.ErrorIs(t, err, domain.ErrChannelDisconnected)
}

func TestDeliveryIsOrdered(t *testing.T) {
	sw := NewSwitch()
	rx := sw.Connect("rx")
	tx := sw.Connect("tx")
	defer rx.Close()
	defer tx.Close()

	got := make(chan int, 100)
	rx.Subscribe("seq", func(_ context.Context, ev domain.InboundEvent) {
		var n int
		_ = json.Unmarshal(ev.Payload, &n)
		got <- n
	})
	for i := 0; i < 100; i++ {
		require.NoError(t, tx.Send(context.Background(), domain.OutboundEvent{Name: "seq", To: "rx", Payload: i}))
	}
	for i := 0; i < 100; i++ {
		select {
		case n := <-got:
			require.Equal(t, i, n)
		case <-time.After(2 * time.Second):
			t.Fatalf("event %d never delivered", i)
		}
	}
}
