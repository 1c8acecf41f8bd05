package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	mu       sync.Mutex
	next     int
	handlers map[domain.EventName]map[int]port.EventHandler
	onLost   map[int]func(error)
	sent     []domain.OutboundEvent
	sendErr  error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		handlers: make(map[domain.EventName]map[int]port.EventHandler),
		onLost:   make(map[int]func(error)),
	}
}

type fakeSub func()

func (f fakeSub) Unsubscribe() { f() }

func (c *fakeChannel) Send(_ context.Context, ev domain.OutboundEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, ev)
	return c.sendErr
}

func (c *fakeChannel) Subscribe(name domain.EventName, h port.EventHandler) port.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	id := c.next
	if c.handlers[name] == nil {
		c.handlers[name] = make(map[int]port.EventHandler)
	}
	c.handlers[name][id] = h
	return fakeSub(func() {
		c.mu.Lock()
		delete(c.handlers[name], id)
		c.mu.Unlock()
	})
}

func (c *fakeChannel) OnDisconnect(fn func(error)) port.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	id := c.next
	c.onLost[id] = fn
	return fakeSub(func() {
		c.mu.Lock()
		delete(c.onLost, id)
		c.mu.Unlock()
	})
}

// deliver runs every handler registered for name, like a channel read loop.
func (c *fakeChannel) deliver(name domain.EventName, payload any) int {
	raw, _ := json.Marshal(payload)
	c.mu.Lock()
	var hs []port.EventHandler
	for _, h := range c.handlers[name] {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(context.Background(), domain.InboundEvent{Name: name, Payload: raw})
	}
	return len(hs)
}

func (c *fakeChannel) disconnect(err error) {
	c.mu.Lock()
	var fns []func(error)
	for _, fn := range c.onLost {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (c *fakeChannel) handlerCount(name domain.EventName) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[name])
}

func (c *fakeChannel) sentNamed(name domain.EventName) []domain.OutboundEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.OutboundEvent
	for _, ev := range c.sent {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeChannel) failSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

type fakeGate struct {
	mu     sync.Mutex
	grants domain.Grants
	calls  [][]domain.Capability
	block  chan struct{}
}

func grantAll() *fakeGate {
	return &fakeGate{grants: domain.Grants{
		domain.CapabilityMicrophone: true,
		domain.CapabilityCamera:     true,
	}}
}

func (g *fakeGate) Check(ctx context.Context, caps []domain.Capability) (domain.Grants, error) {
	g.mu.Lock()
	g.calls = append(g.calls, caps)
	block := g.block
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	out := domain.Grants{}
	for _, c := range caps {
		out[c] = g.grants[c]
	}
	return out, nil
}

func (g *fakeGate) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type fakeStream struct {
	mu     sync.Mutex
	paused bool
	closed int
}

func (s *fakeStream) Pause() error {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Resume() error {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return errors.New("device already gone")
}

func (s *fakeStream) state() (paused bool, closed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused, s.closed
}

type fakeDevice struct {
	mu      sync.Mutex
	streams []*fakeStream
	openErr error
	speaker bool
	volume  float64
}

func (d *fakeDevice) OpenCapture(context.Context, domain.Kind) (port.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	s := &fakeStream{}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) SetSpeakerRouting(on bool) error {
	d.mu.Lock()
	d.speaker = on
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) SetPlaybackVolume(v float64) error {
	d.mu.Lock()
	d.volume = v
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) playback() (speaker bool, volume float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaker, d.volume
}

func (d *fakeDevice) opened() []*fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeStream(nil), d.streams...)
}

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

// Advance moves the clock and fires every ticker once. Like time.Ticker a
// tick is dropped when the previous one has not been consumed.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	tickers := append([]*fakeTicker(nil), c.tickers...)
	c.mu.Unlock()
	for _, t := range tickers {
		select {
		case t.ch <- now:
		default:
		}
	}
}

type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

type fakeMetrics struct {
	port.NopMetrics

	mu          sync.Mutex
	discarded   []domain.EventName
	transitions []string
}

func (f *fakeMetrics) EventDiscarded(name domain.EventName) {
	f.mu.Lock()
	f.discarded = append(f.discarded, name)
	f.mu.Unlock()
}

func (f *fakeMetrics) Transition(from, to domain.CallState) {
	f.mu.Lock()
	f.transitions = append(f.transitions, string(from)+">"+string(to))
	f.mu.Unlock()
}

func (f *fakeMetrics) discardCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.discarded)
}

type harness struct {
	m       *CallManager
	channel *fakeChannel
	gate    *fakeGate
	device  *fakeDevice
	clock   *fakeClock
	metrics *fakeMetrics
}

var (
	alice = domain.Party{ID: "alice", Name: "Alice", Image: "alice.png"}
	bob   = domain.Party{ID: "bob", Name: "Bob", Image: "bob.png"}
	carol = domain.Party{ID: "carol", Name: "Carol"}
)

func newHarness(t *testing.T, tune ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		channel: newFakeChannel(),
		gate:    grantAll(),
		device:  &fakeDevice{},
		clock:   newFakeClock(),
		metrics: &fakeMetrics{},
	}
	opts := Options{Local: alice, Clock: h.clock, Metrics: h.metrics}
	for _, fn := range tune {
		fn(&opts)
	}
	h.m = NewCallManager(h.channel, h.gate, NewMediaManager(h.device, h.metrics), opts)
	t.Cleanup(func() { h.m.Close(context.Background()) })
	return h
}

func (h *harness) state() domain.CallState {
	return h.m.Snapshot().State
}

func (h *harness) waitState(t *testing.T, want domain.CallState) {
	t.Helper()
	require.Eventually(t, func() bool { return h.state() == want }, 2*time.Second, 5*time.Millisecond,
		"state never reached %s", want)
}

// ring delivers an incoming call from bob.
func (h *harness) ring(t *testing.T, id domain.SessionID, video bool) {
	t.Helper()
	h.channel.deliver(domain.EventIncomingCall, domain.IncomingCallPayload{
		SessionID:   id,
		CallerID:    bob.ID,
		CallerName:  bob.Name,
		CallerImage: bob.Image,
		IsVideoCall: video,
		Signal:      json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
		MessageID:   "msg-1",
	})
	require.Equal(t, domain.StateInboundRinging, h.state())
}

// activeInbound drives an inbound call from bob to Active.
func (h *harness) activeInbound(t *testing.T) domain.SessionID {
	t.Helper()
	h.ring(t, "sess-in", false)
	snap, err := h.m.Answer(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.StateActive, snap.State)
	return snap.SessionID
}
