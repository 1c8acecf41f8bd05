package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const snapshotBuffer = 32

type Options struct {
	Local domain.Party
	// RingTimeout bounds how long a call may ring in either direction.
	// Zero disables the timeout.
	RingTimeout time.Duration
	// DisposeAfter returns a terminated session to idle automatically.
	// Zero leaves disposal to Dispose.
	DisposeAfter time.Duration
	Clock        Clock
	Metrics      port.CallMetrics
}

// CallManager is the single writer of the call session. Signaling events,
// local commands and timer ticks are all serialized through mu; blocking work
// (permission prompts, device acquisition) runs unlocked and is re-validated
// against the session before its result is applied.
type CallManager struct {
	channel port.SignalingChannel
	gate    port.PermissionGate
	media   *MediaManager
	opts    Options
	metrics port.CallMetrics

	mu          sync.Mutex
	machine     *fsm.FSM
	session     *domain.CallSession
	handle      *MediaHandle
	timer       *CallTimer
	ring        *deadline
	dispose     *deadline
	sessionSubs []port.Subscription
	managerSubs []port.Subscription
	closed      bool
	pending     sync.WaitGroup

	subsMu sync.Mutex
	subs   map[chan domain.Snapshot]struct{}
}

func NewCallManager(channel port.SignalingChannel, gate port.PermissionGate, media *MediaManager, opts Options) *CallManager {
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Metrics == nil {
		opts.Metrics = port.NopMetrics{}
	}

	m := &CallManager{
		channel: channel,
		gate:    gate,
		media:   media,
		opts:    opts,
		metrics: opts.Metrics,
		subs:    make(map[chan domain.Snapshot]struct{}),
	}
	m.machine = newCallFSM(m.metrics.Transition)

	m.managerSubs = append(m.managerSubs,
		channel.Subscribe(domain.EventIncomingCall, m.dispatch),
		channel.OnDisconnect(m.handleDisconnect),
	)
	return m
}

// Subscribe returns a stream of snapshots starting with the current one. When
// a subscriber falls behind the oldest pending snapshot is dropped, so the
// latest state is always delivered.
func (m *CallManager) Subscribe() (<-chan domain.Snapshot, func()) {
	ch := make(chan domain.Snapshot, snapshotBuffer)

	m.mu.Lock()
	ch <- m.snapshotLocked()
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subsMu.Lock()
			if _, ok := m.subs[ch]; ok {
				delete(m.subs, ch)
				close(ch)
			}
			m.subsMu.Unlock()
		})
	}
}

func (m *CallManager) Snapshot() domain.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Close hangs up any live call and drops every channel subscription.
func (m *CallManager) Close(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.session != nil && m.session.State.Live() {
		m.hangUpLocked(ctx)
	}
	m.dispose.Cancel()
	m.dispose = nil
	m.unsubscribeSessionLocked()
	for _, sub := range m.managerSubs {
		sub.Unsubscribe()
	}
	m.managerSubs = nil
	m.mu.Unlock()

	m.pending.Wait()

	m.subsMu.Lock()
	for ch := range m.subs {
		close(ch)
		delete(m.subs, ch)
	}
	m.subsMu.Unlock()
}

func (m *CallManager) snapshotLocked() domain.Snapshot {
	if m.session == nil {
		return domain.IdleSnapshot(m.opts.Local)
	}
	return m.session.Snapshot()
}

func (m *CallManager) publishLocked() {
	snap := m.snapshotLocked()

	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (m *CallManager) logger() zerolog.Logger {
	if m.session == nil {
		return log.Logger
	}
	return log.With().
		Str("session_id", m.session.ID.String()).
		Str("direction", string(m.session.Direction)).
		Str("remote", m.session.Remote.ID.String()).
		Logger()
}

func (m *CallManager) fire(event string) error {
	if err := fireEvent(m.machine, event); err != nil {
		return err
	}
	if m.session != nil {
		m.session.State = domain.CallState(m.machine.Current())
	}
	return nil
}

// isCurrent reports whether the session a suspended operation started from is
// still the live session and still in the state the operation expects.
func (m *CallManager) isCurrent(id domain.SessionID, state domain.CallState) bool {
	return m.session != nil && m.session.ID == id && m.session.State == state
}

// beginLocked installs a new session and subscribes to its events.
func (m *CallManager) beginLocked(s *domain.CallSession, event string) error {
	if m.session != nil {
		return domain.ErrBusy
	}

	m.session = s
	if err := m.fire(event); err != nil {
		m.session = nil
		return err
	}
	for _, name := range domain.InboundEvents {
		if name == domain.EventIncomingCall {
			continue
		}
		m.sessionSubs = append(m.sessionSubs, m.channel.Subscribe(name, m.dispatch))
	}

	m.metrics.SessionStarted(s.Direction, s.Kind)
	l := m.logger()
	l.Info().Str("kind", string(s.Kind)).Msg("Call session started")
	m.publishLocked()
	return nil
}

// activateLocked takes ownership of the capture handle and starts the timer.
func (m *CallManager) activateLocked(h *MediaHandle) {
	s := m.session
	m.handle = h

	t := NewCallTimer(m.opts.Clock)
	m.timer = t
	at := t.Start(func(secs int) { m.onTick(t, secs) })
	s.MarkAccepted(at)
	s.DurationSeconds = 0

	if err := m.fire(evConnect); err != nil {
		l := m.logger()
		l.Error().Err(err).Msg("Activate failed")
		m.terminateLocked(domain.ReasonDeviceUnavailable, err)
		return
	}
	l := m.logger()
	l.Info().Msg("Call active")
	m.publishLocked()
}

// terminateLocked releases every local resource and only then moves the
// session to Terminated and reports it.
func (m *CallManager) terminateLocked(reason domain.TerminationReason, cause error) bool {
	s := m.session
	if s == nil || s.State == domain.StateTerminated {
		return false
	}

	m.ring.Cancel()
	m.ring = nil

	talk := 0
	if m.timer != nil {
		talk = m.timer.Stop()
		m.timer = nil
		s.DurationSeconds = talk
	}
	if m.handle != nil {
		m.media.Release(m.handle)
		m.handle = nil
	}

	s.Terminate(reason, cause)
	if err := m.fire(evTerminate); err != nil {
		l := m.logger()
		l.Error().Err(err).Msg("State machine out of sync, forcing terminated")
		m.machine.SetState(string(domain.StateTerminated))
	}

	m.metrics.SessionTerminated(reason, time.Duration(talk)*time.Second)
	l := m.logger()
	l.Info().Str("reason", string(reason)).Int("duration", talk).Msg("Call session terminated")
	m.publishLocked()
	m.armDisposeLocked()
	return true
}

func (m *CallManager) disposeLocked() {
	m.dispose.Cancel()
	m.dispose = nil
	m.unsubscribeSessionLocked()
	if err := m.fire(evDispose); err != nil {
		m.machine.SetState(string(domain.StateIdle))
	}
	m.session = nil
	m.publishLocked()
}

func (m *CallManager) unsubscribeSessionLocked() {
	for _, sub := range m.sessionSubs {
		sub.Unsubscribe()
	}
	m.sessionSubs = nil
}

func (m *CallManager) armRingLocked() {
	if m.opts.RingTimeout <= 0 {
		return
	}
	id := m.session.ID
	d := &deadline{}
	d.t = time.AfterFunc(m.opts.RingTimeout, func() { m.onRingTimeout(d, id) })
	m.ring = d
}

func (m *CallManager) onRingTimeout(d *deadline, id domain.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ring != d || m.session == nil || m.session.ID != id {
		return
	}
	m.ring = nil

	ctx := context.Background()
	s := m.session
	switch s.State {
	case domain.StateOutboundRinging:
		m.terminateLocked(domain.ReasonTimeout, domain.ErrTimeout)
		m.emit(ctx, domain.EventEndCall, s.Remote.ID, endCallPayload(s))
	case domain.StateInboundRinging:
		m.terminateLocked(domain.ReasonTimeout, domain.ErrTimeout)
		m.emit(ctx, domain.EventRejectCall, s.Remote.ID, rejectCallPayload(s, domain.RejectTimeout))
	}
}

func (m *CallManager) armDisposeLocked() {
	if m.opts.DisposeAfter <= 0 || m.closed {
		return
	}
	id := m.session.ID
	d := &deadline{}
	d.t = time.AfterFunc(m.opts.DisposeAfter, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.dispose != d || !m.isCurrent(id, domain.StateTerminated) {
			return
		}
		m.disposeLocked()
	})
	m.dispose = d
}

func (m *CallManager) onTick(t *CallTimer, secs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != t || m.session == nil || m.session.State != domain.StateActive {
		return
	}
	if m.session.DurationSeconds == secs {
		return
	}
	m.session.DurationSeconds = secs
	m.publishLocked()
}

func (m *CallManager) handleDisconnect(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || !m.session.State.Live() {
		return
	}
	cause := domain.ErrChannelDisconnected
	if err != nil {
		cause = fmt.Errorf("%w: %v", domain.ErrChannelDisconnected, err)
	}
	m.terminateLocked(domain.ReasonChannelLost, cause)
}

// emit sends without waiting for any acknowledgement. Failures are logged and
// returned for callers that care. Signals outlive the request that caused
// them, so ctx cancellation is not passed on.
func (m *CallManager) emit(ctx context.Context, name domain.EventName, to domain.UserID, payload any) error {
	err := m.channel.Send(context.WithoutCancel(ctx), domain.OutboundEvent{Name: name, To: to, Payload: payload})
	if err != nil {
		l := m.logger()
		l.Warn().Err(err).Str("event", string(name)).Msg("Signal send failed")
		return fmt.Errorf("send %s: %w", name, err)
	}
	return nil
}

func (m *CallManager) dispatch(ctx context.Context, ev domain.InboundEvent) {
	err := m.HandleEvent(ctx, ev)
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, domain.ErrStaleEvent):
		m.metrics.EventDiscarded(ev.Name)
		log.Debug().Err(err).Str("event", string(ev.Name)).Msg("Stale signal discarded")
	case errors.Is(err, domain.ErrBusy):
		log.Info().Str("event", string(ev.Name)).Msg("Incoming call rejected, line busy")
	default:
		log.Warn().Err(err).Str("event", string(ev.Name)).Msg("Signal not applied")
	}
}

// checkPermissions asks for the whole capability set of kind in one call.
// Any missing grant is a denial; there is no degraded fallback here.
func (m *CallManager) checkPermissions(ctx context.Context, kind domain.Kind) error {
	required := domain.RequiredCapabilities(kind)
	grants, err := m.gate.Check(ctx, required)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("permission prompt abandoned: %w", ctxErr)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("permission prompt abandoned: %w", err)
		}
		return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	}
	if !grants.AllGranted(required) {
		return fmt.Errorf("%w: %v not granted", domain.ErrPermissionDenied, grants.Denied(required))
	}
	return nil
}

func endCallPayload(s *domain.CallSession) domain.EndCallPayload {
	return domain.EndCallPayload{
		SessionID: s.WireID,
		UserID:    s.Local.ID,
		PartnerID: s.Remote.ID,
		MessageID: s.MessageID,
		Duration:  s.DurationSeconds,
	}
}

func rejectCallPayload(s *domain.CallSession, reason string) domain.RejectCallPayload {
	return domain.RejectCallPayload{
		SessionID: s.WireID,
		CallerID:  s.Remote.ID,
		MessageID: s.MessageID,
		Reason:    reason,
	}
}

type deadline struct {
	t *time.Timer
}

// Cancel accepts a nil deadline.
func (d *deadline) Cancel() {
	if d == nil || d.t == nil {
		return
	}
	d.t.Stop()
}
