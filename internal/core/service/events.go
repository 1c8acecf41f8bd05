package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// HandleEvent applies one inbound signaling event. Stale events come back as
// domain.ErrStaleEvent and leave the session untouched.
func (m *CallManager) HandleEvent(ctx context.Context, ev domain.InboundEvent) error {
	switch ev.Name {
	case domain.EventIncomingCall:
		return m.onIncomingCall(ctx, ev.Payload)
	case domain.EventCallAccepted:
		return m.onCallAccepted(ctx, ev.Payload)
	case domain.EventCallRejected, domain.EventCallEnded, domain.EventCallFailed, domain.EventCallTerminated:
		return m.onRemoteTermination(ev)
	default:
		return fmt.Errorf("%w: unsupported event %q", domain.ErrInvalidArgument, ev.Name)
	}
}

func (m *CallManager) onIncomingCall(ctx context.Context, raw json.RawMessage) error {
	var p domain.IncomingCallPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("%w: incoming-call: %v", domain.ErrInvalidArgument, err)
	}
	if p.CallerID == "" {
		return fmt.Errorf("%w: incoming-call without callerId", domain.ErrInvalidArgument)
	}
	id := p.SessionID
	if id == "" {
		id = domain.SessionIDFromMessage(p.MessageID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%w: call manager closed", domain.ErrStaleEvent)
	}
	if m.session != nil {
		if m.session.ID == id || sameRing(m.session, p) {
			return fmt.Errorf("%w: duplicate incoming-call for %s", domain.ErrStaleEvent, m.session.ID)
		}
		if m.session.State != domain.StateTerminated {
			m.emit(ctx, domain.EventRejectCall, p.CallerID, domain.RejectCallPayload{
				SessionID: p.SessionID,
				CallerID:  p.CallerID,
				MessageID: p.MessageID,
				Reason:    domain.RejectBusy,
			})
			return fmt.Errorf("%w: rejected call from %s", domain.ErrBusy, p.CallerID)
		}
		m.disposeLocked()
	}

	remote := domain.Party{ID: p.CallerID, Name: p.CallerName, Image: p.CallerImage}
	kind := domain.KindFromVideo(p.IsVideoCall)
	s := domain.NewCallSession(id, domain.DirectionInbound, kind, m.opts.Local, remote)
	s.WireID = p.SessionID
	s.MessageID = p.MessageID

	sig, err := domain.ParseSignal(p.Signal)
	if err != nil {
		m.logMalformed(s, err)
		sig = cannedSignal(domain.SignalOffer, kind, id)
	}
	s.RecordSignal(sig)

	if err := m.beginLocked(s, evRing); err != nil {
		return err
	}
	m.armRingLocked()
	return nil
}

// sameRing reports whether p repeats the ring already being presented. A ring
// with neither sessionId nor messageId can only be matched by its caller.
func sameRing(s *domain.CallSession, p domain.IncomingCallPayload) bool {
	return p.SessionID == "" && p.MessageID == "" &&
		s.State == domain.StateInboundRinging &&
		s.Remote.ID == p.CallerID &&
		s.WireID == "" && s.MessageID == ""
}

func (m *CallManager) onCallAccepted(ctx context.Context, raw json.RawMessage) error {
	var p domain.CallAcceptedPayload
	m.decode(domain.EventCallAccepted, raw, &p)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guardLocked(domain.EventCallAccepted, p.SessionID); err != nil {
		return err
	}
	s := m.session
	if s.State != domain.StateOutboundRinging {
		return fmt.Errorf("%w: call-accepted while %s", domain.ErrInvalidTransition, s.State)
	}

	sig, err := domain.ParseSignal(p.Signal)
	if err != nil {
		m.logMalformed(s, err)
		sig = cannedSignal(domain.SignalAnswer, s.Kind, s.ID)
	}
	s.RecordSignal(sig)

	m.ring.Cancel()
	m.ring = nil
	if err := m.fire(evAccept); err != nil {
		return err
	}
	m.publishLocked()

	m.pending.Add(1)
	go m.completeAccept(context.WithoutCancel(ctx), s.ID, s.Kind)
	return nil
}

// completeAccept acquires capture for an accepted outbound call. It runs off
// the channel's delivery path so a cancel arriving meanwhile is still applied.
func (m *CallManager) completeAccept(ctx context.Context, id domain.SessionID, kind domain.Kind) {
	defer m.pending.Done()

	h, err := m.media.Acquire(ctx, kind)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isCurrent(id, domain.StateConnecting) {
		m.media.Release(h)
		return
	}
	if err != nil {
		s := m.session
		reason, _ := localFailure(err)
		m.terminateLocked(reason, err)
		m.emit(ctx, domain.EventEndCall, s.Remote.ID, endCallPayload(s))
		return
	}
	m.activateLocked(h)
}

func (m *CallManager) onRemoteTermination(ev domain.InboundEvent) error {
	var (
		id    domain.SessionID
		attrs = map[string]any{}
	)
	switch ev.Name {
	case domain.EventCallRejected:
		var p domain.CallRejectedPayload
		m.decode(ev.Name, ev.Payload, &p)
		id, attrs["reason"] = p.SessionID, p.Reason
	case domain.EventCallEnded:
		var p domain.CallEndedPayload
		m.decode(ev.Name, ev.Payload, &p)
		id, attrs["remote_duration"] = p.SessionID, p.Duration
	case domain.EventCallFailed:
		var p domain.CallFailedPayload
		m.decode(ev.Name, ev.Payload, &p)
		id, attrs["message"] = p.SessionID, p.Message
	default:
		var p domain.CallTerminatedPayload
		m.decode(ev.Name, ev.Payload, &p)
		id = p.SessionID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guardLocked(ev.Name, id); err != nil {
		return err
	}
	s := m.session
	reason, ok := remoteReason(ev.Name, s.State)
	if !ok {
		return fmt.Errorf("%w: %s while %s", domain.ErrInvalidTransition, ev.Name, s.State)
	}

	var cause error
	if msg, _ := attrs["message"].(string); msg != "" {
		cause = errors.New(msg)
	}
	l := m.logger()
	l.Debug().Str("event", string(ev.Name)).Fields(attrs).Msg("Remote ended call")
	m.terminateLocked(reason, cause)
	return nil
}

// remoteReason maps a remote teardown event to a termination reason for the
// state it arrives in.
func remoteReason(name domain.EventName, state domain.CallState) (domain.TerminationReason, bool) {
	switch state {
	case domain.StateOutboundRinging:
		switch name {
		case domain.EventCallRejected:
			return domain.ReasonRemoteRejected, true
		case domain.EventCallFailed:
			return domain.ReasonRemoteFailed, true
		case domain.EventCallTerminated, domain.EventCallEnded:
			return domain.ReasonRemoteCancelled, true
		}
	case domain.StateInboundRinging:
		switch name {
		case domain.EventCallTerminated, domain.EventCallFailed, domain.EventCallEnded:
			return domain.ReasonRemoteCancelled, true
		}
	case domain.StateConnecting:
		switch name {
		case domain.EventCallRejected:
			return domain.ReasonRemoteRejected, true
		case domain.EventCallFailed:
			return domain.ReasonRemoteFailed, true
		case domain.EventCallTerminated, domain.EventCallEnded:
			return domain.ReasonRemoteCancelled, true
		}
	case domain.StateActive:
		switch name {
		case domain.EventCallEnded, domain.EventCallTerminated:
			return domain.ReasonRemoteEnded, true
		case domain.EventCallFailed:
			return domain.ReasonRemoteFailed, true
		}
	}
	return "", false
}

// guardLocked discards events with no live session to apply to, or whose
// session id names another call.
func (m *CallManager) guardLocked(name domain.EventName, id domain.SessionID) error {
	if m.session == nil || m.session.State == domain.StateTerminated {
		return fmt.Errorf("%w: %s with no live call", domain.ErrStaleEvent, name)
	}
	if id != "" && id != m.session.ID {
		return fmt.Errorf("%w: %s for session %s, current is %s", domain.ErrStaleEvent, name, id, m.session.ID)
	}
	return nil
}

// decode is lenient: teardown payloads carry nothing the transition needs, so
// a garbled body still ends the call.
func (m *CallManager) decode(name domain.EventName, raw json.RawMessage, v any) {
	if len(raw) == 0 {
		return
	}
	if err := json.Unmarshal(raw, v); err != nil {
		l := m.logger()
		l.Warn().Err(err).Str("event", string(name)).Msg("Undecodable payload, applying defaults")
	}
}

func (m *CallManager) logMalformed(s *domain.CallSession, err error) {
	l := m.logger()
	l.Warn().Err(err).Str("session_id", s.ID.String()).Msg("Malformed signal, using canned payload")
}
