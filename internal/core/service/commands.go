package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// PlaceCall starts an outbound call to remote. The permission check may block
// on a host dialog; if the session is hung up or lost meanwhile the result is
// dropped and the current snapshot returned.
func (m *CallManager) PlaceCall(ctx context.Context, remote domain.Party, kind domain.Kind) (domain.Snapshot, error) {
	if remote.ID == "" {
		return m.Snapshot(), fmt.Errorf("%w: remote party id is required", domain.ErrInvalidArgument)
	}
	if kind != domain.KindAudio && kind != domain.KindVideo {
		return m.Snapshot(), fmt.Errorf("%w: unknown call kind %q", domain.ErrInvalidArgument, kind)
	}
	if remote.ID == m.opts.Local.ID {
		return m.Snapshot(), fmt.Errorf("%w: cannot call yourself", domain.ErrInvalidArgument)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return m.Snapshot(), fmt.Errorf("%w: call manager closed", domain.ErrNoSession)
	}
	if m.session != nil {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, fmt.Errorf("%w: session %s is %s", domain.ErrBusy, snap.SessionID, snap.State)
	}

	s := domain.NewCallSession(domain.NewSessionID(), domain.DirectionOutbound, kind, m.opts.Local, remote)
	s.WireID = s.ID
	if err := m.beginLocked(s, evPlace); err != nil {
		m.mu.Unlock()
		return m.Snapshot(), err
	}
	id := s.ID
	m.mu.Unlock()

	permErr := m.checkPermissions(ctx, kind)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isCurrent(id, domain.StateOutboundRinging) {
		return m.snapshotLocked(), nil
	}
	if permErr != nil {
		reason, _ := localFailure(permErr)
		m.terminateLocked(reason, permErr)
		return m.snapshotLocked(), permErr
	}

	offer := cannedSignal(domain.SignalOffer, kind, id)
	s.RecordSignal(offer)
	err := m.emit(ctx, domain.EventCallUser, remote.ID, domain.CallUserPayload{
		SessionID:   s.WireID,
		CallerID:    s.Local.ID,
		ReceiverID:  remote.ID,
		CallerName:  s.Local.Name,
		CallerImage: s.Local.Image,
		IsVideoCall: kind.IsVideo(),
		Signal:      offer,
	})
	if err != nil {
		m.terminateLocked(sendFailure(err), err)
		return m.snapshotLocked(), err
	}
	m.armRingLocked()
	return m.snapshotLocked(), nil
}

// Answer accepts the ringing inbound call. Permissions and the capture device
// are acquired unlocked; a remote cancel during either wins the race.
func (m *CallManager) Answer(ctx context.Context) (domain.Snapshot, error) {
	m.mu.Lock()
	if err := m.liveGuardLocked("answer"); err != nil {
		m.mu.Unlock()
		return m.Snapshot(), err
	}
	s := m.session
	if s.State != domain.StateInboundRinging {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, fmt.Errorf("%w: answer from %s", domain.ErrInvalidTransition, s.State)
	}
	m.ring.Cancel()
	m.ring = nil
	if err := m.fire(evAnswer); err != nil {
		m.mu.Unlock()
		return m.Snapshot(), err
	}
	m.publishLocked()
	id, kind := s.ID, s.Kind
	m.mu.Unlock()

	permErr := m.checkPermissions(ctx, kind)

	m.mu.Lock()
	if !m.isCurrent(id, domain.StateConnecting) {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, nil
	}
	if permErr != nil {
		reason, rejectReason := localFailure(permErr)
		m.terminateLocked(reason, permErr)
		m.emit(ctx, domain.EventRejectCall, s.Remote.ID, rejectCallPayload(s, rejectReason))
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, permErr
	}
	m.mu.Unlock()

	h, acqErr := m.media.Acquire(ctx, kind)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isCurrent(id, domain.StateConnecting) {
		m.media.Release(h)
		return m.snapshotLocked(), nil
	}
	if acqErr != nil {
		reason, rejectReason := localFailure(acqErr)
		m.terminateLocked(reason, acqErr)
		m.emit(ctx, domain.EventRejectCall, s.Remote.ID, rejectCallPayload(s, rejectReason))
		return m.snapshotLocked(), acqErr
	}

	answer := cannedSignal(domain.SignalAnswer, kind, id)
	s.RecordSignal(answer)
	m.activateLocked(h)
	if s.State == domain.StateActive {
		m.emit(ctx, domain.EventAnswerCall, s.Remote.ID, domain.AnswerCallPayload{
			SessionID: s.WireID,
			CallerID:  s.Remote.ID,
			Signal:    answer,
			MessageID: s.MessageID,
		})
	}
	return m.snapshotLocked(), nil
}

// Reject declines the ringing inbound call with reason. On any other live
// state it behaves like HangUp.
func (m *CallManager) Reject(ctx context.Context, reason string) (domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.liveGuardLocked("reject"); err != nil {
		return m.snapshotLocked(), err
	}
	s := m.session
	if s.State != domain.StateInboundRinging {
		m.hangUpLocked(ctx)
		return m.snapshotLocked(), nil
	}
	if reason == "" {
		reason = domain.RejectDeclined
	}
	m.terminateLocked(domain.ReasonLocalRejected, nil)
	m.emit(ctx, domain.EventRejectCall, s.Remote.ID, rejectCallPayload(s, reason))
	return m.snapshotLocked(), nil
}

// HangUp ends the call from any live state. Local resources are released
// before it returns, whether or not the remote side ever hears about it.
func (m *CallManager) HangUp(ctx context.Context) (domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.liveGuardLocked("hang up"); err != nil {
		return m.snapshotLocked(), err
	}
	m.hangUpLocked(ctx)
	return m.snapshotLocked(), nil
}

func (m *CallManager) hangUpLocked(ctx context.Context) {
	s := m.session
	switch s.State {
	case domain.StateOutboundRinging:
		m.terminateLocked(domain.ReasonLocalCancelled, nil)
		// Nothing to cancel remotely while still waiting on permissions.
		if _, offered := s.Signal(); offered {
			m.emit(ctx, domain.EventEndCall, s.Remote.ID, endCallPayload(s))
		}
	case domain.StateInboundRinging:
		m.terminateLocked(domain.ReasonLocalRejected, nil)
		m.emit(ctx, domain.EventRejectCall, s.Remote.ID, rejectCallPayload(s, domain.RejectDeclined))
	case domain.StateConnecting:
		m.terminateLocked(domain.ReasonLocalCancelled, nil)
		if s.Direction == domain.DirectionOutbound {
			m.emit(ctx, domain.EventEndCall, s.Remote.ID, endCallPayload(s))
		} else {
			m.emit(ctx, domain.EventRejectCall, s.Remote.ID, rejectCallPayload(s, domain.RejectCancelled))
		}
	case domain.StateActive:
		m.terminateLocked(domain.ReasonLocalEnded, nil)
		m.emit(ctx, domain.EventEndCall, s.Remote.ID, endCallPayload(s))
	}
}

// Dispose drops a terminated session and returns the manager to idle.
func (m *CallManager) Dispose() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return domain.ErrNoSession
	}
	if m.session.State != domain.StateTerminated {
		return fmt.Errorf("%w: dispose while %s", domain.ErrInvalidTransition, m.session.State)
	}
	m.disposeLocked()
	return nil
}

func (m *CallManager) SetMuted(muted bool) (domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.activeGuardLocked("mute"); err != nil {
		return m.snapshotLocked(), err
	}
	if err := m.media.SetMuted(muted); err != nil {
		return m.snapshotLocked(), err
	}
	m.session.Muted = muted
	m.publishLocked()
	return m.snapshotLocked(), nil
}

func (m *CallManager) SetSpeaker(on bool) (domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.activeGuardLocked("speaker"); err != nil {
		return m.snapshotLocked(), err
	}
	if err := m.media.SetSpeakerRouting(on); err != nil {
		return m.snapshotLocked(), err
	}
	m.session.Speaker = on
	m.publishLocked()
	return m.snapshotLocked(), nil
}

// SetVolume sets playback volume, clamped to [0,1].
func (m *CallManager) SetVolume(v float64) (domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.activeGuardLocked("volume"); err != nil {
		return m.snapshotLocked(), err
	}
	applied, err := m.media.SetVolume(v)
	if err != nil {
		return m.snapshotLocked(), err
	}
	m.session.Volume = applied
	m.publishLocked()
	return m.snapshotLocked(), nil
}

// liveGuardLocked rejects commands that arrive with no live session.
func (m *CallManager) liveGuardLocked(op string) error {
	if m.session == nil || !m.session.State.Live() {
		return fmt.Errorf("%w: %s with no live call", domain.ErrStaleEvent, op)
	}
	return nil
}

func (m *CallManager) activeGuardLocked(op string) error {
	if err := m.liveGuardLocked(op); err != nil {
		return err
	}
	if m.session.State != domain.StateActive {
		return fmt.Errorf("%w: %s while %s", domain.ErrInvalidTransition, op, m.session.State)
	}
	return nil
}

// localFailure maps a failed permission check or capture acquisition to the
// termination reason and the reject-call reason. A prompt abandoned by its
// caller is a local cancel, not a denial.
func localFailure(err error) (domain.TerminationReason, string) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.ReasonLocalCancelled, domain.RejectCancelled
	}
	if errors.Is(err, domain.ErrPermissionDenied) {
		return domain.ReasonPermissionDenied, domain.RejectPermissionDenied
	}
	return domain.ReasonDeviceUnavailable, domain.RejectDeviceError
}

// sendFailure maps a call-user that could not be sent. Only a dead channel is
// channel-lost; any other failure means the offer never reached the callee.
func sendFailure(err error) domain.TerminationReason {
	if errors.Is(err, domain.ErrChannelDisconnected) {
		return domain.ReasonChannelLost
	}
	return domain.ReasonRemoteFailed
}
