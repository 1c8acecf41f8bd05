package domain

import (
	"fmt"
	"time"
)

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

func KindFromVideo(isVideo bool) Kind {
	if isVideo {
		return KindVideo
	}
	return KindAudio
}

func (k Kind) IsVideo() bool {
	return k == KindVideo
}

// CallState values double as the state names of the session state machine.
type CallState string

const (
	StateIdle            CallState = "idle"
	StateOutboundRinging CallState = "outbound_ringing"
	StateInboundRinging  CallState = "inbound_ringing"
	StateConnecting      CallState = "connecting"
	StateActive          CallState = "active"
	StateTerminated      CallState = "terminated"
)

func (s CallState) String() string {
	return string(s)
}

// Live reports whether a session in this state still holds the line.
func (s CallState) Live() bool {
	return s != StateIdle && s != StateTerminated
}

type TerminationReason string

const (
	ReasonPermissionDenied  TerminationReason = "permission-denied"
	ReasonDeviceUnavailable TerminationReason = "device-unavailable"
	ReasonLocalCancelled    TerminationReason = "local-cancelled"
	ReasonLocalRejected     TerminationReason = "local-rejected"
	ReasonLocalEnded        TerminationReason = "local-ended"
	ReasonRemoteRejected    TerminationReason = "remote-rejected"
	ReasonRemoteFailed      TerminationReason = "remote-failed"
	ReasonRemoteCancelled   TerminationReason = "remote-cancelled"
	ReasonRemoteEnded       TerminationReason = "remote-ended"
	ReasonChannelLost       TerminationReason = "channel-lost"
	ReasonTimeout           TerminationReason = "timeout"
)

// Category is the user-facing message family a termination maps to.
type Category string

const (
	CategoryRejected           Category = "rejected"
	CategoryFailed             Category = "failed"
	CategoryEnded              Category = "ended"
	CategoryPermissionRequired Category = "permission-required"
)

func (r TerminationReason) Category() Category {
	switch r {
	case ReasonLocalRejected, ReasonRemoteRejected:
		return CategoryRejected
	case ReasonPermissionDenied:
		return CategoryPermissionRequired
	case ReasonRemoteFailed, ReasonDeviceUnavailable, ReasonChannelLost, ReasonTimeout:
		return CategoryFailed
	default:
		return CategoryEnded
	}
}

func (r TerminationReason) Valid() bool {
	switch r {
	case ReasonPermissionDenied, ReasonDeviceUnavailable, ReasonLocalCancelled,
		ReasonLocalRejected, ReasonLocalEnded, ReasonRemoteRejected, ReasonRemoteFailed,
		ReasonRemoteCancelled, ReasonRemoteEnded, ReasonChannelLost, ReasonTimeout:
		return true
	}
	return false
}

// Party identifies one side of a call. Only ID is used for routing; the rest
// is carried for display.
type Party struct {
	ID    UserID `json:"id"`
	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`
}

// CallSession is the single mutable call aggregate. It is owned by the call
// manager and must only be touched while holding the manager's lock.
type CallSession struct {
	ID        SessionID
	Direction Direction
	Kind      Kind
	State     CallState
	Local     Party
	Remote    Party
	MessageID MessageID
	CreatedAt time.Time
	// WireID is the session id put on outgoing events. It stays empty for
	// inbound calls whose caller never sent one, so the server keeps routing
	// by party ids alone.
	WireID SessionID

	signal     Signal
	hasSignal  bool
	acceptedAt time.Time
	accepted   bool
	reason     TerminationReason
	errMsg     string

	DurationSeconds int
	Muted           bool
	Speaker         bool
	Volume          float64
}

func NewCallSession(id SessionID, dir Direction, kind Kind, local, remote Party) *CallSession {
	return &CallSession{
		ID:        id,
		Direction: dir,
		Kind:      kind,
		State:     StateIdle,
		Local:     local,
		Remote:    remote,
		CreatedAt: time.Now(),
		Volume:    1,
	}
}

// RecordSignal replaces the negotiation payload. Payloads are never reapplied,
// only superseded.
func (s *CallSession) RecordSignal(sig Signal) {
	s.signal = sig
	s.hasSignal = true
}

func (s *CallSession) Signal() (Signal, bool) {
	return s.signal, s.hasSignal
}

// MarkAccepted stamps the accept instant. Only the first call has an effect.
func (s *CallSession) MarkAccepted(at time.Time) {
	if s.accepted {
		return
	}
	s.acceptedAt = at
	s.accepted = true
}

func (s *CallSession) AcceptedAt() (time.Time, bool) {
	return s.acceptedAt, s.accepted
}

// Terminate moves the session into its absorbing state. It returns false when
// the session was already terminated; the first reason always wins.
func (s *CallSession) Terminate(reason TerminationReason, cause error) bool {
	if s.State == StateTerminated {
		return false
	}
	if !reason.Valid() {
		panic(fmt.Sprintf("domain: unknown termination reason %q", reason))
	}
	s.State = StateTerminated
	s.reason = reason
	if cause != nil {
		s.errMsg = cause.Error()
	}
	return true
}

func (s *CallSession) Reason() TerminationReason {
	return s.reason
}

// Snapshot is a read-only copy of a session handed to subscribers.
type Snapshot struct {
	SessionID       SessionID         `json:"sessionId,omitempty"`
	State           CallState         `json:"state"`
	Direction       Direction         `json:"direction,omitempty"`
	Kind            Kind              `json:"kind,omitempty"`
	Local           Party             `json:"local"`
	Remote          Party             `json:"remote"`
	MessageID       MessageID         `json:"messageId,omitempty"`
	Accepted        bool              `json:"accepted"`
	DurationSeconds int               `json:"durationSeconds"`
	Duration        string            `json:"duration"`
	Muted           bool              `json:"muted"`
	Speaker         bool              `json:"speaker"`
	Volume          float64           `json:"volume"`
	Reason          TerminationReason `json:"terminationReason,omitempty"`
	Category        Category          `json:"category,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// IdleSnapshot describes the absence of a session.
func IdleSnapshot(local Party) Snapshot {
	return Snapshot{State: StateIdle, Local: local, Duration: FormatDuration(0)}
}

func (s *CallSession) Snapshot() Snapshot {
	snap := Snapshot{
		SessionID:       s.ID,
		State:           s.State,
		Direction:       s.Direction,
		Kind:            s.Kind,
		Local:           s.Local,
		Remote:          s.Remote,
		MessageID:       s.MessageID,
		Accepted:        s.accepted,
		DurationSeconds: s.DurationSeconds,
		Duration:        FormatDuration(float64(s.DurationSeconds)),
		Muted:           s.Muted,
		Speaker:         s.Speaker,
		Volume:          s.Volume,
	}
	if s.State == StateTerminated {
		snap.Reason = s.reason
		snap.Category = s.reason.Category()
		snap.Error = s.errMsg
	}
	return snap
}
