package domain

import "encoding/json"

// EventName is a signaling event name on the shared channel.
type EventName string

const (
	EventCallUser       EventName = "call-user"
	EventIncomingCall   EventName = "incoming-call"
	EventAnswerCall     EventName = "answer-call"
	EventCallAccepted   EventName = "call-accepted"
	EventRejectCall     EventName = "reject-call"
	EventCallRejected   EventName = "call-rejected"
	EventEndCall        EventName = "end-call"
	EventCallEnded      EventName = "call-ended"
	EventCallFailed     EventName = "call-failed"
	EventCallTerminated EventName = "call-terminated"
)

// InboundEvents lists the events the call agent subscribes to. Everything
// else on the channel belongs to other features.
var InboundEvents = []EventName{
	EventIncomingCall,
	EventCallAccepted,
	EventCallRejected,
	EventCallEnded,
	EventCallFailed,
	EventCallTerminated,
}

// InboundEvent is a raw event as delivered by a signaling channel.
type InboundEvent struct {
	Name    EventName
	Payload json.RawMessage
}

// OutboundEvent is addressed to a party so broker-style channels can route it.
// Server-routed channels ignore To and rely on the ids in the payload.
type OutboundEvent struct {
	Name    EventName
	To      UserID
	Payload any
}

type CallUserPayload struct {
	SessionID   SessionID `json:"sessionId,omitempty"`
	CallerID    UserID    `json:"callerId"`
	ReceiverID  UserID    `json:"receiverId"`
	CallerName  string    `json:"callerName"`
	CallerImage string    `json:"callerImage"`
	IsVideoCall bool      `json:"isVideoCall"`
	Signal      Signal    `json:"signal"`
}

type IncomingCallPayload struct {
	SessionID   SessionID       `json:"sessionId,omitempty"`
	CallerID    UserID          `json:"callerId"`
	CallerName  string          `json:"callerName"`
	CallerImage string          `json:"callerImage"`
	IsVideoCall bool            `json:"isVideoCall"`
	Signal      json.RawMessage `json:"signal"`
	MessageID   MessageID       `json:"messageId,omitempty"`
}

type AnswerCallPayload struct {
	SessionID SessionID `json:"sessionId,omitempty"`
	CallerID  UserID    `json:"callerId"`
	Signal    Signal    `json:"signal"`
	MessageID MessageID `json:"messageId,omitempty"`
}

type CallAcceptedPayload struct {
	SessionID SessionID       `json:"sessionId,omitempty"`
	Signal    json.RawMessage `json:"signal"`
}

type RejectCallPayload struct {
	SessionID SessionID `json:"sessionId,omitempty"`
	CallerID  UserID    `json:"callerId"`
	MessageID MessageID `json:"messageId,omitempty"`
	Reason    string    `json:"reason"`
}

type CallRejectedPayload struct {
	SessionID SessionID `json:"sessionId,omitempty"`
	Reason    string    `json:"reason"`
}

type EndCallPayload struct {
	SessionID SessionID `json:"sessionId,omitempty"`
	UserID    UserID    `json:"userId"`
	PartnerID UserID    `json:"partnerId"`
	MessageID MessageID `json:"messageId,omitempty"`
	Duration  int       `json:"duration"`
}

type CallEndedPayload struct {
	SessionID SessionID `json:"sessionId,omitempty"`
	Duration  int       `json:"duration"`
}

type CallFailedPayload struct {
	SessionID SessionID `json:"sessionId,omitempty"`
	Message   string    `json:"message"`
}

type CallTerminatedPayload struct {
	SessionID SessionID `json:"sessionId,omitempty"`
}

// Reasons sent on reject-call.
const (
	RejectDeclined         = "declined"
	RejectBusy             = "busy"
	RejectPermissionDenied = "permission-denied"
	RejectDeviceError      = "device-unavailable"
	RejectTimeout          = "timeout"
	RejectCancelled        = "cancelled"
)
