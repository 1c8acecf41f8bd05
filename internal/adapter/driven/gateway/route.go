package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// Route rewrites an outgoing call event into the event its addressee
// receives, as the signaling server does: call-user arrives as
// incoming-call, answer-call as call-accepted, reject-call as call-rejected
// and end-call as call-ended. Other events pass through to ev.To unchanged.
func Route(ev domain.OutboundEvent) (domain.UserID, domain.InboundEvent, error) {
	raw, err := json.Marshal(ev.Payload)
	if err != nil {
		return "", domain.InboundEvent{}, fmt.Errorf("encode %s: %w", ev.Name, err)
	}

	var (
		to  domain.UserID
		out any
	)
	switch ev.Name {
	case domain.EventCallUser:
		var p domain.CallUserPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return "", domain.InboundEvent{}, fmt.Errorf("decode %s: %w", ev.Name, err)
		}
		sig, _ := json.Marshal(p.Signal)
		to = p.ReceiverID
		out = domain.IncomingCallPayload{
			SessionID:   p.SessionID,
			CallerID:    p.CallerID,
			CallerName:  p.CallerName,
			CallerImage: p.CallerImage,
			IsVideoCall: p.IsVideoCall,
			Signal:      sig,
		}
		ev.Name = domain.EventIncomingCall
	case domain.EventAnswerCall:
		var p domain.AnswerCallPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return "", domain.InboundEvent{}, fmt.Errorf("decode %s: %w", ev.Name, err)
		}
		sig, _ := json.Marshal(p.Signal)
		to = p.CallerID
		out = domain.CallAcceptedPayload{SessionID: p.SessionID, Signal: sig}
		ev.Name = domain.EventCallAccepted
	case domain.EventRejectCall:
		var p domain.RejectCallPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return "", domain.InboundEvent{}, fmt.Errorf("decode %s: %w", ev.Name, err)
		}
		to = p.CallerID
		out = domain.CallRejectedPayload{SessionID: p.SessionID, Reason: p.Reason}
		ev.Name = domain.EventCallRejected
	case domain.EventEndCall:
		var p domain.EndCallPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return "", domain.InboundEvent{}, fmt.Errorf("decode %s: %w", ev.Name, err)
		}
		to = p.PartnerID
		out = domain.CallEndedPayload{SessionID: p.SessionID, Duration: p.Duration}
		ev.Name = domain.EventCallEnded
	default:
		return ev.To, domain.InboundEvent{Name: ev.Name, Payload: raw}, nil
	}
	if to == "" {
		to = ev.To
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return "", domain.InboundEvent{}, fmt.Errorf("encode %s: %w", ev.Name, err)
	}
	return to, domain.InboundEvent{Name: ev.Name, Payload: payload}, nil
}

// Unreachable is what a caller hears when the addressee of call-user is not
// connected. ok is false for every other event.
func Unreachable(ev domain.OutboundEvent, to domain.UserID) (domain.InboundEvent, bool) {
	if ev.Name != domain.EventCallUser {
		return domain.InboundEvent{}, false
	}
	var id domain.SessionID
	if p, isPayload := ev.Payload.(domain.CallUserPayload); isPayload {
		id = p.SessionID
	}
	payload, _ := json.Marshal(domain.CallFailedPayload{
		SessionID: id,
		Message:   fmt.Sprintf("user %s is offline", to),
	})
	return domain.InboundEvent{Name: domain.EventCallFailed, Payload: payload}, true
}
