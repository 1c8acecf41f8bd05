package domain

import (
	"encoding/json"
	"fmt"
)

type SignalType string

const (
	SignalOffer  SignalType = "offer"
	SignalAnswer SignalType = "answer"
)

// Signal is an opaque negotiation payload. SDP is carried, never interpreted.
type Signal struct {
	Type SignalType `json:"type"`
	SDP  string     `json:"sdp"`
}

func NewSignal(t SignalType, sdp string) Signal {
	return Signal{
		Type: t,
		SDP:  sdp,
	}
}

// ParseSignal checks presence and the type tag of a raw signal field.
func ParseSignal(raw json.RawMessage) (Signal, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Signal{}, fmt.Errorf("%w: signal missing", ErrMalformedSignal)
	}
	var sig Signal
	if err := json.Unmarshal(raw, &sig); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrMalformedSignal, err)
	}
	switch sig.Type {
	case SignalOffer, SignalAnswer:
	default:
		return Signal{}, fmt.Errorf("%w: unknown signal type %q", ErrMalformedSignal, sig.Type)
	}
	if sig.SDP == "" {
		return Signal{}, fmt.Errorf("%w: empty sdp", ErrMalformedSignal)
	}
	return sig, nil
}
