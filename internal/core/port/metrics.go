package port

import (
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type CallMetrics interface {
	SessionStarted(dir domain.Direction, kind domain.Kind)
	SessionTerminated(reason domain.TerminationReason, talk time.Duration)
	Transition(from, to domain.CallState)
	EventDiscarded(name domain.EventName)
	MediaError(op string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) SessionStarted(domain.Direction, domain.Kind) {}
func (NopMetrics) SessionTerminated(domain.TerminationReason, time.Duration) {}
func (NopMetrics) Transition(domain.CallState, domain.CallState) {}
func (NopMetrics) EventDiscarded(domain.EventName) {}
func (NopMetrics) MediaError(string) {}
