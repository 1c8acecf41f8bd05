package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// PermissionGate asks the host for capture permissions. Check may block on a
// permission dialog.
type PermissionGate interface {
	Check(ctx context.Context, caps []domain.Capability) (domain.Grants, error)
}

// CaptureStream is a live local capture. Pause keeps the stream alive.
type CaptureStream interface {
	Pause() error
	Resume() error
	Close() error
}

// MediaDevice is the host capture/playback backend.
type MediaDevice interface {
	OpenCapture(ctx context.Context, kind domain.Kind) (CaptureStream, error)
	SetSpeakerRouting(on bool) error
	SetPlaybackVolume(v float64) error
}
