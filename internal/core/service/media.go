package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog/log"
)

// MediaHandle owns one capture stream. It is handed out by Acquire and must be
// given back exactly once through Release; extra releases are ignored.
type MediaHandle struct {
	kind   domain.Kind
	stream port.CaptureStream

	once sync.Once
}

func (h *MediaHandle) Kind() domain.Kind {
	return h.kind
}

// MediaManager owns the local capture and playback legs of the active call.
type MediaManager struct {
	device  port.MediaDevice
	metrics port.CallMetrics

	mu      sync.Mutex
	current *MediaHandle
	muted   bool
	volume  float64
}

func NewMediaManager(device port.MediaDevice, metrics port.CallMetrics) *MediaManager {
	if metrics == nil {
		metrics = port.NopMetrics{}
	}
	return &MediaManager{
		device:  device,
		metrics: metrics,
		volume:  1,
	}
}

// Acquire opens the capture stream for kind. Errors wrap either
// domain.ErrPermissionDenied or domain.ErrDeviceUnavailable.
func (m *MediaManager) Acquire(ctx context.Context, kind domain.Kind) (*MediaHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return nil, fmt.Errorf("%w: capture already held", domain.ErrDeviceUnavailable)
	}

	stream, err := m.device.OpenCapture(ctx, kind)
	if err != nil {
		m.metrics.MediaError("acquire")
		if errors.Is(err, domain.ErrPermissionDenied) || errors.Is(err, domain.ErrDeviceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}

	h := &MediaHandle{kind: kind, stream: stream}
	m.current = h
	m.muted = false
	m.resetPlaybackLocked()
	log.Debug().Str("kind", string(kind)).Msg("Capture acquired")
	return h, nil
}

// Release closes the handle's stream. It accepts nil and already released
// handles, and never fails: close errors are logged.
func (m *MediaManager) Release(h *MediaHandle) {
	if h == nil {
		return
	}
	h.once.Do(func() {
		if h.stream != nil {
			if err := h.stream.Close(); err != nil {
				m.metrics.MediaError("release")
				log.Warn().Err(err).Msg("Capture close failed")
			}
		}

		m.mu.Lock()
		if m.current == h {
			m.current = nil
			m.muted = false
			m.resetPlaybackLocked()
		}
		m.mu.Unlock()
		log.Debug().Str("kind", string(h.kind)).Msg("Capture released")
	})
}

// resetPlaybackLocked returns speaker routing and volume to the defaults a
// new session reports. Failures are logged; the call goes on.
func (m *MediaManager) resetPlaybackLocked() {
	if err := m.device.SetSpeakerRouting(false); err != nil {
		m.metrics.MediaError("speaker")
		log.Warn().Err(err).Msg("Speaker reset failed")
	}
	if err := m.device.SetPlaybackVolume(1); err != nil {
		m.metrics.MediaError("volume")
		log.Warn().Err(err).Msg("Volume reset failed")
	}
	m.volume = 1
}

// Held reports whether a capture handle is currently outstanding.
func (m *MediaManager) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// SetMuted pauses or resumes the capture stream without closing it.
func (m *MediaManager) SetMuted(muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return fmt.Errorf("%w: no capture", domain.ErrDeviceUnavailable)
	}
	if m.muted == muted {
		return nil
	}
	var err error
	if muted {
		err = m.current.stream.Pause()
	} else {
		err = m.current.stream.Resume()
	}
	if err != nil {
		m.metrics.MediaError("mute")
		log.Warn().Err(err).Bool("muted", muted).Msg("Mute toggle failed")
		return err
	}
	m.muted = muted
	return nil
}

func (m *MediaManager) SetSpeakerRouting(on bool) error {
	if err := m.device.SetSpeakerRouting(on); err != nil {
		m.metrics.MediaError("speaker")
		log.Warn().Err(err).Bool("speaker", on).Msg("Speaker routing failed")
		return err
	}
	return nil
}

// SetVolume clamps v to [0,1] and applies it to the playback leg. It returns
// the value actually requested from the device.
func (m *MediaManager) SetVolume(v float64) (float64, error) {
	if math.IsNaN(v) {
		return m.Volume(), fmt.Errorf("volume is not a number")
	}
	v = math.Max(0, math.Min(1, v))

	if err := m.device.SetPlaybackVolume(v); err != nil {
		m.metrics.MediaError("volume")
		log.Warn().Err(err).Float64("volume", v).Msg("Volume change failed")
		return m.Volume(), err
	}

	m.mu.Lock()
	m.volume = v
	m.mu.Unlock()
	return v, nil
}

func (m *MediaManager) Volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}
