// Package virtual is a simulated capture/playback backend. It keeps track of
// stream state but moves no audio.
package virtual

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog/log"
)

var errStreamClosed = errors.New("capture stream closed")

type Device struct {
	mu          sync.Mutex
	streams     map[*Stream]struct{}
	speaker     bool
	volume      float64
	unavailable error
}

func New() *Device {
	return &Device{
		streams: make(map[*Stream]struct{}),
		volume:  1,
	}
}

// SetUnavailable makes subsequent opens fail with err. Pass nil to restore
// the device.
func (d *Device) SetUnavailable(err error) {
	d.mu.Lock()
	d.unavailable = err
	d.mu.Unlock()
}

func (d *Device) OpenCapture(ctx context.Context, kind domain.Kind) (port.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unavailable != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, d.unavailable)
	}
	s := &Stream{dev: d, kind: kind}
	d.streams[s] = struct{}{}
	log.Debug().Str("kind", string(kind)).Int("open", len(d.streams)).Msg("Virtual capture opened")
	return s, nil
}

func (d *Device) SetSpeakerRouting(on bool) error {
	d.mu.Lock()
	d.speaker = on
	d.mu.Unlock()
	return nil
}

func (d *Device) SetPlaybackVolume(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("volume %v out of range", v)
	}
	d.mu.Lock()
	d.volume = v
	d.mu.Unlock()
	return nil
}

type Stats struct {
	Open    int
	Paused  int
	Speaker bool
	Volume  float64
}

func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Stats{Open: len(d.streams), Speaker: d.speaker, Volume: d.volume}
	for s := range d.streams {
		if s.paused {
			st.Paused++
		}
	}
	return st
}

// Stream is guarded by its device's lock.
type Stream struct {
	dev    *Device
	kind   domain.Kind
	paused bool
	closed bool
}

func (s *Stream) Pause() error {
	return s.setPaused(true)
}

func (s *Stream) Resume() error {
	return s.setPaused(false)
}

func (s *Stream) setPaused(p bool) error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	s.paused = p
	return nil
}

func (s *Stream) Close() error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	s.closed = true
	delete(s.dev.streams, s)
	return nil
}
