package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaybackSettingsResetBetweenCalls(t *testing.T) {
	h := newHarness(t)
	h.activeInbound(t)

	_, err := h.m.SetVolume(0.2)
	require.NoError(t, err)
	_, err = h.m.SetSpeaker(true)
	require.NoError(t, err)
	speaker, volume := h.device.playback()
	require.True(t, speaker)
	require.Equal(t, 0.2, volume)

	_, err = h.m.HangUp(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.m.Dispose())

	speaker, volume = h.device.playback()
	assert.False(t, speaker, "hang up restores earpiece routing")
	assert.Equal(t, 1.0, volume)

	h.ring(t, "sess-2", false)
	snap, err := h.m.Answer(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.StateActive, snap.State)

	speaker, volume = h.device.playback()
	assert.Equal(t, snap.Speaker, speaker)
	assert.Equal(t, snap.Volume, volume)
	assert.Equal(t, 1.0, h.m.media.Volume())
	assert.False(t, snap.Speaker)
	assert.Equal(t, 1.0, snap.Volume)
}

func TestAbandonedPermissionPromptIsLocalCancel(t *testing.T) {
	t.Run("place", func(t *testing.T) {
		h := newHarness(t)
		h.gate.block = make(chan struct{})
		ctx, cancel := context.WithCancel(context.Background())

		type result struct {
			snap domain.Snapshot
			err  error
		}
		done := make(chan result, 1)
		go func() {
			snap, err := h.m.PlaceCall(ctx, bob, domain.KindAudio)
			done <- result{snap, err}
		}()
		require.Eventually(t, func() bool { return h.gate.callCount() == 1 }, time.Second, time.Millisecond)
		cancel()

		res := <-done
		require.ErrorIs(t, res.err, context.Canceled)
		assert.NotErrorIs(t, res.err, domain.ErrPermissionDenied)
		assert.Equal(t, domain.ReasonLocalCancelled, res.snap.Reason)
		assert.Equal(t, domain.CategoryEnded, res.snap.Category)
		assert.Empty(t, h.channel.sentNamed(domain.EventCallUser))
	})

	t.Run("answer", func(t *testing.T) {
		h := newHarness(t)
		h.ring(t, "sess-prompt", false)
		h.gate.block = make(chan struct{})
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan domain.Snapshot, 1)
		go func() {
			snap, _ := h.m.Answer(ctx)
			done <- snap
		}()
		require.Eventually(t, func() bool { return h.gate.callCount() == 1 }, time.Second, time.Millisecond)
		cancel()

		snap := <-done
		assert.Equal(t, domain.ReasonLocalCancelled, snap.Reason)
		rejects := h.channel.sentNamed(domain.EventRejectCall)
		require.Len(t, rejects, 1)
		assert.Equal(t, domain.RejectCancelled, rejects[0].Payload.(domain.RejectCallPayload).Reason)
		assert.Empty(t, h.device.opened())
	})
}

func TestPlaceCallSendFailure(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want domain.TerminationReason
	}{
		{"channel down", fmt.Errorf("%w: socket closed", domain.ErrChannelDisconnected), domain.ReasonChannelLost},
		{"publish timeout", errors.New("i/o timeout"), domain.ReasonRemoteFailed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.channel.failSends(tc.err)

			snap, err := h.m.PlaceCall(context.Background(), bob, domain.KindAudio)
			require.Error(t, err)
			assert.Equal(t, domain.StateTerminated, snap.State)
			assert.Equal(t, tc.want, snap.Reason)
			assert.Equal(t, domain.CategoryFailed, snap.Category)
		})
	}
}

func TestRetransmittedRingWithoutIDs(t *testing.T) {
	h := newHarness(t)
	ring := domain.IncomingCallPayload{
		CallerID: bob.ID,
		Signal:   json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	}

	h.channel.deliver(domain.EventIncomingCall, ring)
	first := h.m.Snapshot()
	require.Equal(t, domain.StateInboundRinging, first.State)

	raw, _ := json.Marshal(ring)
	err := h.m.HandleEvent(context.Background(), domain.InboundEvent{Name: domain.EventIncomingCall, Payload: raw})
	require.ErrorIs(t, err, domain.ErrStaleEvent)

	assert.Equal(t, first.SessionID, h.m.Snapshot().SessionID)
	assert.Empty(t, h.channel.sentNamed(domain.EventRejectCall), "a repeated ring is not a second caller")

	// Another caller without ids is still busy.
	h.channel.deliver(domain.EventIncomingCall, domain.IncomingCallPayload{CallerID: carol.ID})
	require.Len(t, h.channel.sentNamed(domain.EventRejectCall), 1)
}
