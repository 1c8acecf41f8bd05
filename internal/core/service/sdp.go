package service

import (
	"hash/fnv"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/pion/sdp/v3"
	"github.com/rs/zerolog/log"
)

// fallbackSDP is used when the canned description cannot be marshalled.
const fallbackSDP = "v=0\r\no=- 0 0 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n"

type cannedCodec struct {
	media   string
	payload string
	rtpmap  string
}

var (
	cannedAudio = cannedCodec{media: "audio", payload: "111", rtpmap: "111 opus/48000/2"}
	cannedVideo = cannedCodec{media: "video", payload: "96", rtpmap: "96 VP8/90000"}
)

// cannedSignal builds the placeholder negotiation payload exchanged on
// call-user and answer-call. No media is ever negotiated from it.
func cannedSignal(t domain.SignalType, kind domain.Kind, id domain.SessionID) domain.Signal {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	sessID := h.Sum64() >> 1

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessID,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "0.0.0.0",
		},
		SessionName: sdp.SessionName("yacall"),
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	codecs := []cannedCodec{cannedAudio}
	if kind.IsVideo() {
		codecs = append(codecs, cannedVideo)
	}
	for _, c := range codecs {
		desc.MediaDescriptions = append(desc.MediaDescriptions, &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   c.media,
				Port:    sdp.RangedPort{Value: 9},
				Protos:  []string{"UDP", "TLS", "RTP", "SAVPF"},
				Formats: []string{c.payload},
			},
			ConnectionInformation: &sdp.ConnectionInformation{
				NetworkType: "IN",
				AddressType: "IP4",
				Address:     &sdp.Address{Address: "0.0.0.0"},
			},
			Attributes: []sdp.Attribute{
				sdp.NewAttribute("mid", c.media),
				sdp.NewAttribute("rtpmap", c.rtpmap),
				sdp.NewPropertyAttribute("sendrecv"),
			},
		})
	}

	raw, err := desc.Marshal()
	if err != nil {
		log.Warn().Err(err).Str("session_id", id.String()).Msg("Canned SDP marshal failed")
		return domain.NewSignal(t, fallbackSDP)
	}
	return domain.NewSignal(t, string(raw))
}
