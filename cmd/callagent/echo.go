package main

import (
	"context"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/device/virtual"
	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/memory"
	"github.com/Wyydra/yacall/internal/adapter/driven/permission/static"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/rs/zerolog/log"
)

var echoParty = domain.Party{ID: "echo", Name: "Echo"}

const echoAnswerDelay = 2 * time.Second

// startEchoPeer puts a party on the loopback switch that answers every call
// after a short ring, so the agent can be driven without a server.
func startEchoPeer(sw *memory.Switch, disposeAfter time.Duration) func() {
	ch := sw.Connect(echoParty.ID)
	gate := static.New(domain.CapabilityMicrophone, domain.CapabilityCamera)
	m := service.NewCallManager(ch, gate, service.NewMediaManager(virtual.New(), nil), service.Options{
		Local:        echoParty,
		DisposeAfter: disposeAfter,
	})
	updates, unsubscribe := m.Subscribe()

	go func() {
		var answering domain.SessionID
		for snap := range updates {
			if snap.State != domain.StateInboundRinging || snap.SessionID == answering {
				continue
			}
			answering = snap.SessionID
			id := snap.SessionID
			time.AfterFunc(echoAnswerDelay, func() {
				if cur := m.Snapshot(); cur.SessionID != id || cur.State != domain.StateInboundRinging {
					return
				}
				if _, err := m.Answer(context.Background()); err != nil {
					log.Warn().Err(err).Str("user_id", echoParty.ID.String()).Msg("Echo peer failed to answer")
				}
			})
		}
	}()

	log.Info().Str("user_id", echoParty.ID.String()).Msg("Loopback echo peer ready")
	return func() {
		m.Close(context.Background())
		unsubscribe()
		_ = ch.Close()
	}
}
