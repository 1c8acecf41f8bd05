package http

import (
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/rs/zerolog/log"
)

// Client is one UI connection following the call snapshot stream.
type Client interface {
	ID() string
	SendSnapshot(snap domain.Snapshot) error
	Close() error
}

// Hub fans call snapshots out to every connected UI client. All client
// bookkeeping happens on the Run goroutine.
type Hub struct {
	clients    map[Client]bool
	broadcast  chan domain.Snapshot
	register   chan Client
	unregister chan Client
	quit       chan struct{}

	last domain.Snapshot
}

func NewHub(initial domain.Snapshot) *Hub {
	return &Hub{
		clients:    make(map[Client]bool),
		broadcast:  make(chan domain.Snapshot, 16),
		register:   make(chan Client),
		unregister: make(chan Client),
		quit:       make(chan struct{}),
		last:       initial,
	}
}

// Follow forwards snapshots from updates until it is closed or the hub stops.
func (h *Hub) Follow(updates <-chan domain.Snapshot) {
	for {
		select {
		case <-h.quit:
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			select {
			case h.broadcast <- snap:
			case <-h.quit:
				return
			}
		}
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			log.Info().Int("count", len(h.clients)).Msg("Stopping hub, disconnecting UI clients")
			for client := range h.clients {
				if err := client.Close(); err != nil {
					log.Error().Err(err).Str("client_id", client.ID()).Msg("Error closing client connection")
				}
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			log.Info().Int("count", len(h.clients)).Str("client_id", client.ID()).Msg("UI client registered")
			if err := client.SendSnapshot(h.last); err != nil {
				h.drop(client, err)
			}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				log.Info().Int("count", len(h.clients)).Str("client_id", client.ID()).Msg("UI client unregistered")
			}

		case snap := <-h.broadcast:
			h.last = snap
			for client := range h.clients {
				if err := client.SendSnapshot(snap); err != nil {
					h.drop(client, err)
				}
			}
		}
	}
}

func (h *Hub) drop(client Client, err error) {
	log.Error().Err(err).Str("client_id", client.ID()).Msg("Error sending snapshot")
	client.Close()
	delete(h.clients, client)
}

func (h *Hub) Register(c Client) {
	select {
	case h.register <- c:
	case <-h.quit:
		c.Close()
	}
}

func (h *Hub) Unregister(c Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) Stop() {
	close(h.quit)
}
