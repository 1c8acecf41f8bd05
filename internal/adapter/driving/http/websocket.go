package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The UI is served from another origin during development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WSClient struct {
	id   string
	conn *websocket.Conn

	mu sync.Mutex
}

func (c *WSClient) ID() string {
	return c.id
}

type frame struct {
	Event   string           `json:"event"`
	Session *domain.Snapshot `json:"session,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func (c *WSClient) SendSnapshot(snap domain.Snapshot) error {
	return c.write(frame{Event: "session", Session: &snap})
}

func (c *WSClient) write(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}

func (c *WSClient) Close() error {
	return c.conn.Close()
}

// ServeWS streams session snapshots to the UI and accepts commands in the
// other direction. Command results come back as "result" frames; the state
// change itself arrives through the snapshot stream.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := &WSClient{
		id:   uuid.NewString(),
		conn: conn,
	}

	l := log.With().Str("client_id", client.id).Logger()
	l.Info().Msg("New UI client connected")

	h.Hub.Register(client)

	defer func() {
		l.Info().Msg("UI client disconnected")
		h.Hub.Unregister(client)
		conn.Close()
	}()

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			break
		}

		snap, err := h.Run(r.Context(), cmd)
		res := frame{Event: "result", Session: &snap}
		if err != nil {
			l.Debug().Err(err).Str("command", cmd.Type).Msg("Command rejected")
			res.Error = err.Error()
		}
		if err := client.write(res); err != nil {
			l.Error().Err(err).Msg("Error writing command result")
			break
		}
	}
}
