package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// CallService is the command surface of the call manager.
type CallService interface {
	PlaceCall(ctx context.Context, remote domain.Party, kind domain.Kind) (domain.Snapshot, error)
	Answer(ctx context.Context) (domain.Snapshot, error)
	Reject(ctx context.Context, reason string) (domain.Snapshot, error)
	HangUp(ctx context.Context) (domain.Snapshot, error)
	Dispose() error
	SetMuted(muted bool) (domain.Snapshot, error)
	SetSpeaker(on bool) (domain.Snapshot, error)
	SetVolume(v float64) (domain.Snapshot, error)
	Snapshot() domain.Snapshot
}

type Handler struct {
	Calls   CallService
	Hub     *Hub
	Metrics http.Handler
}

// NewHandler wires the UI surface. metrics may be nil.
func NewHandler(calls CallService, hub *Hub, metrics http.Handler) *Handler {
	return &Handler{
		Calls:   calls,
		Hub:     hub,
		Metrics: metrics,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/calls", h.command("call"))
	r.Route("/session", func(r chi.Router) {
		r.Get("/", h.getSession)
		r.Post("/{command}", h.sessionCommand)
	})
	r.Get("/ws", h.ServeWS)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics)
	}
	return r
}

// Command is a UI request, over REST or the websocket.
type Command struct {
	Type        string        `json:"type,omitempty"`
	RemoteID    domain.UserID `json:"remoteId,omitempty"`
	RemoteName  string        `json:"remoteName,omitempty"`
	RemoteImage string        `json:"remoteImage,omitempty"`
	Video       bool          `json:"video,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Muted       *bool         `json:"muted,omitempty"`
	On          *bool         `json:"on,omitempty"`
	Volume      *float64      `json:"volume,omitempty"`
}

type response struct {
	Session domain.Snapshot `json:"session"`
	Error   string          `json:"error,omitempty"`
}

// Run applies cmd to the call service.
func (h *Handler) Run(ctx context.Context, cmd Command) (domain.Snapshot, error) {
	switch cmd.Type {
	case "call":
		remote := domain.Party{ID: cmd.RemoteID, Name: cmd.RemoteName, Image: cmd.RemoteImage}
		return h.Calls.PlaceCall(ctx, remote, domain.KindFromVideo(cmd.Video))
	case "answer":
		return h.Calls.Answer(ctx)
	case "reject":
		return h.Calls.Reject(ctx, cmd.Reason)
	case "hangup":
		return h.Calls.HangUp(ctx)
	case "dispose":
		err := h.Calls.Dispose()
		return h.Calls.Snapshot(), err
	case "mute":
		if cmd.Muted == nil {
			return h.Calls.Snapshot(), fmt.Errorf("%w: muted is required", domain.ErrInvalidArgument)
		}
		return h.Calls.SetMuted(*cmd.Muted)
	case "speaker":
		if cmd.On == nil {
			return h.Calls.Snapshot(), fmt.Errorf("%w: on is required", domain.ErrInvalidArgument)
		}
		return h.Calls.SetSpeaker(*cmd.On)
	case "volume":
		if cmd.Volume == nil {
			return h.Calls.Snapshot(), fmt.Errorf("%w: volume is required", domain.ErrInvalidArgument)
		}
		return h.Calls.SetVolume(*cmd.Volume)
	default:
		return h.Calls.Snapshot(), fmt.Errorf("%w: unknown command %q", domain.ErrInvalidArgument, cmd.Type)
	}
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, response{Session: h.Calls.Snapshot()})
}

func (h *Handler) sessionCommand(w http.ResponseWriter, r *http.Request) {
	h.command(chi.URLParam(r, "command"))(w, r)
}

func (h *Handler) command(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cmd Command
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
				writeJSON(w, http.StatusBadRequest, response{
					Session: h.Calls.Snapshot(),
					Error:   fmt.Sprintf("invalid body: %v", err),
				})
				return
			}
		}
		cmd.Type = name

		snap, err := h.Run(r.Context(), cmd)
		if err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError {
				log.Error().Err(err).Str("command", name).Msg("Command failed")
			}
			writeJSON(w, status, response{Session: snap, Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, response{Session: snap})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrBusy),
		errors.Is(err, domain.ErrStaleEvent),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrChannelDisconnected):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Error writing response")
	}
}
