package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/lingua-labs/internal/identity"
)

// ListRooms lists active rooms.
func (h *Handler) ListRooms(w http.ResponseWriter, _ *http.Request) {
	rooms := h.svc.Rooms()
	JSON(w, http.StatusOK, map[string]any{"rooms": rooms, "online": h.svc.Online()})
}

// JoinRoom adds the caller's live connection to a room.
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	if err := h.svc.Join(r.Context(), identity.UserIDFromContext(r.Context()), room); err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "joined", "room": room})
}

// LeaveRoom removes the caller from a room.
func (h *Handler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	if err := h.svc.Leave(r.Context(), identity.UserIDFromContext(r.Context()), room); err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "left", "room": room})
}

type broadcastRequest struct {
	Payload any    `json:"payload"`
	Message string `json:"message"`
}

// BroadcastRoom sends a message to every other member of a room.
func (h *Handler) BroadcastRoom(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if !decode(w, r, &req) {
		return
	}
	payload := req.Payload
	if payload == nil && req.Message != "" {
		payload = map[string]string{"text": req.Message}
	}
	res, err := h.svc.Broadcast(r.Context(), identity.UserIDFromContext(r.Context()), chi.URLParam(r, "room"), payload)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// RoomHistory returns recent chat messages of a room.
func (h *Handler) RoomHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	room := chi.URLParam(r, "room")
	JSON(w, http.StatusOK, map[string]any{"room": room, "messages": h.svc.History(room, limit)})
}
