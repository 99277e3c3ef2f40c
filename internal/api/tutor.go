package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/lingua-labs/internal/identity"
)

// Languages lists supported languages.
func (h *Handler) Languages(w http.ResponseWriter, _ *http.Request) {
	langs := h.svc.Languages()
	JSON(w, http.StatusOK, map[string]any{"languages": langs, "total": len(langs)})
}

// SearchLanguages finds languages matching ?q=.
func (h *Handler) SearchLanguages(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		Error(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	results := h.svc.SearchLanguages(q)
	JSON(w, http.StatusOK, map[string]any{"query": q, "results": results, "count": len(results)})
}

// Greet returns the greeting for a language.
func (h *Handler) Greet(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.svc.Greet(chi.URLParam(r, "lang")))
}

// userFrom prefers an explicit user id, then the request identity.
func userFrom(r *http.Request, explicit string) string {
	if identity.Authenticated(r.Context()) {
		return identity.UserIDFromContext(r.Context())
	}
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	return identity.UserIDFromContext(r.Context())
}

type createSessionRequest struct {
	UserID   string `json:"user_id"`
	Language string `json:"language"`
	Level    string `json:"level"`
}

// CreateSession starts a learning session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decode(w, r, &req) {
		return
	}
	sum, err := h.svc.CreateSession(r.Context(), userFrom(r, req.UserID), req.Language, req.Level)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, sum)
}

// GetSession returns the active session and its statistics.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sess, err := h.svc.Session(userID)
	if err != nil {
		fail(w, r, err)
		return
	}
	stats, err := h.svc.SessionStats(userID)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"session": sess, "stats": stats})
}

// GetProgress returns level progress for the active session.
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Progress(chi.URLParam(r, "userID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, p)
}

type chatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// Chat sends a learner message to the tutor.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.SendMessage(r.Context(), userFrom(r, req.UserID), req.Message)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}
