// Package api provides HTTP handlers for the lingua API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/lingua-labs/internal/auth"
	"github.com/ashureev/lingua-labs/internal/broadcast"
	"github.com/ashureev/lingua-labs/internal/identity"
	"github.com/ashureev/lingua-labs/internal/session"
	"github.com/ashureev/lingua-labs/internal/speech"
	"github.com/ashureev/lingua-labs/internal/store"
	"github.com/ashureev/lingua-labs/internal/tutor"
)

const maxBodyBytes = 1 << 20

// Handler serves the tutor operations as JSON.
type Handler struct {
	svc                 *tutor.Service
	repo                store.Repository
	frontendRedirectURL string
}

// NewHandler creates a Handler. repo may be nil.
func NewHandler(svc *tutor.Service, repo store.Repository, frontendURL string) *Handler {
	return &Handler{
		svc:                 svc,
		repo:                repo,
		frontendRedirectURL: frontendURL,
	}
}

// RegisterRoutes mounts every route. chatLimit wraps the routes that spend
// per-user message budget.
func (h *Handler) RegisterRoutes(r chi.Router, chatLimit func(http.Handler) http.Handler) {
	if chatLimit == nil {
		chatLimit = func(next http.Handler) http.Handler { return next }
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/languages", h.Languages)
		r.Get("/languages/search", h.SearchLanguages)
		r.Get("/greet/{lang}", h.Greet)

		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions/{userID}", h.GetSession)
		r.Get("/sessions/{userID}/progress", h.GetProgress)
		r.With(chatLimit).Post("/chat", h.Chat)

		r.Post("/tokens", h.IssueToken)
		r.Post("/tokens/verify", h.VerifyToken)
		r.Post("/logout", h.Logout)

		r.Get("/rooms", h.ListRooms)
		r.Route("/rooms/{room}", func(r chi.Router) {
			r.Post("/join", h.JoinRoom)
			r.Post("/leave", h.LeaveRoom)
			r.With(chatLimit).Post("/broadcast", h.BroadcastRoom)
			r.Get("/history", h.RoomHistory)
		})

		r.Post("/translate", h.Translate)
		r.Post("/tts", h.Synthesize)

		r.Get("/status", h.Status)
		r.Get("/events", h.RecentEvents)
	})

	r.Route("/auth", func(r chi.Router) {
		r.Get("/providers", h.Providers)
		r.With(identity.RequireToken).Get("/me", h.Me)
		r.Get("/{provider}/start", h.StartLogin)
		r.Get("/{provider}/callback", h.Callback)
	})

	r.Get("/health", h.Health)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tutor.ErrInvalidInput), errors.Is(err, auth.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrNotFound), errors.Is(err, auth.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, broadcast.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, auth.ErrExchange):
		return http.StatusBadGateway
	case errors.Is(err, speech.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Internal errors are logged and
// reported without detail.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "path", r.URL.Path, "error", err)
		Error(w, status, "internal error")
		return
	}
	Error(w, status, err.Error())
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	Error(w, http.StatusBadRequest, "invalid JSON body")
	return false
}
