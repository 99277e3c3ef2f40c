// Package realtime serves the WebSocket endpoint that attaches browser
// clients to the broadcast hub and the tutor.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/lingua-labs/internal/broadcast"
	"github.com/ashureev/lingua-labs/internal/identity"
	"github.com/ashureev/lingua-labs/internal/middleware"
	"github.com/ashureev/lingua-labs/internal/session"
	"github.com/ashureev/lingua-labs/internal/tutor"
)

// Envelope types sent only by this endpoint.
const (
	TypeAuthenticated = "authenticated"
	TypeAIResponse    = "ai_response"
	TypeHistory       = "chat_history"
	TypeOnline        = "online_users"
	TypePong          = "pong"
	TypeError         = "error"
	TypeLeft          = "chat_left"
)

const (
	defaultHistoryLimit = 50
	readLimit           = 64 << 10
)

// frame is an inbound client message.
type frame struct {
	Type    string `json:"type"`
	Token   string `json:"token,omitempty"`
	Room    string `json:"room,omitempty"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Typing  bool   `json:"is_typing,omitempty"`
	// ai_chat starts a learning session with these when none exists.
	TargetLanguage string `json:"target_language,omitempty"`
	Level          string `json:"level,omitempty"`
}

func (f frame) body() string {
	if f.Text != "" {
		return f.Text
	}
	return f.Message
}

// Config configures a Handler.
type Config struct {
	Service        *tutor.Service
	Hub            *broadcast.Hub
	Verifier       identity.Verifier
	Limiter        *middleware.RateLimiter
	AllowedOrigins []string
	IsDev          bool
	Now            func() time.Time
}

// Handler handles WebSocket chat sessions.
type Handler struct {
	svc            *tutor.Service
	hub            *broadcast.Hub
	verifier       identity.Verifier
	limiter        *middleware.RateLimiter
	allowedOrigins []string
	isDev          bool
	now            func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) *Handler {
	h := &Handler{
		svc:            cfg.Service,
		hub:            cfg.Hub,
		verifier:       cfg.Verifier,
		limiter:        cfg.Limiter,
		allowedOrigins: cfg.AllowedOrigins,
		isDev:          cfg.IsDev,
		now:            cfg.Now,
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// wsSink adapts a websocket.Conn to broadcast.Sink.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(ctx context.Context, env broadcast.Envelope) error {
	return wsjson.Write(ctx, s.conn, env)
}

func (s *wsSink) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "disconnected")
}

// client is the per-socket state owned by the read loop.
type client struct {
	sink   *wsSink
	userID string
	// conn is nil until the client is attached to the hub.
	conn *broadcast.Connection
}

// ServeHTTP implements http.Handler for WebSocket upgrade. Clients that
// presented a token are attached at once; others are attached as their
// anonymous identity on the first frame unless that frame is "auth".
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "user_id", userID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(readLimit)

	// The request context is cancelled when the handler returns.
	ctx := r.Context()
	c := &client{sink: &wsSink{conn: ws}, userID: userID}
	defer func() {
		if c.conn != nil {
			h.hub.Release(context.WithoutCancel(ctx), c.conn)
			return
		}
		_ = ws.Close(websocket.StatusNormalClosure, "session ended")
	}()

	if identity.Authenticated(ctx) {
		if err := h.attach(ctx, c, userID); err != nil {
			return
		}
	}

	h.readLoop(ctx, ws, c)
	slog.Info("WebSocket session ended", "user_id", c.userID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func (h *Handler) attach(ctx context.Context, c *client, userID string) error {
	conn, err := h.hub.Connect(ctx, userID, c.sink)
	if err != nil {
		slog.Warn("Failed to attach WebSocket to hub", "user_id", userID, "error", err)
		return err
	}
	c.userID = userID
	c.conn = conn
	return nil
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, c *client) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed", "user_id", c.userID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", c.userID)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil || f.Type == "" {
			h.reply(ctx, c, errorEnvelope("invalid message format", h.now()))
			continue
		}

		if f.Type == "auth" {
			h.handleAuth(ctx, c, f)
			continue
		}
		if c.conn == nil {
			if err := h.attach(ctx, c, c.userID); err != nil {
				return
			}
		}
		h.hub.Touch(c.userID)
		h.dispatch(ctx, c, f)
	}
}

func (h *Handler) handleAuth(ctx context.Context, c *client, f frame) {
	if c.conn != nil {
		h.reply(ctx, c, errorEnvelope("already authenticated", h.now()))
		return
	}
	claims, err := h.verifier.Verify(strings.TrimSpace(f.Token))
	if err != nil {
		slog.Debug("WebSocket auth rejected", "error", err)
		h.reply(ctx, c, errorEnvelope("invalid token", h.now()))
		return
	}
	if err := h.attach(ctx, c, claims.Subject); err != nil {
		return
	}
	h.reply(ctx, c, broadcast.Envelope{
		Type:      TypeAuthenticated,
		Data:      map[string]any{"user_id": claims.Subject},
		Timestamp: h.now(),
	})
}

//nolint:gocognit // Frame dispatch covers every client message type.
func (h *Handler) dispatch(ctx context.Context, c *client, f frame) {
	now := h.now()
	switch f.Type {
	case "join_chat":
		if err := h.svc.Join(ctx, c.userID, f.Room); err != nil {
			h.reply(ctx, c, errorEnvelope(err.Error(), now))
		}

	case "leave_chat":
		if err := h.svc.Leave(ctx, c.userID, f.Room); err != nil {
			h.reply(ctx, c, errorEnvelope(err.Error(), now))
			return
		}
		h.reply(ctx, c, broadcast.Envelope{Type: TypeLeft, Room: f.Room, Timestamp: now})

	case "chat":
		if !h.allow(ctx, c) {
			return
		}
		text := strings.TrimSpace(f.body())
		if text == "" {
			h.reply(ctx, c, errorEnvelope("message is required", now))
			return
		}
		if _, err := h.svc.Broadcast(ctx, c.userID, f.Room, map[string]any{"text": text}); err != nil {
			h.reply(ctx, c, errorEnvelope(err.Error(), now))
		}

	case "ai_chat":
		if !h.allow(ctx, c) {
			return
		}
		res, err := h.aiChat(ctx, c.userID, f)
		if err != nil {
			h.reply(ctx, c, errorEnvelope(err.Error(), now))
			return
		}
		h.reply(ctx, c, broadcast.Envelope{Type: TypeAIResponse, Data: res, Timestamp: h.now()})

	case "typing":
		if f.Room == "" {
			return
		}
		h.hub.Broadcast(ctx, f.Room, broadcast.Envelope{
			Type:      broadcast.TypeTyping,
			From:      c.userID,
			Data:      map[string]any{"user_id": c.userID, "is_typing": f.Typing},
			Timestamp: now,
		}, c.userID)

	case "get_history":
		limit := f.Limit
		if limit <= 0 {
			limit = defaultHistoryLimit
		}
		h.reply(ctx, c, broadcast.Envelope{Type: TypeHistory, Room: f.Room, Data: h.svc.History(f.Room, limit), Timestamp: now})

	case "get_online":
		h.reply(ctx, c, broadcast.Envelope{Type: TypeOnline, Data: h.svc.Online(), Timestamp: now})

	case "ping":
		h.reply(ctx, c, broadcast.Envelope{Type: TypePong, Timestamp: now})

	default:
		h.reply(ctx, c, errorEnvelope("unknown message type: "+f.Type, now))
	}
}

// aiChat sends a tutor message, starting a session from the frame's
// target_language and level on first use.
func (h *Handler) aiChat(ctx context.Context, userID string, f frame) (tutor.ChatResult, error) {
	res, err := h.svc.SendMessage(ctx, userID, f.body())
	if !errors.Is(err, session.ErrNotFound) {
		return res, err
	}
	if _, err := h.svc.CreateSession(ctx, userID, f.TargetLanguage, f.Level); err != nil {
		return tutor.ChatResult{}, err
	}
	slog.Info("Learning session started from chat", "user_id", userID, "language", f.TargetLanguage)
	return h.svc.SendMessage(ctx, userID, f.body())
}

func (h *Handler) allow(ctx context.Context, c *client) bool {
	if h.limiter == nil || h.limiter.Allow(c.userID) {
		return true
	}
	h.reply(ctx, c, errorEnvelope("rate limit exceeded", h.now()))
	return false
}

// reply writes to the client, through the hub once attached so writes stay
// serialized with broadcasts.
func (h *Handler) reply(ctx context.Context, c *client, env broadcast.Envelope) {
	if c.conn != nil {
		if err := h.hub.SendTo(ctx, c.userID, env); err != nil {
			slog.Debug("Failed to send WebSocket reply", "user_id", c.userID, "error", err)
		}
		return
	}
	if err := c.sink.Send(ctx, env); err != nil {
		slog.Debug("Failed to send WebSocket reply", "user_id", c.userID, "error", err)
	}
}

func errorEnvelope(msg string, now time.Time) broadcast.Envelope {
	return broadcast.Envelope{Type: TypeError, Data: map[string]string{"message": msg}, Timestamp: now}
}
