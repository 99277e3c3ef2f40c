// Package tutor composes the session registry, responder, token issuer,
// broadcaster and external collaborators into the operations served over
// HTTP and WebSocket.
//
// Replies and collaborator calls are computed from a session snapshot with no
// lock held; the result is applied to the session afterwards.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/lingua-labs/internal/auth"
	"github.com/ashureev/lingua-labs/internal/broadcast"
	"github.com/ashureev/lingua-labs/internal/domain"
	"github.com/ashureev/lingua-labs/internal/greeting"
	"github.com/ashureev/lingua-labs/internal/responder"
	"github.com/ashureev/lingua-labs/internal/session"
	"github.com/ashureev/lingua-labs/internal/shared"
	"github.com/ashureev/lingua-labs/internal/speech"
	"github.com/ashureev/lingua-labs/internal/translate"
)

// ErrInvalidInput is returned when a required field is missing or malformed.
var ErrInvalidInput = errors.New("invalid input")

// EventSink receives fire-and-forget log events.
type EventSink interface {
	Log(kind string, payload any)
}

// Translator translates text and degrades instead of failing.
type Translator interface {
	Translate(ctx context.Context, req translate.Request) (translate.Result, error)
}

// UserStore persists identity-provider profiles.
type UserStore interface {
	UpsertUser(ctx context.Context, user *domain.User) error
}

type nopSink struct{}

func (nopSink) Log(string, any) {}

// Config wires a Service. Registry, Responder, Greetings, Issuer and Hub are
// required; the rest are optional collaborators.
type Config struct {
	Registry  *session.Registry
	Responder *responder.Engine
	Greetings *greeting.Store
	Issuer    *auth.Issuer
	Hub       *broadcast.Hub

	Identity   auth.IdentityProvider
	Users      UserStore
	Translator Translator
	Speech     speech.Synthesizer
	Events     EventSink

	DefaultLanguage string
	TokenTTL        time.Duration
	// Capabilities is reported by Status.
	Capabilities map[string]shared.Capability
	Now          func() time.Time
}

// Service implements the tutor operations. It is safe for concurrent use.
type Service struct {
	registry   *session.Registry
	responder  *responder.Engine
	greetings  *greeting.Store
	issuer     *auth.Issuer
	hub        *broadcast.Hub
	identity   auth.IdentityProvider
	users      UserStore
	translator Translator
	speech     speech.Synthesizer
	events     EventSink

	defaultLanguage string
	tokenTTL        time.Duration
	capabilities    map[string]shared.Capability
	now             func() time.Time
	startedAt       time.Time
}

// New creates a Service.
func New(cfg Config) *Service {
	s := &Service{
		registry:        cfg.Registry,
		responder:       cfg.Responder,
		greetings:       cfg.Greetings,
		issuer:          cfg.Issuer,
		hub:             cfg.Hub,
		identity:        cfg.Identity,
		users:           cfg.Users,
		translator:      cfg.Translator,
		speech:          cfg.Speech,
		events:          cfg.Events,
		defaultLanguage: cfg.DefaultLanguage,
		tokenTTL:        cfg.TokenTTL,
		capabilities:    cfg.Capabilities,
		now:             cfg.Now,
	}
	if s.events == nil {
		s.events = nopSink{}
	}
	if s.greetings == nil {
		s.greetings = greeting.NewStore()
	}
	if s.defaultLanguage == "" {
		s.defaultLanguage = greeting.DefaultLanguage
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.startedAt = s.now()
	return s
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// SessionSummary is returned when a session is created.
type SessionSummary struct {
	UserID         string       `json:"user_id"`
	TargetLanguage string       `json:"target_language"`
	Level          domain.Level `json:"level"`
	Welcome        string       `json:"welcome_message"`
	Greeting       string       `json:"greeting"`
	ProgressScore  int          `json:"progress_score"`
	CreatedAt      time.Time    `json:"created_at"`
}

// CreateSession starts (or restarts) a learning session for userID in
// language and makes it the user's active session.
func (s *Service) CreateSession(_ context.Context, userID, language, level string) (SessionSummary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return SessionSummary{}, invalid("user_id is required")
	}
	language = greeting.Normalize(language)
	if language == "" {
		language = s.defaultLanguage
	}
	lvl, err := domain.ParseLevel(level)
	if err != nil {
		return SessionSummary{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	welcome := responder.Welcome(language, lvl)
	sess, err := s.registry.Create(userID, language, lvl, domain.Message{
		Role:      domain.RoleAssistant,
		Text:      welcome,
		Timestamp: s.now(),
		Language:  language,
	})
	if err != nil {
		return SessionSummary{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	s.events.Log(domain.EventSessionCreated, map[string]any{
		"user_id":  userID,
		"language": language,
		"level":    lvl,
	})
	slog.Info("Learning session created", "user_id", userID, "language", language, "level", lvl)

	return SessionSummary{
		UserID:         sess.UserID,
		TargetLanguage: sess.TargetLanguage,
		Level:          sess.Level,
		Welcome:        welcome,
		Greeting:       s.greetings.Greet(language),
		ProgressScore:  sess.ProgressScore,
		CreatedAt:      sess.CreatedAt,
	}, nil
}

// ChatResult is the outcome of SendMessage.
type ChatResult struct {
	Reply         string           `json:"reply"`
	Suggestions   []string         `json:"suggestions"`
	ProgressScore int              `json:"progress_score"`
	ProgressDelta int              `json:"progress_delta"`
	Confidence    float64          `json:"confidence"`
	Intent        responder.Intent `json:"intent"`
	NextTopic     string           `json:"next_topic,omitempty"`
	Language      string           `json:"language"`
}

// SendMessage records a learner message on the active session and returns
// the tutor reply.
func (s *Service) SendMessage(ctx context.Context, userID, text string) (ChatResult, error) {
	userID = strings.TrimSpace(userID)
	text = strings.TrimSpace(text)
	if userID == "" || text == "" {
		return ChatResult{}, invalid("user_id and message are required")
	}

	snapshot, err := s.registry.Get(userID)
	if err != nil {
		return ChatResult{}, err
	}

	// No session lock is held while the reply is computed.
	reply := s.responder.Respond(ctx, snapshot, text)

	now := s.now()
	confidence := reply.Confidence
	// The reply belongs to the snapshot's language even if another session
	// became active meanwhile.
	updated, err := s.registry.UpdateLanguage(userID, snapshot.TargetLanguage, func(sess *domain.Session) error {
		sess.Append(domain.Message{Role: domain.RoleUser, Text: text, Timestamp: now, Language: sess.TargetLanguage})
		sess.Append(domain.Message{
			Role:       domain.RoleAssistant,
			Text:       reply.Text,
			Timestamp:  now,
			Language:   sess.TargetLanguage,
			Confidence: &confidence,
		})
		sess.AddProgress(reply.ProgressDelta)
		sess.CoverTopic(reply.Topic)
		return nil
	})
	if err != nil {
		return ChatResult{}, err
	}

	s.events.Log(domain.EventMessage, map[string]any{
		"user_id":  userID,
		"language": updated.TargetLanguage,
		"intent":   reply.Intent,
		"delta":    reply.ProgressDelta,
	})

	return ChatResult{
		Reply:         reply.Text,
		Suggestions:   reply.Suggestions,
		ProgressScore: updated.ProgressScore,
		ProgressDelta: reply.ProgressDelta,
		Confidence:    reply.Confidence,
		Intent:        reply.Intent,
		NextTopic:     reply.NextTopic,
		Language:      updated.TargetLanguage,
	}, nil
}

// Session returns the user's active session.
func (s *Service) Session(userID string) (domain.Session, error) {
	return s.registry.Get(userID)
}

// SessionStats returns activity statistics for the active session.
func (s *Service) SessionStats(userID string) (domain.Stats, error) {
	return s.registry.Stats(userID)
}

// Progress returns level progress for the active session.
func (s *Service) Progress(userID string) (domain.Progress, error) {
	return s.registry.Progress(userID)
}

// IssueToken creates a server session and a bearer token for userID.
func (s *Service) IssueToken(_ context.Context, userID string) (auth.Token, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return auth.Token{}, invalid("user_id is required")
	}
	tok, err := s.issuer.Issue(userID, s.tokenTTL)
	if err != nil {
		return auth.Token{}, fmt.Errorf("issue token: %w", err)
	}
	s.events.Log(domain.EventTokenIssued, map[string]any{"user_id": userID, "session_id": tok.SessionID})
	return tok, nil
}

// VerifyToken validates a bearer token. Every failure wraps auth.ErrInvalid.
func (s *Service) VerifyToken(_ context.Context, token string) (*auth.Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, auth.ErrMalformed
	}
	claims, err := s.issuer.Verify(token)
	if err != nil {
		slog.Debug("Token rejected", "error", err)
		return nil, err
	}
	return claims, nil
}

// Logout revokes the server session the token is bound to.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.VerifyToken(ctx, token)
	if err != nil {
		return err
	}
	if err := s.issuer.Revoke(claims.SessionID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.events.Log(domain.EventLogout, map[string]any{"user_id": claims.Subject, "session_id": claims.SessionID})
	slog.Info("User logged out", "user_id", claims.Subject)
	return nil
}

// Join adds userID to room.
func (s *Service) Join(ctx context.Context, userID, room string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(room) == "" {
		return invalid("user_id and room are required")
	}
	if err := s.hub.Join(ctx, userID, room); err != nil {
		return err
	}
	s.events.Log(domain.EventRoom, map[string]any{"user_id": userID, "room": room, "action": "join"})
	return nil
}

// Leave removes userID from room. Leaving a room twice is a no-op.
func (s *Service) Leave(ctx context.Context, userID, room string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(room) == "" {
		return invalid("user_id and room are required")
	}
	if err := s.hub.Leave(ctx, userID, room); err != nil {
		return err
	}
	s.events.Log(domain.EventRoom, map[string]any{"user_id": userID, "room": room, "action": "leave"})
	return nil
}

// Broadcast sends a chat message from userID to every other member of room.
func (s *Service) Broadcast(ctx context.Context, userID, room string, payload any) (broadcast.Result, error) {
	if strings.TrimSpace(room) == "" {
		return broadcast.Result{}, invalid("room is required")
	}
	if payload == nil {
		return broadcast.Result{}, invalid("payload is required")
	}
	env := broadcast.Envelope{
		Type:      broadcast.TypeChatMessage,
		Room:      room,
		From:      userID,
		Data:      payload,
		Timestamp: s.now(),
	}
	return s.hub.Broadcast(ctx, room, env, userID), nil
}

// Rooms lists active rooms.
func (s *Service) Rooms() []broadcast.RoomInfo {
	return s.hub.Rooms()
}

// History returns up to limit recent chat messages for room.
func (s *Service) History(room string, limit int) []broadcast.Envelope {
	return s.hub.History(room, limit)
}

// Online lists connected users.
func (s *Service) Online() []string {
	return s.hub.Online()
}

// Greet returns the greeting for a language code. Unknown codes get the
// default language greeting.
func (s *Service) Greet(code string) greeting.Info {
	info := s.greetings.Info(code)
	if !s.greetings.Supports(code) {
		info.Greeting = s.greetings.Greet(code)
	}
	s.events.Log(domain.EventGreeting, map[string]any{"language": info.Code})
	return info
}

// Languages lists every supported language.
func (s *Service) Languages() []greeting.Info {
	return s.greetings.All()
}

// SearchLanguages finds languages matching query.
func (s *Service) SearchLanguages(query string) []greeting.Info {
	codes := s.greetings.Search(query)
	out := make([]greeting.Info, 0, len(codes))
	for _, code := range codes {
		out = append(out, s.greetings.Info(code))
	}
	return out
}

// Translate translates text. Backend failures produce the original text with
// confidence 0; only missing fields are errors.
func (s *Service) Translate(ctx context.Context, req translate.Request) (translate.Result, error) {
	if strings.TrimSpace(req.Text) == "" || strings.TrimSpace(req.Target) == "" {
		return translate.Result{}, invalid("text and target language are required")
	}
	if s.translator == nil {
		return translate.Result{
			Text:     req.Text,
			Original: req.Text,
			Source:   req.Source,
			Target:   req.Target,
			Backend:  "fallback",
		}, nil
	}
	res, err := s.translator.Translate(ctx, req)
	if err != nil {
		return translate.Result{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	s.events.Log(domain.EventTranslation, map[string]any{
		"source":     res.Source,
		"language":   res.Target,
		"backend":    res.Backend,
		"confidence": res.Confidence,
	})
	return res, nil
}

// Synthesize renders text as WAV audio. When synthesis is unavailable or
// fails the audio is nil and the error wraps speech.ErrUnavailable.
func (s *Service) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, invalid("text is required")
	}
	if language == "" {
		language = s.defaultLanguage
	}
	if s.speech == nil {
		return nil, speech.ErrUnavailable
	}
	audio, err := s.speech.Synthesize(ctx, text, language)
	if err != nil {
		return nil, err
	}
	s.events.Log(domain.EventSpeech, map[string]any{"language": language, "bytes": len(audio)})
	return audio, nil
}

// Providers lists configured identity providers.
func (s *Service) Providers() []auth.ProviderInfo {
	if p, ok := s.identity.(interface{ Providers() []auth.ProviderInfo }); ok {
		return p.Providers()
	}
	return []auth.ProviderInfo{}
}

// AuthURL returns the provider authorization URL to redirect a user to.
func (s *Service) AuthURL(provider string) (string, error) {
	if s.identity == nil {
		return "", auth.ErrUnknownProvider
	}
	return s.identity.AuthURL(provider)
}

// LoginResult is returned by CompleteLogin.
type LoginResult struct {
	Token auth.Token  `json:"token"`
	User  domain.User `json:"user"`
}

// CompleteLogin finishes the OAuth flow: it exchanges the code, persists the
// profile and issues a bearer token for the user.
func (s *Service) CompleteLogin(ctx context.Context, provider, code, state string) (LoginResult, error) {
	if s.identity == nil {
		return LoginResult{}, auth.ErrUnknownProvider
	}
	if code == "" || state == "" {
		return LoginResult{}, invalid("code and state are required")
	}

	id, err := s.identity.Exchange(ctx, provider, code, state)
	if err != nil {
		return LoginResult{}, err
	}
	user := id.Profile
	now := s.now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.LastLogin = now

	if s.users != nil {
		if err := s.users.UpsertUser(ctx, &user); err != nil {
			slog.Error("Failed to persist user profile", "user_id", user.UserID, "error", err)
		}
	}

	tok, err := s.issuer.IssueForProvider(user.UserID, provider, s.tokenTTL)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}
	s.events.Log(domain.EventLogin, map[string]any{"user_id": user.UserID, "provider": provider})
	slog.Info("User logged in", "user_id", user.UserID, "provider", provider)
	return LoginResult{Token: tok, User: user}, nil
}

// Status summarizes the running service.
type Status struct {
	Sessions       int               `json:"sessions"`
	ActiveTokens   int               `json:"active_tokens"`
	Connections    int               `json:"connections"`
	Rooms          int               `json:"rooms"`
	HistoryMessage int               `json:"history_messages"`
	Languages      int               `json:"languages"`
	Capabilities   map[string]string `json:"capabilities"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
}

// Status reports counters and capability state.
func (s *Service) Status() Status {
	hs := s.hub.Stats()
	caps := make(map[string]string, len(s.capabilities))
	for name, c := range s.capabilities {
		caps[name] = c.String()
	}
	return Status{
		Sessions:       s.registry.Len(),
		ActiveTokens:   s.issuer.ActiveSessions(),
		Connections:    hs.Connections,
		Rooms:          hs.Rooms,
		HistoryMessage: hs.HistoryMessages,
		Languages:      len(s.greetings.Languages()),
		Capabilities:   caps,
		UptimeSeconds:  int64(s.now().Sub(s.startedAt) / time.Second),
	}
}
