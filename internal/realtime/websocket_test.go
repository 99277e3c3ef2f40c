package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/lingua-labs/internal/auth"
	"github.com/ashureev/lingua-labs/internal/broadcast"
	"github.com/ashureev/lingua-labs/internal/identity"
	"github.com/ashureev/lingua-labs/internal/middleware"
	"github.com/ashureev/lingua-labs/internal/responder"
	"github.com/ashureev/lingua-labs/internal/session"
	"github.com/ashureev/lingua-labs/internal/tutor"
)

type firstPicker struct{}

func (firstPicker) Pick(options []string) string {
	if len(options) == 0 {
		return ""
	}
	return options[0]
}

type inbound struct {
	Type string          `json:"type"`
	Room string          `json:"room"`
	From string          `json:"from"`
	Data json.RawMessage `json:"data"`
}

type fixture struct {
	srv    *httptest.Server
	issuer *auth.Issuer
	svc    *tutor.Service
	hub    *broadcast.Hub
}

func newFixture(t *testing.T, limiter *middleware.RateLimiter) *fixture {
	t.Helper()

	issuer, err := auth.NewIssuer(auth.IssuerConfig{Secret: "ws-secret", TTL: time.Hour})
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	registry := session.NewRegistry(nil)
	hub := broadcast.NewHub(broadcast.Config{Presence: registry})
	svc := tutor.New(tutor.Config{
		Registry:  registry,
		Responder: responder.New(responder.Config{Picker: firstPicker{}}),
		Issuer:    issuer,
		Hub:       hub,
	})
	h := NewHandler(Config{Service: svc, Hub: hub, Verifier: issuer, Limiter: limiter, IsDev: true})

	srv := httptest.NewServer(identity.Middleware(issuer, true)(h))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, issuer: issuer, svc: svc, hub: hub}
}

func (f *fixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws://" + strings.TrimPrefix(f.srv.URL, "http://") + "/ws" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func (f *fixture) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := f.issuer.Issue(userID, 0)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return tok.Value
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// expect reads until an envelope of type typ arrives.
func expect(t *testing.T, conn *websocket.Conn, typ string) inbound {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var env inbound
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			t.Fatalf("waiting for %q: %v", typ, err)
		}
		if env.Type == typ {
			return env
		}
	}
}

func TestWebSocket_RoomChat(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	alice := f.dial(t, "?token="+f.token(t, "alice"))
	expect(t, alice, broadcast.TypeSystem)
	send(t, alice, map[string]string{"type": "join_chat", "room": "lobby"})
	expect(t, alice, broadcast.TypeChatJoined)

	bob := f.dial(t, "")
	send(t, bob, map[string]string{"type": "auth", "token": f.token(t, "bob")})
	authed := expect(t, bob, TypeAuthenticated)
	if !strings.Contains(string(authed.Data), `"bob"`) {
		t.Fatalf("auth data = %s", authed.Data)
	}
	send(t, bob, map[string]string{"type": "join_chat", "room": "lobby"})
	expect(t, bob, broadcast.TypeChatJoined)

	joined := expect(t, alice, broadcast.TypeUserJoined)
	if joined.From != "bob" {
		t.Fatalf("user_joined from %q", joined.From)
	}

	send(t, bob, map[string]string{"type": "chat", "room": "lobby", "text": "hola"})
	msg := expect(t, alice, broadcast.TypeChatMessage)
	if msg.From != "bob" || !strings.Contains(string(msg.Data), "hola") {
		t.Fatalf("chat message = %+v data=%s", msg, msg.Data)
	}

	send(t, alice, map[string]any{"type": "get_history", "room": "lobby"})
	hist := expect(t, alice, TypeHistory)
	if !strings.Contains(string(hist.Data), "hola") {
		t.Fatalf("history = %s", hist.Data)
	}

	send(t, bob, map[string]string{"type": "leave_chat", "room": "lobby"})
	expect(t, bob, TypeLeft)
	expect(t, alice, broadcast.TypeUserLeft)
}

func TestWebSocket_AIChatAndPing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	conn := f.dial(t, "?token="+f.token(t, "learner"))
	expect(t, conn, broadcast.TypeSystem)

	// The first ai_chat starts the session from the frame.
	send(t, conn, map[string]string{"type": "ai_chat", "message": "Привет!", "target_language": "ru", "level": "beginner"})
	resp := expect(t, conn, TypeAIResponse)
	var res tutor.ChatResult
	if err := json.Unmarshal(resp.Data, &res); err != nil {
		t.Fatalf("decode ai_response: %v", err)
	}
	if res.ProgressScore != 1 || res.Intent != responder.IntentGreeting || res.Language != "ru" {
		t.Fatalf("ai_response = %+v", res)
	}
	sess, err := f.svc.Session("learner")
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	// welcome + user + assistant
	if sess.TargetLanguage != "ru" || len(sess.Messages) != 3 {
		t.Fatalf("session = %s with %d messages", sess.TargetLanguage, len(sess.Messages))
	}

	// Later frames continue the same session.
	send(t, conn, map[string]string{"type": "ai_chat", "message": "спасибо"})
	resp = expect(t, conn, TypeAIResponse)
	if err := json.Unmarshal(resp.Data, &res); err != nil {
		t.Fatalf("decode ai_response: %v", err)
	}
	if res.ProgressScore != 2 || res.Intent != responder.IntentThanks {
		t.Fatalf("second ai_response = %+v", res)
	}

	send(t, conn, map[string]string{"type": "ping"})
	expect(t, conn, TypePong)

	send(t, conn, map[string]string{"type": "bogus"})
	expect(t, conn, TypeError)
}

func TestWebSocket_AIChatRejectsBadLevel(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	conn := f.dial(t, "?token="+f.token(t, "learner"))
	expect(t, conn, broadcast.TypeSystem)

	send(t, conn, map[string]string{"type": "ai_chat", "message": "hello", "level": "expert"})
	errEnv := expect(t, conn, TypeError)
	if !strings.Contains(string(errEnv.Data), "invalid input") {
		t.Fatalf("error data = %s", errEnv.Data)
	}
	if _, err := f.svc.Session("learner"); err == nil {
		t.Fatal("session created despite invalid level")
	}
}

func TestWebSocket_AnonymousAttachOnFirstFrame(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	conn := f.dial(t, "")
	send(t, conn, map[string]string{"type": "get_online"})
	expect(t, conn, broadcast.TypeSystem)
	online := expect(t, conn, TypeOnline)
	if !strings.Contains(string(online.Data), "anon_") {
		t.Fatalf("online = %s", online.Data)
	}
}

func TestWebSocket_RateLimited(t *testing.T) {
	t.Parallel()
	f := newFixture(t, middleware.NewRateLimiter(1, time.Hour))

	conn := f.dial(t, "?token="+f.token(t, "spammer"))
	expect(t, conn, broadcast.TypeSystem)
	send(t, conn, map[string]string{"type": "join_chat", "room": "r"})
	expect(t, conn, broadcast.TypeChatJoined)

	send(t, conn, map[string]string{"type": "chat", "room": "r", "text": "one"})
	send(t, conn, map[string]string{"type": "chat", "room": "r", "text": "two"})
	errEnv := expect(t, conn, TypeError)
	if !strings.Contains(string(errEnv.Data), "rate limit") {
		t.Fatalf("error = %s", errEnv.Data)
	}
}

func TestWebSocket_DisconnectCleansUp(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	conn := f.dial(t, "?token="+f.token(t, "gone"))
	expect(t, conn, broadcast.TypeSystem)
	if _, ok := f.hub.Connection("gone"); !ok {
		t.Fatal("connection not registered")
	}
	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := f.hub.Connection("gone"); !ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("connection not released after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
