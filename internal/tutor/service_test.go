package tutor

import (
	"context"
	"errors"
	"sync"
	"testing"
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

type firstPicker struct{}

func (firstPicker) Pick(options []string) string {
	if len(options) == 0 {
		return ""
	}
	return options[0]
}

type recordedEvent struct {
	kind    string
	payload any
}

type memorySink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (m *memorySink) Log(kind string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, recordedEvent{kind, payload})
}

func (m *memorySink) kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.kind)
	}
	return out
}

type nullSink struct{}

func (nullSink) Send(context.Context, broadcast.Envelope) error { return nil }
func (nullSink) Close() error                                   { return nil }

type fakeIdentity struct {
	profile domain.User
	err     error
}

func (f fakeIdentity) AuthURL(provider string) (string, error) {
	if provider != "github" {
		return "", auth.ErrUnknownProvider
	}
	return "https://github.example/authorize?state=abc", nil
}

func (f fakeIdentity) Exchange(context.Context, string, string, string) (auth.Identity, error) {
	if f.err != nil {
		return auth.Identity{}, f.err
	}
	return auth.Identity{AccessToken: "at", Profile: f.profile}, nil
}

type fakeUsers struct {
	mu    sync.Mutex
	saved []domain.User
}

func (f *fakeUsers) UpsertUser(_ context.Context, u *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, *u)
	return nil
}

type failingSpeech struct{}

func (failingSpeech) Synthesize(context.Context, string, string) ([]byte, error) {
	return nil, speech.ErrUnavailable
}

type harness struct {
	svc    *Service
	events *memorySink
	hub    *broadcast.Hub
	issuer *auth.Issuer
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	issuer, err := auth.NewIssuer(auth.IssuerConfig{Secret: "test-secret", TTL: time.Hour})
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	registry := session.NewRegistry(nil)
	hub := broadcast.NewHub(broadcast.Config{Presence: registry})
	events := &memorySink{}

	cfg := Config{
		Registry:  registry,
		Responder: responder.New(responder.Config{Picker: firstPicker{}}),
		Greetings: greeting.NewStore(),
		Issuer:    issuer,
		Hub:       hub,
		Events:    events,
		TokenTTL:  time.Hour,
		Capabilities: map[string]shared.Capability{
			"llm": shared.Unavailable,
			"tts": shared.Available,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &harness{svc: New(cfg), events: events, hub: hub, issuer: issuer}
}

func TestCreateSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	sum, err := h.svc.CreateSession(context.Background(), "u1", "ES-mx", "")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if sum.TargetLanguage != "es" || sum.Level != domain.LevelBeginner {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.Welcome == "" || sum.Greeting != "Hola, Mundo!" {
		t.Fatalf("summary welcome/greeting = %q/%q", sum.Welcome, sum.Greeting)
	}

	sess, err := h.svc.Session("u1")
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if len(sess.Messages) != 1 || sess.Messages[0].Role != domain.RoleAssistant {
		t.Fatalf("welcome message not recorded: %+v", sess.Messages)
	}
	if kinds := h.events.kinds(); len(kinds) != 1 || kinds[0] != domain.EventSessionCreated {
		t.Fatalf("events = %v", kinds)
	}
}

func TestCreateSession_InvalidInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	if _, err := h.svc.CreateSession(context.Background(), "", "en", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty user error = %v", err)
	}
	if _, err := h.svc.CreateSession(context.Background(), "u1", "en", "expert"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad level error = %v", err)
	}
}

func TestSendMessage_ProgressIsSumOfDeltas(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.svc.CreateSession(ctx, "u1", "en", "beginner"); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	want := 0
	for _, text := range []string{"Hello!", "help me", "thank you", "what about food?"} {
		res, err := h.svc.SendMessage(ctx, "u1", text)
		if err != nil {
			t.Fatalf("SendMessage(%q) error = %v", text, err)
		}
		want += res.ProgressDelta
		if res.ProgressScore != want {
			t.Fatalf("after %q score = %d, want %d", text, res.ProgressScore, want)
		}
	}
	if want != 3 {
		t.Fatalf("total = %d, want 3 (help contributes 0)", want)
	}

	sess, _ := h.svc.Session("u1")
	// welcome + 4 turns of two messages
	if len(sess.Messages) != 9 {
		t.Fatalf("messages = %d, want 9", len(sess.Messages))
	}
	last := sess.Messages[len(sess.Messages)-1]
	if last.Confidence == nil {
		t.Fatal("assistant message missing confidence")
	}
}

// switchingGenerator runs during before replying, while no session lock is
// held.
type switchingGenerator struct {
	during func()
}

func (g *switchingGenerator) Generate(_ context.Context, s domain.Session, _ string) (responder.Reply, error) {
	if g.during != nil {
		g.during()
	}
	return responder.Reply{Text: "reply in " + s.TargetLanguage, ProgressDelta: 1, Confidence: 0.9, Intent: responder.IntentGenerated}, nil
}

func TestSendMessage_AppliesToSnapshotLanguage(t *testing.T) {
	t.Parallel()
	gen := &switchingGenerator{}
	h := newHarness(t, func(c *Config) {
		c.Responder = responder.New(responder.Config{Picker: firstPicker{}, Generator: gen, LLM: shared.Available})
	})
	ctx := context.Background()

	if _, err := h.svc.CreateSession(ctx, "u1", "es", ""); err != nil {
		t.Fatalf("CreateSession(es) error = %v", err)
	}
	gen.during = func() {
		if _, err := h.svc.CreateSession(ctx, "u1", "fr", ""); err != nil {
			t.Errorf("CreateSession(fr) error = %v", err)
		}
	}

	res, err := h.svc.SendMessage(ctx, "u1", "hola")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if res.Language != "es" || res.Reply != "reply in es" {
		t.Fatalf("result = %+v", res)
	}

	es, err := h.svc.registry.GetLanguage("u1", "es")
	if err != nil {
		t.Fatalf("GetLanguage(es) error = %v", err)
	}
	if len(es.Messages) != 3 || es.ProgressScore != 1 {
		t.Errorf("es session: %d messages, score %d; want 3 and 1", len(es.Messages), es.ProgressScore)
	}
	fr, err := h.svc.Session("u1")
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if fr.TargetLanguage != "fr" || len(fr.Messages) != 1 || fr.ProgressScore != 0 {
		t.Errorf("fr session touched: %s, %d messages, score %d", fr.TargetLanguage, len(fr.Messages), fr.ProgressScore)
	}
}

func TestSendMessage_Errors(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	if _, err := h.svc.SendMessage(context.Background(), "ghost", "hello"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("unknown user error = %v, want ErrNotFound", err)
	}
	if _, err := h.svc.SendMessage(context.Background(), "u1", "   "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty text error = %v, want ErrInvalidInput", err)
	}
}

func TestSendMessage_Concurrent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.svc.CreateSession(ctx, "u1", "en", ""); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.svc.SendMessage(ctx, "u1", "hello"); err != nil {
				t.Errorf("SendMessage() error = %v", err)
			}
		}()
	}
	wg.Wait()

	sess, _ := h.svc.Session("u1")
	if sess.ProgressScore != n {
		t.Fatalf("score = %d, want %d (lost updates)", sess.ProgressScore, n)
	}
	if len(sess.Messages) != 1+2*n {
		t.Fatalf("messages = %d, want %d", len(sess.Messages), 1+2*n)
	}
}

func TestTokens_IssueVerifyLogout(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	tok, err := h.svc.IssueToken(ctx, "u1")
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := h.svc.VerifyToken(ctx, tok.Value)
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	if claims.Subject != "u1" {
		t.Fatalf("subject = %q", claims.Subject)
	}

	if err := h.svc.Logout(ctx, tok.Value); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := h.svc.VerifyToken(ctx, tok.Value); !errors.Is(err, auth.ErrRevoked) {
		t.Fatalf("verify after logout error = %v, want ErrRevoked", err)
	}
	if err := h.svc.Logout(ctx, tok.Value); !errors.Is(err, auth.ErrInvalid) {
		t.Fatalf("second logout error = %v, want ErrInvalid", err)
	}
	if _, err := h.svc.VerifyToken(ctx, ""); !errors.Is(err, auth.ErrInvalid) {
		t.Fatalf("empty token error = %v", err)
	}
	if _, err := h.svc.IssueToken(ctx, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty user error = %v", err)
	}
}

func TestRooms_JoinBroadcastLeave(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	for _, u := range []string{"alice", "bob"} {
		if _, err := h.hub.Connect(ctx, u, nullSink{}); err != nil {
			t.Fatalf("Connect(%s) error = %v", u, err)
		}
		if err := h.svc.Join(ctx, u, "lobby"); err != nil {
			t.Fatalf("Join(%s) error = %v", u, err)
		}
	}

	res, err := h.svc.Broadcast(ctx, "alice", "lobby", map[string]string{"text": "hi"})
	if err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if res.Delivered != 1 || res.Failed != 0 {
		t.Fatalf("Broadcast() = %+v, want 1 delivered", res)
	}
	if hist := h.svc.History("lobby", 10); len(hist) != 1 {
		t.Fatalf("history = %d, want 1", len(hist))
	}

	if err := h.svc.Leave(ctx, "bob", "lobby"); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if err := h.svc.Leave(ctx, "bob", "lobby"); err != nil {
		t.Fatalf("second Leave() error = %v", err)
	}
	if rooms := h.svc.Rooms(); len(rooms) != 1 || rooms[0].Members != 1 {
		t.Fatalf("rooms = %+v", rooms)
	}

	if _, err := h.svc.Broadcast(ctx, "alice", "", "x"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty room error = %v", err)
	}
	if err := h.svc.Join(ctx, "carol", "lobby"); !errors.Is(err, broadcast.ErrNotConnected) {
		t.Fatalf("join without connection error = %v", err)
	}
}

func TestGreetAndLanguages(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	if g := h.svc.Greet("ru"); g.Greeting != "Привет, мир!" {
		t.Fatalf("Greet(ru) = %+v", g)
	}
	if g := h.svc.Greet("xx"); g.Greeting != "Hello, World!" {
		t.Fatalf("Greet(xx) = %+v, want default greeting", g)
	}
	if len(h.svc.Languages()) == 0 {
		t.Fatal("Languages() empty")
	}
	found := false
	for _, info := range h.svc.SearchLanguages("espa") {
		if info.Code == "es" {
			found = true
		}
	}
	if !found {
		t.Fatal("SearchLanguages(espa) missing es")
	}
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	res, err := h.svc.Translate(context.Background(), translate.Request{Text: "hello", Target: "es"})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if res.Text != "hello" || res.Confidence != 0 {
		t.Fatalf("no translator result = %+v, want echo", res)
	}

	ts := translate.NewService(translate.Config{})
	h = newHarness(t, func(c *Config) { c.Translator = ts })
	res, err = h.svc.Translate(context.Background(), translate.Request{Text: "hello", Source: "en", Target: "es"})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if res.Text != "hello" || res.Backend != "fallback" {
		t.Fatalf("backendless result = %+v", res)
	}

	if _, err := h.svc.Translate(context.Background(), translate.Request{Text: "hello"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing target error = %v", err)
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	audio, err := h.svc.Synthesize(context.Background(), "hello", "en")
	if audio != nil || !errors.Is(err, speech.ErrUnavailable) {
		t.Fatalf("no synthesizer = %v, %v", audio, err)
	}

	h = newHarness(t, func(c *Config) { c.Speech = failingSpeech{} })
	audio, err = h.svc.Synthesize(context.Background(), "hello", "en")
	if audio != nil || !errors.Is(err, speech.ErrUnavailable) {
		t.Fatalf("failing synthesizer = %v, %v", audio, err)
	}

	if _, err := h.svc.Synthesize(context.Background(), "", "en"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty text error = %v", err)
	}
}

func TestCompleteLogin(t *testing.T) {
	t.Parallel()

	users := &fakeUsers{}
	h := newHarness(t, func(c *Config) {
		c.Identity = fakeIdentity{profile: domain.User{UserID: "github_42", Provider: "github", Name: "Octo"}}
		c.Users = users
	})
	ctx := context.Background()

	if _, err := h.svc.AuthURL("github"); err != nil {
		t.Fatalf("AuthURL() error = %v", err)
	}
	if _, err := h.svc.AuthURL("myspace"); !errors.Is(err, auth.ErrUnknownProvider) {
		t.Fatalf("unknown provider error = %v", err)
	}

	res, err := h.svc.CompleteLogin(ctx, "github", "code", "state")
	if err != nil {
		t.Fatalf("CompleteLogin() error = %v", err)
	}
	if res.User.UserID != "github_42" || res.User.LastLogin.IsZero() {
		t.Fatalf("user = %+v", res.User)
	}
	claims, err := h.svc.VerifyToken(ctx, res.Token.Value)
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	if sess, ok := h.issuer.Session(claims.SessionID); !ok || sess.Provider != "github" {
		t.Fatalf("server session = %+v", sess)
	}
	if len(users.saved) != 1 {
		t.Fatalf("saved users = %d, want 1", len(users.saved))
	}

	if _, err := h.svc.CompleteLogin(ctx, "github", "", "state"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing code error = %v", err)
	}
}

func TestCompleteLogin_NoIdentityProvider(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	if _, err := h.svc.CompleteLogin(context.Background(), "github", "c", "s"); !errors.Is(err, auth.ErrUnknownProvider) {
		t.Fatalf("error = %v, want ErrUnknownProvider", err)
	}
	if p := h.svc.Providers(); len(p) != 0 {
		t.Fatalf("Providers() = %v, want empty", p)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.svc.CreateSession(ctx, "u1", "fr", ""); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := h.svc.IssueToken(ctx, "u1"); err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	st := h.svc.Status()
	if st.Sessions != 1 || st.ActiveTokens != 1 {
		t.Fatalf("Status() = %+v", st)
	}
	if st.Capabilities["llm"] != "unavailable" || st.Capabilities["tts"] != "available" {
		t.Fatalf("capabilities = %v", st.Capabilities)
	}
}
