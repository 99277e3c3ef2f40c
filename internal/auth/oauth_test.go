package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func newProviderServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.Form.Get("code") != "good-code" || r.Form.Get("client_secret") != "secret" {
			http.Error(w, "bad code", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "at-123"})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-123" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":         42,
			"login":      "octo",
			"email":      "octo@example.com",
			"avatar_url": "https://example.com/a.png",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestOAuthClient(srv *httptest.Server, now func() time.Time) *OAuthClient {
	return NewOAuthClient(OAuthConfig{
		Providers: map[string]ProviderConfig{
			"github": {
				ID:           "github",
				Name:         "GitHub",
				ClientID:     "client",
				ClientSecret: "secret",
				RedirectURI:  "http://localhost/auth/github/callback",
				AuthURL:      srv.URL + "/authorize",
				TokenURL:     srv.URL + "/token",
				UserInfoURL:  srv.URL + "/user",
				Scopes:       []string{"user:email"},
			},
		},
		HTTPClient: srv.Client(),
		Now:        now,
	})
}

func stateFrom(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	state := u.Query().Get("state")
	if state == "" {
		t.Fatal("auth url has no state")
	}
	return state
}

func TestOAuthExchange(t *testing.T) {
	srv := newProviderServer(t)
	c := newTestOAuthClient(srv, nil)

	authURL, err := c.AuthURL("github")
	if err != nil {
		t.Fatalf("AuthURL: %v", err)
	}
	u, _ := url.Parse(authURL)
	if u.Query().Get("client_id") != "client" || u.Query().Get("response_type") != "code" {
		t.Errorf("unexpected auth url %s", authURL)
	}

	id, err := c.Exchange(context.Background(), "github", "good-code", stateFrom(t, authURL))
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if id.AccessToken != "at-123" {
		t.Errorf("access token = %q", id.AccessToken)
	}
	if id.Profile.UserID != "github_42" || id.Profile.Name != "octo" || !id.Profile.Verified {
		t.Errorf("unexpected profile %+v", id.Profile)
	}
	if id.Profile.Provider != "github" {
		t.Errorf("provider = %q", id.Profile.Provider)
	}
}

func TestOAuthStateIsSingleUse(t *testing.T) {
	srv := newProviderServer(t)
	c := newTestOAuthClient(srv, nil)

	authURL, _ := c.AuthURL("github")
	state := stateFrom(t, authURL)
	if _, err := c.Exchange(context.Background(), "github", "good-code", state); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Exchange(context.Background(), "github", "good-code", state); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on reuse, got %v", err)
	}
}

func TestOAuthStateExpires(t *testing.T) {
	srv := newProviderServer(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTestOAuthClient(srv, func() time.Time { return now })

	authURL, _ := c.AuthURL("github")
	now = now.Add(16 * time.Minute)

	if _, err := c.Exchange(context.Background(), "github", "good-code", stateFrom(t, authURL)); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState after expiry, got %v", err)
	}
}

func TestOAuthCleanupPending(t *testing.T) {
	srv := newProviderServer(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTestOAuthClient(srv, func() time.Time { return now })

	_, _ = c.AuthURL("github")
	_, _ = c.AuthURL("github")
	now = now.Add(time.Hour)
	if n := c.CleanupPending(); n != 2 {
		t.Errorf("expected 2 expired states, got %d", n)
	}
}

func TestOAuthBadCode(t *testing.T) {
	srv := newProviderServer(t)
	c := newTestOAuthClient(srv, nil)

	authURL, _ := c.AuthURL("github")
	_, err := c.Exchange(context.Background(), "github", "bad-code", stateFrom(t, authURL))
	if !errors.Is(err, ErrExchange) {
		t.Errorf("expected ErrExchange, got %v", err)
	}
}

func TestOAuthUnknownProvider(t *testing.T) {
	c := NewOAuthClient(OAuthConfig{})
	if _, err := c.AuthURL("myspace"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}
	if len(c.Providers()) != 0 {
		t.Error("expected no providers")
	}
}

func TestProvidersFromEnv(t *testing.T) {
	t.Setenv("GITHUB_CLIENT_ID", "gh-id")
	t.Setenv("GITHUB_CLIENT_SECRET", "gh-secret")
	t.Setenv("GOOGLE_CLIENT_ID", "only-id")
	t.Setenv("OAUTH_STATE_TTL", "5m")

	providers, ttl, err := ProvidersFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := providers["github"]; !ok {
		t.Error("github should be configured")
	}
	if _, ok := providers["google"]; ok {
		t.Error("google without secret should be skipped")
	}
	if ttl != 5*time.Minute {
		t.Errorf("ttl = %s", ttl)
	}
}

func TestParseVKProfile(t *testing.T) {
	u, err := parseVKProfile([]byte(`{"response":[{"id":7,"first_name":"Ivan","last_name":"Petrov","photo_100":"p.jpg"}]}`), "ivan@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if u.UserID != "vk_7" || u.Name != "Ivan Petrov" || u.Email != "ivan@example.com" {
		t.Errorf("unexpected profile %+v", u)
	}
	if _, err := parseVKProfile([]byte(`{"error":{"error_code":5}}`), ""); !errors.Is(err, ErrExchange) {
		t.Errorf("expected ErrExchange, got %v", err)
	}
}
