package identity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/lingua-labs/internal/auth"
)

func newIssuer(t *testing.T) *auth.Issuer {
	t.Helper()
	iss, err := auth.NewIssuer(auth.IssuerConfig{Secret: "s3cret", TTL: time.Hour})
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	return iss
}

func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		kind := "anon"
		if Authenticated(ctx) {
			kind = "bearer"
		}
		_, _ = w.Write([]byte(kind + ":" + UserIDFromContext(ctx) + ":" + SessionIDFromContext(ctx)))
	})
}

func TestMiddleware_Bearer(t *testing.T) {
	t.Parallel()

	iss := newIssuer(t)
	tok, err := iss.Issue("u1", 0)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	h := Middleware(iss, true)(echoIdentity())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if want := "bearer:u1:" + tok.SessionID; rec.Body.String() != want {
		t.Fatalf("body = %q, want %q", rec.Body.String(), want)
	}
}

func TestMiddleware_QueryToken(t *testing.T) {
	t.Parallel()

	iss := newIssuer(t)
	tok, _ := iss.Issue("u2", 0)

	h := Middleware(iss, true)(echoIdentity())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?token="+tok.Value, nil))

	if !strings.HasPrefix(rec.Body.String(), "bearer:u2:") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestMiddleware_InvalidTokenRejected(t *testing.T) {
	t.Parallel()

	iss := newIssuer(t)
	tok, _ := iss.Issue("u1", 0)
	if err := iss.Revoke(tok.SessionID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	h := Middleware(iss, true)(echoIdentity())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestMiddleware_AnonymousCookie(t *testing.T) {
	t.Parallel()

	h := Middleware(newIssuer(t), true)(echoIdentity())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	body := rec.Body.String()
	if !strings.HasPrefix(body, "anon:anon_") {
		t.Fatalf("body = %q", body)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName {
		t.Fatalf("cookies = %v", cookies)
	}

	// The same cookie yields the same identity.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Body.String() != body {
		t.Fatalf("second body = %q, want %q", rec2.Body.String(), body)
	}
}

func TestRequireToken(t *testing.T) {
	t.Parallel()

	h := Middleware(newIssuer(t), true)(RequireToken(echoIdentity()))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
