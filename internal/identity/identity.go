// Package identity resolves who is calling: a verified bearer token when one
// is presented, otherwise an anonymous per-device identity kept in a cookie.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/lingua-labs/internal/auth"
)

const (
	AnonCookieName   = "lingua_anon_id"
	TokenQueryParam  = "token"
	anonCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const (
	userIDKey contextKey = iota
	sessionIDKey
	authenticatedKey
)

var anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// Verifier validates bearer tokens.
type Verifier interface {
	Verify(token string) (*auth.Claims, error)
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext returns the server session ID of a verified token.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// Authenticated reports whether the request carried a valid bearer token.
func Authenticated(ctx context.Context) bool {
	v, _ := ctx.Value(authenticatedKey).(bool)
	return v
}

// WithUser returns ctx carrying an authenticated identity.
func WithUser(ctx context.Context, userID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	return context.WithValue(ctx, authenticatedKey, true)
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		setAnonCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setAnonCookie(w, id, isDev)
	return id, nil
}

// BearerToken extracts a token from the Authorization header, falling back to
// the token query parameter used by WebSocket clients.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get(TokenQueryParam))
}

// Middleware injects the caller identity. A presented but invalid token is
// rejected with 401; no token means an anonymous identity.
func Middleware(v Verifier, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tok := BearerToken(r); tok != "" {
				claims, err := v.Verify(tok)
				if err != nil {
					w.Header().Set("Content-Type", "application/json")
					http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims.Subject, claims.SessionID)))
				return
			}

			userID, err := getOrCreateAnonID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
		})
	}
}

// RequireToken rejects requests without a verified bearer token.
func RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !Authenticated(r.Context()) {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IPFromRequest returns a normalized remote IP.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
