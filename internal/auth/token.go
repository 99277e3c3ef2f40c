// Package auth issues and verifies bearer tokens bound to revocable server
// sessions, and runs the OAuth2 authorization-code flow against external
// identity providers.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalid is the base of every verification failure.
var ErrInvalid = errors.New("invalid token")

// Verification failure causes. Each wraps ErrInvalid.
var (
	ErrMalformed         = fmt.Errorf("%w: malformed", ErrInvalid)
	ErrSignatureMismatch = fmt.Errorf("%w: signature mismatch", ErrInvalid)
	ErrExpired           = fmt.Errorf("%w: expired", ErrInvalid)
	ErrRevoked           = fmt.Errorf("%w: revoked", ErrInvalid)
)

// ErrSessionNotFound is returned when revoking an unknown server session.
var ErrSessionNotFound = errors.New("server session not found")

const (
	defaultTTL   = time.Hour
	secretLength = 32
)

// Claims is the signed token payload.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Token is an issued bearer token.
type Token struct {
	Value     string    `json:"token"`
	SessionID string    `json:"session_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ServerSession is the revocation record a token is bound to.
type ServerSession struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Provider  string     `json:"provider,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

func (s *ServerSession) valid(now time.Time) error {
	if s.RevokedAt != nil {
		return ErrRevoked
	}
	if !now.Before(s.ExpiresAt) {
		return ErrExpired
	}
	return nil
}

// IssuerConfig configures an Issuer.
type IssuerConfig struct {
	// Secret signs tokens. When empty a random secret is generated and kept
	// for the lifetime of the process.
	Secret string
	TTL    time.Duration
	Now    func() time.Time
}

// Issuer signs and verifies tokens. It is safe for concurrent use.
type Issuer struct {
	secret     []byte
	defaultTTL time.Duration
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*ServerSession
}

// NewIssuer creates an Issuer.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	secret := []byte(cfg.Secret)
	if len(secret) == 0 {
		secret = make([]byte, secretLength)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate signing secret: %w", err)
		}
		slog.Info("Generated ephemeral token signing secret")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Issuer{
		secret:     secret,
		defaultTTL: ttl,
		now:        now,
		sessions:   make(map[string]*ServerSession),
	}, nil
}

// Issue creates a server session for userID and returns a token bound to it.
// A non-positive ttl uses the configured default.
func (i *Issuer) Issue(userID string, ttl time.Duration) (Token, error) {
	return i.IssueForProvider(userID, "", ttl)
}

// IssueForProvider is Issue with the identity provider recorded on the
// server session.
func (i *Issuer) IssueForProvider(userID, provider string, ttl time.Duration) (Token, error) {
	if userID == "" {
		return Token{}, errors.New("user id is required")
	}
	if ttl <= 0 {
		ttl = i.defaultTTL
	}

	now := i.now()
	sess := &ServerSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Provider:  provider,
		CreatedAt: now,
		ExpiresAt: expiryFor(now, ttl),
	}

	claims := Claims{
		SessionID: sess.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}

	i.mu.Lock()
	i.sessions[sess.ID] = sess
	i.mu.Unlock()

	return Token{
		Value:     signed,
		SessionID: sess.ID,
		IssuedAt:  now,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// expiryFor rounds now+ttl up to a whole second. The exp claim has
// second precision, so the server session must expire at the same instant
// and never before now+ttl.
func expiryFor(now time.Time, ttl time.Duration) time.Time {
	exp := now.Add(ttl)
	if whole := exp.Truncate(time.Second); whole.Before(exp) {
		return whole.Add(time.Second)
	}
	return exp
}

// Verify checks the signature, expiry and server session of a token.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, mapJWTError(err)
	}
	if claims.SessionID == "" || claims.Subject == "" {
		return nil, ErrMalformed
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	sess, ok := i.sessions[claims.SessionID]
	if !ok || sess.UserID != claims.Subject {
		// Cleaned-up sessions are indistinguishable from revoked ones.
		return nil, ErrRevoked
	}
	if err := sess.valid(i.now()); err != nil {
		return nil, err
	}
	return claims, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrSignatureMismatch
	default:
		return fmt.Errorf("%w (%v)", ErrMalformed, err)
	}
}

// Revoke invalidates a server session immediately. Revoking twice is a no-op.
func (i *Issuer) Revoke(sessionID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	sess, ok := i.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.RevokedAt == nil {
		now := i.now()
		sess.RevokedAt = &now
	}
	return nil
}

// Session returns a copy of a server session.
func (i *Issuer) Session(sessionID string) (ServerSession, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	sess, ok := i.sessions[sessionID]
	if !ok {
		return ServerSession{}, false
	}
	return *sess, true
}

// CleanupExpired drops expired and revoked server sessions and returns how
// many were removed.
func (i *Issuer) CleanupExpired() int {
	now := i.now()
	i.mu.Lock()
	defer i.mu.Unlock()

	removed := 0
	for id, sess := range i.sessions {
		if sess.valid(now) != nil {
			delete(i.sessions, id)
			removed++
		}
	}
	return removed
}

// ActiveSessions counts sessions that would still verify.
func (i *Issuer) ActiveSessions() int {
	now := i.now()
	i.mu.RLock()
	defer i.mu.RUnlock()

	n := 0
	for _, sess := range i.sessions {
		if sess.valid(now) == nil {
			n++
		}
	}
	return n
}
