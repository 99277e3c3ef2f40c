package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/lingua-labs/internal/identity"
)

type tokenRequest struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// IssueToken issues a bearer token for the caller's own identity. Naming
// another user in the body is refused.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decode(w, r, &req) {
		return
	}
	caller := identity.UserIDFromContext(r.Context())
	if want := strings.TrimSpace(req.UserID); want != "" && want != caller {
		Error(w, http.StatusForbidden, "cannot issue a token for another user")
		return
	}
	tok, err := h.svc.IssueToken(r.Context(), caller)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, tok)
}

// VerifyToken checks a token passed in the body or the Authorization header.
func (h *Handler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Token == "" {
		req.Token = identity.BearerToken(r)
	}
	claims, err := h.svc.VerifyToken(r.Context(), req.Token)
	if err != nil {
		// Causes stay internal; callers only learn the token is invalid.
		JSON(w, http.StatusUnauthorized, map[string]any{"valid": false})
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"valid":      true,
		"user_id":    claims.Subject,
		"session_id": claims.SessionID,
		"expires_at": claims.ExpiresAt.Time,
	})
}

// Logout revokes the server session of the presented token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Token == "" {
		req.Token = identity.BearerToken(r)
	}
	if err := h.svc.Logout(r.Context(), req.Token); err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// Providers lists configured identity providers.
func (h *Handler) Providers(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{"providers": h.svc.Providers()})
}

// StartLogin redirects to the provider authorization page. With
// ?format=json the URL is returned instead.
func (h *Handler) StartLogin(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.svc.AuthURL(chi.URLParam(r, "provider"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if r.URL.Query().Get("format") == "json" {
		JSON(w, http.StatusOK, map[string]string{"auth_url": authURL})
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback completes the OAuth flow. When a frontend URL is configured the
// browser is sent there with the token in the fragment.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		Error(w, http.StatusBadRequest, "authorization denied: "+e)
		return
	}
	res, err := h.svc.CompleteLogin(r.Context(), chi.URLParam(r, "provider"), q.Get("code"), q.Get("state"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if h.frontendRedirectURL != "" {
		frag := url.Values{}
		frag.Set("token", res.Token.Value)
		frag.Set("user_id", res.User.UserID)
		http.Redirect(w, r, h.frontendRedirectURL+"#"+frag.Encode(), http.StatusFound)
		return
	}
	JSON(w, http.StatusOK, res)
}

// Me returns the identity behind the bearer token and, for provider logins,
// the stored profile.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := identity.UserIDFromContext(ctx)
	out := map[string]any{
		"user_id":    userID,
		"session_id": identity.SessionIDFromContext(ctx),
	}
	if h.repo != nil {
		user, err := h.repo.GetUser(ctx, userID)
		if err != nil {
			fail(w, r, err)
			return
		}
		if user != nil {
			out["user"] = user
		}
	}
	JSON(w, http.StatusOK, out)
}
