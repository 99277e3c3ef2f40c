package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/ashureev/lingua-labs/internal/domain"
)

// OAuth errors.
var (
	ErrUnknownProvider = errors.New("unknown identity provider")
	ErrInvalidState    = errors.New("invalid or expired oauth state")
	ErrExchange        = errors.New("identity provider exchange failed")
)

const (
	defaultPendingTTL   = 15 * time.Minute
	defaultOAuthTimeout = 10 * time.Second
	vkAPIVersion        = "5.131"
)

// ProviderConfig describes an external OAuth provider.
type ProviderConfig struct {
	ID           string
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
}

type providerEnv struct {
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURI  string        `env:"GOOGLE_REDIRECT_URI" envDefault:"http://localhost:8080/auth/google/callback"`
	GitHubClientID     string        `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string        `env:"GITHUB_CLIENT_SECRET"`
	GitHubRedirectURI  string        `env:"GITHUB_REDIRECT_URI" envDefault:"http://localhost:8080/auth/github/callback"`
	VKClientID         string        `env:"VK_CLIENT_ID"`
	VKClientSecret     string        `env:"VK_CLIENT_SECRET"`
	VKRedirectURI      string        `env:"VK_REDIRECT_URI" envDefault:"http://localhost:8080/auth/vk/callback"`
	PendingTTL         time.Duration `env:"OAUTH_STATE_TTL" envDefault:"15m"`
}

// ProvidersFromEnv reads provider credentials from the environment. Providers
// without a client id and secret are skipped.
func ProvidersFromEnv() (map[string]ProviderConfig, time.Duration, error) {
	var raw providerEnv
	if err := env.Parse(&raw); err != nil {
		return nil, defaultPendingTTL, fmt.Errorf("parse oauth env: %w", err)
	}

	providers := make(map[string]ProviderConfig)
	if raw.GoogleClientID != "" && raw.GoogleClientSecret != "" {
		providers["google"] = ProviderConfig{
			ID:           "google",
			Name:         "Google",
			ClientID:     raw.GoogleClientID,
			ClientSecret: raw.GoogleClientSecret,
			RedirectURI:  raw.GoogleRedirectURI,
			AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:     "https://oauth2.googleapis.com/token",
			UserInfoURL:  "https://www.googleapis.com/oauth2/v2/userinfo",
			Scopes:       []string{"openid", "email", "profile"},
		}
	}
	if raw.GitHubClientID != "" && raw.GitHubClientSecret != "" {
		providers["github"] = ProviderConfig{
			ID:           "github",
			Name:         "GitHub",
			ClientID:     raw.GitHubClientID,
			ClientSecret: raw.GitHubClientSecret,
			RedirectURI:  raw.GitHubRedirectURI,
			AuthURL:      "https://github.com/login/oauth/authorize",
			TokenURL:     "https://github.com/login/oauth/access_token",
			UserInfoURL:  "https://api.github.com/user",
			Scopes:       []string{"user:email"},
		}
	}
	if raw.VKClientID != "" && raw.VKClientSecret != "" {
		providers["vk"] = ProviderConfig{
			ID:           "vk",
			Name:         "VK",
			ClientID:     raw.VKClientID,
			ClientSecret: raw.VKClientSecret,
			RedirectURI:  raw.VKRedirectURI,
			AuthURL:      "https://oauth.vk.com/authorize",
			TokenURL:     "https://oauth.vk.com/access_token",
			UserInfoURL:  "https://api.vk.com/method/users.get",
			Scopes:       []string{"email"},
		}
	}

	ttl := raw.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	return providers, ttl, nil
}

// Identity is the result of a completed authorization-code exchange.
type Identity struct {
	AccessToken string
	Profile     domain.User
}

// IdentityProvider runs the OAuth2 authorization-code flow.
type IdentityProvider interface {
	AuthURL(provider string) (string, error)
	Exchange(ctx context.Context, provider, code, state string) (Identity, error)
}

// ProviderInfo is the public description of a configured provider.
type ProviderInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	AuthURL string `json:"auth_url"`
}

// OAuthConfig configures an OAuthClient.
type OAuthConfig struct {
	Providers  map[string]ProviderConfig
	PendingTTL time.Duration
	HTTPClient *http.Client
	Timeout    time.Duration
	Now        func() time.Time
}

type pendingState struct {
	provider  string
	expiresAt time.Time
}

// OAuthClient implements IdentityProvider over plain HTTP.
type OAuthClient struct {
	providers  map[string]ProviderConfig
	httpClient *http.Client
	pendingTTL time.Duration
	timeout    time.Duration
	now        func() time.Time

	mu      sync.Mutex
	pending map[string]pendingState
}

// NewOAuthClient creates an OAuthClient.
func NewOAuthClient(cfg OAuthConfig) *OAuthClient {
	c := &OAuthClient{
		providers:  cfg.Providers,
		httpClient: cfg.HTTPClient,
		pendingTTL: cfg.PendingTTL,
		timeout:    cfg.Timeout,
		now:        cfg.Now,
		pending:    make(map[string]pendingState),
	}
	if c.providers == nil {
		c.providers = map[string]ProviderConfig{}
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.pendingTTL <= 0 {
		c.pendingTTL = defaultPendingTTL
	}
	if c.timeout <= 0 || c.timeout > defaultOAuthTimeout {
		c.timeout = defaultOAuthTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Providers lists configured providers sorted by id.
func (c *OAuthClient) Providers() []ProviderInfo {
	out := make([]ProviderInfo, 0, len(c.providers))
	for id, p := range c.providers {
		out = append(out, ProviderInfo{ID: id, Name: p.Name, AuthURL: "/auth/" + id + "/start"})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AuthURL returns the provider authorization URL with a fresh state value.
func (c *OAuthClient) AuthURL(providerID string) (string, error) {
	p, ok := c.providers[providerID]
	if !ok {
		return "", ErrUnknownProvider
	}

	state, err := randomState()
	if err != nil {
		return "", err
	}

	authURL, err := url.Parse(p.AuthURL)
	if err != nil {
		return "", fmt.Errorf("invalid provider auth url: %w", err)
	}
	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", p.ClientID)
	query.Set("redirect_uri", p.RedirectURI)
	query.Set("scope", strings.Join(p.Scopes, " "))
	query.Set("state", state)
	authURL.RawQuery = query.Encode()

	c.mu.Lock()
	c.pending[state] = pendingState{provider: providerID, expiresAt: c.now().Add(c.pendingTTL)}
	c.mu.Unlock()

	return authURL.String(), nil
}

func randomState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// consumeState validates and removes a pending state. States are single use.
func (c *OAuthClient) consumeState(providerID, state string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending, ok := c.pending[state]
	if !ok {
		return ErrInvalidState
	}
	delete(c.pending, state)
	if pending.provider != providerID || !c.now().Before(pending.expiresAt) {
		return ErrInvalidState
	}
	return nil
}

// CleanupPending drops expired authorization states.
func (c *OAuthClient) CleanupPending() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for state, p := range c.pending {
		if !now.Before(p.expiresAt) {
			delete(c.pending, state)
			removed++
		}
	}
	return removed
}

// Exchange trades an authorization code for an access token and fetches the
// user's profile.
func (c *OAuthClient) Exchange(ctx context.Context, providerID, code, state string) (Identity, error) {
	p, ok := c.providers[providerID]
	if !ok {
		return Identity{}, ErrUnknownProvider
	}
	if code == "" {
		return Identity{}, fmt.Errorf("%w: missing code", ErrExchange)
	}
	if err := c.consumeState(providerID, state); err != nil {
		return Identity{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := c.exchangeToken(ctx, p, code)
	if err != nil {
		return Identity{}, err
	}
	profile, err := c.fetchProfile(ctx, p, token)
	if err != nil {
		return Identity{}, err
	}

	now := c.now()
	profile.Provider = providerID
	profile.CreatedAt = now
	profile.LastLogin = now
	return Identity{AccessToken: token.AccessToken, Profile: profile}, nil
}

type providerToken struct {
	AccessToken string
	// VK returns the user id and email alongside the token.
	UserID int64
	Email  string
}

func (c *OAuthClient) exchangeToken(ctx context.Context, p ProviderConfig, code string) (providerToken, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", p.RedirectURI)
	form.Set("client_id", p.ClientID)
	form.Set("client_secret", p.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return providerToken{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return providerToken{}, fmt.Errorf("%w: token request: %v", ErrExchange, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return providerToken{}, fmt.Errorf("%w: token endpoint returned %d", ErrExchange, resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		UserID      int64  `json:"user_id"`
		Email       string `json:"email"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return providerToken{}, fmt.Errorf("%w: decode token: %v", ErrExchange, err)
	}
	if payload.AccessToken == "" {
		return providerToken{}, fmt.Errorf("%w: missing access token %s", ErrExchange, payload.Error)
	}
	return providerToken{AccessToken: payload.AccessToken, UserID: payload.UserID, Email: payload.Email}, nil
}

func (c *OAuthClient) fetchProfile(ctx context.Context, p ProviderConfig, token providerToken) (domain.User, error) {
	endpoint := p.UserInfoURL
	if p.ID == "vk" {
		q := url.Values{}
		q.Set("access_token", token.AccessToken)
		q.Set("v", vkAPIVersion)
		q.Set("fields", "photo_100")
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.User{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: profile request: %v", ErrExchange, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.User{}, fmt.Errorf("%w: profile endpoint returned %d", ErrExchange, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: read profile: %v", ErrExchange, err)
	}

	switch p.ID {
	case "google":
		return parseGoogleProfile(body)
	case "github":
		return parseGitHubProfile(body)
	case "vk":
		return parseVKProfile(body, token.Email)
	}
	return domain.User{}, ErrUnknownProvider
}

func parseGoogleProfile(body []byte) (domain.User, error) {
	var v struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
		Locale        string `json:"locale"`
		VerifiedEmail bool   `json:"verified_email"`
	}
	if err := json.Unmarshal(body, &v); err != nil || v.ID == "" {
		return domain.User{}, fmt.Errorf("%w: invalid google profile", ErrExchange)
	}
	return domain.User{
		UserID:    "google_" + v.ID,
		Email:     v.Email,
		Name:      v.Name,
		AvatarURL: v.Picture,
		Locale:    v.Locale,
		Verified:  v.VerifiedEmail,
	}, nil
}

func parseGitHubProfile(body []byte) (domain.User, error) {
	var v struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.Unmarshal(body, &v); err != nil || v.ID == 0 {
		return domain.User{}, fmt.Errorf("%w: invalid github profile", ErrExchange)
	}
	name := v.Name
	if name == "" {
		name = v.Login
	}
	return domain.User{
		UserID:    "github_" + strconv.FormatInt(v.ID, 10),
		Email:     v.Email,
		Name:      name,
		AvatarURL: v.AvatarURL,
		Verified:  true,
	}, nil
}

func parseVKProfile(body []byte, email string) (domain.User, error) {
	var v struct {
		Response []struct {
			ID        int64  `json:"id"`
			FirstName string `json:"first_name"`
			LastName  string `json:"last_name"`
			Photo100  string `json:"photo_100"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &v); err != nil || len(v.Response) == 0 || v.Response[0].ID == 0 {
		return domain.User{}, fmt.Errorf("%w: vk api error", ErrExchange)
	}
	u := v.Response[0]
	return domain.User{
		UserID:    "vk_" + strconv.FormatInt(u.ID, 10),
		Email:     email,
		Name:      strings.TrimSpace(u.FirstName + " " + u.LastName),
		AvatarURL: u.Photo100,
		Verified:  true,
	}, nil
}
