// Package oauth drives the OAuth2 device and web flows for Google and
// Discord (§6.1): device authorization grant for Google, authorization
// code grant for both, each completing in a find-or-create user lookup
// and a freshly minted session token exactly like the password login
// path in internal/auth.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/statehub-server/core/internal/auth"
	"github.com/statehub-server/core/internal/config"
	"github.com/statehub-server/core/internal/store"
)

// Provider names one of the two supported external identity providers.
type Provider string

const (
	Google  Provider = "google"
	Discord Provider = "discord"
)

var (
	googleEndpoint = oauth2.Endpoint{
		AuthURL:       "https://accounts.google.com/o/oauth2/auth",
		TokenURL:      "https://oauth2.googleapis.com/token",
		DeviceAuthURL: "https://oauth2.googleapis.com/device/code",
	}
	discordEndpoint = oauth2.Endpoint{
		AuthURL:  "https://discord.com/api/oauth2/authorize",
		TokenURL: "https://discord.com/api/oauth2/token",
	}

	googleUserInfoURL  = "https://www.googleapis.com/oauth2/v3/userinfo"
	discordUserInfoURL = "https://discord.com/api/users/@me"
)

// PollStatus is the provider-reported device-poll outcome named in §6.1.
type PollStatus string

const (
	StatusPending           PollStatus = "authorization_pending"
	StatusSlowDown          PollStatus = "slow_down"
	StatusInvalidDeviceCode PollStatus = "invalid_device_code"
)

// PollError reports a device-poll attempt that did not yield a token yet
// (or ever). StatusCode is the exact HTTP status the §6.1 poll endpoint
// must answer with: authorization_pending -> 428, slow_down -> 429,
// anything else (including invalid_device_code) -> 400.
type PollError struct {
	Status     PollStatus
	StatusCode int
}

func (e *PollError) Error() string {
	return fmt.Sprintf("oauth: device poll: %s", e.Status)
}

func newPollError(code string) *PollError {
	switch PollStatus(code) {
	case StatusPending:
		return &PollError{Status: StatusPending, StatusCode: http.StatusPreconditionRequired}
	case StatusSlowDown:
		return &PollError{Status: StatusSlowDown, StatusCode: http.StatusTooManyRequests}
	default:
		return &PollError{Status: StatusInvalidDeviceCode, StatusCode: http.StatusBadRequest}
	}
}

// Session is the outcome of a completed OAuth login: a minted session
// token and the identity it belongs to.
type Session struct {
	Token    string
	Identity auth.Identity
}

// profile is the minimal external-identity shape pulled from either
// provider's userinfo endpoint.
type profile struct {
	ProviderID string
	Email      string
	Username   string
}

// Manager drives both providers' flows against a relational store and a
// token issuer, the same two collaborators the password login path uses.
type Manager struct {
	google  *oauth2.Config
	discord *oauth2.Config
	http    *http.Client

	googleUserInfoURL  string
	discordUserInfoURL string

	store  store.Store
	issuer *auth.TokenIssuer
}

// NewManager builds a Manager from the boot-time OAuth client
// credentials in cfg.
func NewManager(cfg config.Config, st store.Store, issuer *auth.TokenIssuer) *Manager {
	return &Manager{
		google: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			Endpoint:     googleEndpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		discord: &oauth2.Config{
			ClientID:     cfg.DiscordClientID,
			ClientSecret: cfg.DiscordClientSecret,
			RedirectURL:  cfg.DiscordRedirectURL,
			Endpoint:     discordEndpoint,
			Scopes:       []string{"identify", "email"},
		},
		http:                http.DefaultClient,
		googleUserInfoURL:   googleUserInfoURL,
		discordUserInfoURL:  discordUserInfoURL,
		store:               st,
		issuer:              issuer,
	}
}

func (m *Manager) configFor(p Provider) (*oauth2.Config, error) {
	switch p {
	case Google:
		return m.google, nil
	case Discord:
		return m.discord, nil
	default:
		return nil, fmt.Errorf("oauth: unknown provider %q", p)
	}
}

// StartGoogleDeviceAuth begins the device authorization grant for
// /oauth/google/device.
func (m *Manager) StartGoogleDeviceAuth(ctx context.Context) (*oauth2.DeviceAuthResponse, error) {
	return m.google.DeviceAuth(ctx)
}

// PollGoogleDevice makes a single poll attempt against Google's token
// endpoint for /oauth/google/device/poll. It deliberately does not loop
// and sleep the way oauth2.Config.DeviceAccessToken does: the client
// calls this endpoint itself, once per poll interval, so each call here
// must return or fail immediately rather than blocking the request.
func (m *Manager) PollGoogleDevice(ctx context.Context, deviceCode, ip string) (Session, error) {
	tok, err := m.pollDeviceToken(ctx, m.google, deviceCode)
	if err != nil {
		return Session{}, err
	}
	return m.completeLogin(ctx, Google, tok, ip, m.googleProfile)
}

func (m *Manager) pollDeviceToken(ctx context.Context, cfg *oauth2.Config, deviceCode string) (*oauth2.Token, error) {
	form := url.Values{
		"client_id":   {cfg.ClientID},
		"device_code": {deviceCode},
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
	}
	if cfg.ClientSecret != "" {
		form.Set("client_secret", cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("oauth: build poll request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth: poll device token: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("oauth: decode poll response: %w", err)
	}
	if body.Error != "" {
		return nil, newPollError(body.Error)
	}
	if resp.StatusCode != http.StatusOK || body.AccessToken == "" {
		return nil, newPollError(string(StatusInvalidDeviceCode))
	}

	tok := &oauth2.Token{AccessToken: body.AccessToken, TokenType: body.TokenType}
	if body.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	}
	return tok, nil
}

// WebAuthURL returns the authorization-code grant's redirect target for
// /oauth/{google,discord}/web.
func (m *Manager) WebAuthURL(p Provider, state string) (string, error) {
	cfg, err := m.configFor(p)
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// HandleWebCallback completes the authorization-code grant for
// /oauth/{google,discord}/web/callback: it exchanges code for a token,
// fetches the provider profile, and finds or creates the local user.
func (m *Manager) HandleWebCallback(ctx context.Context, p Provider, code, ip string) (Session, error) {
	cfg, err := m.configFor(p)
	if err != nil {
		return Session{}, err
	}
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return Session{}, fmt.Errorf("oauth: exchange code: %w", err)
	}

	fetch := m.googleProfile
	if p == Discord {
		fetch = m.discordProfile
	}
	return m.completeLogin(ctx, p, tok, ip, fetch)
}

func (m *Manager) completeLogin(ctx context.Context, p Provider, tok *oauth2.Token, ip string, fetch func(context.Context, *oauth2.Token) (profile, error)) (Session, error) {
	prof, err := fetch(ctx, tok)
	if err != nil {
		return Session{}, err
	}

	user, ok, err := m.store.GetUserByOAuthIdentity(ctx, string(p), prof.ProviderID)
	if err != nil {
		return Session{}, fmt.Errorf("oauth: lookup identity: %w", err)
	}
	if !ok {
		user, err = m.findOrCreateUser(ctx, prof)
		if err != nil {
			return Session{}, err
		}
		if err := m.store.LinkOAuthIdentity(ctx, user.ID, string(p), prof.ProviderID); err != nil {
			return Session{}, fmt.Errorf("oauth: link identity: %w", err)
		}
	}

	token, err := m.issuer.Issue(user.Username, ip)
	if err != nil {
		return Session{}, fmt.Errorf("oauth: issue session token: %w", err)
	}
	if err := m.store.RecordLogin(ctx, user.ID, ip, token); err != nil {
		return Session{}, fmt.Errorf("oauth: record login: %w", err)
	}
	user.LastToken = token
	return Session{Token: token, Identity: user.Sanitize()}, nil
}

// findOrCreateUser links an OAuth profile to an existing account matched
// by email, or creates a fresh one. A freshly created account is stored
// with the hash of a random placeholder password that is never returned,
// so it can only sign in through OAuth.
func (m *Manager) findOrCreateUser(ctx context.Context, prof profile) (auth.User, error) {
	if prof.Email != "" {
		u, ok, err := m.store.GetUserByEmail(ctx, prof.Email)
		if err != nil {
			return auth.User{}, fmt.Errorf("oauth: lookup by email: %w", err)
		}
		if ok {
			return u, nil
		}
	}

	hash, salt, err := auth.HashPassword(randomPassword())
	if err != nil {
		return auth.User{}, fmt.Errorf("oauth: generate placeholder password: %w", err)
	}

	username := prof.Username
	if username == "" {
		username = prof.ProviderID
	}
	u, err := m.store.CreateUser(ctx, store.NewUser{
		Username:     username,
		Email:        prof.Email,
		PasswordHash: hash,
		PasswordSalt: salt,
	})
	if err != nil {
		return auth.User{}, fmt.Errorf("oauth: create user: %w", err)
	}
	return u, nil
}

func (m *Manager) googleProfile(ctx context.Context, tok *oauth2.Token) (profile, error) {
	var body struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := m.fetchProfile(ctx, tok, m.googleUserInfoURL, &body); err != nil {
		return profile{}, err
	}
	return profile{ProviderID: body.Sub, Email: body.Email, Username: body.Name}, nil
}

func (m *Manager) discordProfile(ctx context.Context, tok *oauth2.Token) (profile, error) {
	var body struct {
		ID       string `json:"id"`
		Email    string `json:"email"`
		Username string `json:"username"`
	}
	if err := m.fetchProfile(ctx, tok, m.discordUserInfoURL, &body); err != nil {
		return profile{}, err
	}
	return profile{ProviderID: body.ID, Email: body.Email, Username: body.Username}, nil
}

func (m *Manager) fetchProfile(ctx context.Context, tok *oauth2.Token, userInfoURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return fmt.Errorf("oauth: build profile request: %w", err)
	}
	tok.SetAuthHeader(req)

	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("oauth: fetch profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("oauth: fetch profile: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("oauth: decode profile: %w", err)
	}
	return nil
}

func randomPassword() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}
