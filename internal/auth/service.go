// Package auth owns the GitHub OAuth authorization-code flow and the
// JWT session tokens minted from it.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/gitflow-ai/gitflow-mcp/internal/config"
	"github.com/gitflow-ai/gitflow-mcp/internal/github"
	"github.com/gitflow-ai/gitflow-mcp/internal/logging"
	"github.com/gitflow-ai/gitflow-mcp/internal/secrets"
	"github.com/gitflow-ai/gitflow-mcp/internal/store"
)

var (
	ErrInvalidState       = errors.New("invalid OAuth state")
	ErrExpiredState       = errors.New("expired OAuth state")
	ErrProviderAuthFailed = errors.New("GitHub authorization failed")
	ErrInvalidToken       = errors.New("invalid session token")
)

// stateEntry tracks one in-flight OAuth round trip.
type stateEntry struct {
	createdAt   time.Time
	redirectURI string
}

// Service drives the OAuth flow and session-token lifecycle.
type Service struct {
	cfg     *config.Config
	store   *store.Store
	secrets *secrets.Store
	http    *http.Client

	mu     sync.Mutex
	states map[string]stateEntry

	stopSweeper chan struct{}
	sweeperOnce sync.Once
}

func NewService(cfg *config.Config, st *store.Store, sec *secrets.Store) *Service {
	s := &Service{
		cfg:         cfg,
		store:       st,
		secrets:     sec,
		http:        &http.Client{Timeout: 10 * time.Second},
		states:      make(map[string]stateEntry),
		stopSweeper: make(chan struct{}),
	}
	go s.sweepExpiredStates()
	return s
}

// Close stops the background state sweeper.
func (s *Service) Close() {
	s.sweeperOnce.Do(func() { close(s.stopSweeper) })
}

// sweepExpiredStates drops abandoned OAuth states once a minute. The
// goroutine never holds work that would delay process exit.
func (s *Service) sweepExpiredStates() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for state, entry := range s.states {
				if now.Sub(entry.createdAt) > s.cfg.Security.OAuthStateTTL {
					delete(s.states, state)
				}
			}
			s.mu.Unlock()
		case <-s.stopSweeper:
			return
		}
	}
}

// InitiateResult carries what the user needs to start the browser flow.
type InitiateResult struct {
	URL       string
	State     string
	ExpiresIn time.Duration
}

// InitiateOAuth registers a fresh CSRF state and builds the provider
// authorization URL. redirectURI overrides the configured default when
// non-empty.
func (s *Service) InitiateOAuth(redirectURI string) (InitiateResult, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return InitiateResult{}, fmt.Errorf("failed to generate OAuth state: %w", err)
	}
	state := hex.EncodeToString(raw)

	if redirectURI == "" {
		redirectURI = s.cfg.GitHub.RedirectURI
	}

	s.mu.Lock()
	s.states[state] = stateEntry{createdAt: time.Now(), redirectURI: redirectURI}
	s.mu.Unlock()

	params := url.Values{}
	params.Set("client_id", s.cfg.GitHub.ClientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("scope", strings.Join(s.cfg.GitHub.Scopes, " "))
	params.Set("state", state)
	params.Set("allow_signup", "true")

	return InitiateResult{
		URL:       s.cfg.GitHub.AuthorizeURL + "?" + params.Encode(),
		State:     state,
		ExpiresIn: s.cfg.Security.OAuthStateTTL,
	}, nil
}

// consumeState validates and removes the state. Single use: a second
// lookup with the same state fails as invalid.
func (s *Service) consumeState(state string) (stateEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.states[state]
	if !ok {
		return stateEntry{}, ErrInvalidState
	}
	delete(s.states, state)
	if time.Since(entry.createdAt) > s.cfg.Security.OAuthStateTTL {
		return stateEntry{}, ErrExpiredState
	}
	return entry, nil
}

// CallbackResult is the outcome of a completed OAuth round trip.
type CallbackResult struct {
	User         store.User
	SessionToken string
	IsNewUser    bool
}

// HandleCallback completes the flow: exchange the code, fetch the
// profile, upsert the user, store the token, mint a session JWT.
func (s *Service) HandleCallback(ctx context.Context, code, state string) (CallbackResult, error) {
	entry, err := s.consumeState(state)
	if err != nil {
		return CallbackResult{}, err
	}

	accessToken, err := s.exchangeCode(ctx, code, entry.redirectURI)
	if err != nil {
		return CallbackResult{}, err
	}

	client, err := github.NewClientWithBaseURL(ctx, accessToken, s.cfg.GitHub.APIBaseURL)
	if err != nil {
		return CallbackResult{}, err
	}
	profile, err := client.GetAuthenticatedUser(ctx)
	if err != nil {
		return CallbackResult{}, fmt.Errorf("%w: %v", ErrProviderAuthFailed, err)
	}
	githubID := profile.GetID()

	// The user row must exist before the token write: the encrypted
	// fallback column lives on it, so a first-time user hitting the
	// keychain-unavailable path would otherwise have nowhere to store
	// the token.
	user, isNew, err := s.store.UpsertByGitHubID(ctx, store.UpsertUserInput{
		GitHubID:       githubID,
		GitHubUsername: profile.GetLogin(),
		Email:          profile.GetEmail(),
		DisplayName:    profile.GetName(),
		AvatarURL:      profile.GetAvatarURL(),
	})
	if err != nil {
		return CallbackResult{}, fmt.Errorf("failed to upsert user: %w", err)
	}

	if err := s.secrets.Put(ctx, secrets.AccountKey(githubID), accessToken); err != nil {
		return CallbackResult{}, fmt.Errorf("failed to store access token: %w", err)
	}

	token, err := s.mintSessionToken(user)
	if err != nil {
		return CallbackResult{}, err
	}

	logging.Logger.Info("user authenticated",
		"user_id", user.ID, "github_username", user.GitHubUsername, "is_new", isNew)

	return CallbackResult{User: user, SessionToken: token, IsNewUser: isNew}, nil
}

// exchangeCode trades the authorization code for an access token. The
// provider reports failures as body fields even on HTTP 200.
func (s *Service) exchangeCode(ctx context.Context, code, redirectURI string) (string, error) {
	form := url.Values{}
	form.Set("client_id", s.cfg.GitHub.ClientID)
	form.Set("client_secret", s.cfg.GitHub.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.GitHub.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	var payload struct {
		AccessToken      string `json:"access_token"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if payload.Error != "" {
		return "", fmt.Errorf("%w: %s: %s", ErrProviderAuthFailed, payload.Error, payload.ErrorDescription)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("%w: provider returned no access token", ErrProviderAuthFailed)
	}
	return payload.AccessToken, nil
}

// mintSessionToken issues the HS256 session JWT.
func (s *Service) mintSessionToken(user store.User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      user.ID.String(),
		"githubId": user.GitHubID,
		"username": user.GitHubUsername,
		"tier":     user.Tier,
		"iat":      now.Unix(),
		"exp":      now.Add(s.cfg.JWT.ExpiresIn).Unix(),
		"iss":      s.cfg.JWT.Issuer,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWT.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// VerifySessionToken parses and validates a session JWT, returning its
// claims.
func (s *Service) VerifySessionToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWT.Secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateToken reports whether the token verifies and its user still
// exists.
func (s *Service) ValidateToken(ctx context.Context, tokenString string) bool {
	_, err := s.GetUserFromSession(ctx, tokenString)
	return err == nil
}

// GetUserFromSession resolves the token to its live user row.
func (s *Service) GetUserFromSession(ctx context.Context, tokenString string) (store.User, error) {
	claims, err := s.VerifySessionToken(tokenString)
	if err != nil {
		return store.User{}, err
	}
	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return store.User{}, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return store.User{}, fmt.Errorf("session user lookup failed: %w", err)
	}
	return user, nil
}

// RefreshSession re-issues a JWT for the still-valid user without
// re-authenticating against GitHub.
func (s *Service) RefreshSession(ctx context.Context, tokenString string) (string, error) {
	user, err := s.GetUserFromSession(ctx, tokenString)
	if err != nil {
		return "", err
	}
	return s.mintSessionToken(user)
}

// GetAccessToken returns the user's GitHub access token, if present.
func (s *Service) GetAccessToken(ctx context.Context, userID uuid.UUID) (string, bool) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return "", false
	}
	return s.secrets.Get(ctx, secrets.AccountKey(user.GitHubID))
}

// GetAccessTokenByGitHubID is the lookup used by the git driver's token
// source, which carries the GitHub identity rather than the user row.
func (s *Service) GetAccessTokenByGitHubID(ctx context.Context, githubID int64) (string, bool) {
	return s.secrets.Get(ctx, secrets.AccountKey(githubID))
}

// Logout removes the stored GitHub token. Idempotent: logging out an
// unknown or already logged-out user succeeds.
func (s *Service) Logout(ctx context.Context, userID uuid.UUID) error {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.secrets.Delete(ctx, secrets.AccountKey(user.GitHubID)); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	logging.Logger.Info("user logged out", "user_id", userID)
	return nil
}
