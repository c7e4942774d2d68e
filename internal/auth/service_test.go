package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gitflow-ai/gitflow-mcp/internal/config"
	"github.com/gitflow-ai/gitflow-mcp/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		GitHub: config.GitHubConfig{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RedirectURI:  "http://localhost:3000/oauth/callback",
			Scopes:       []string{"repo", "user", "read:org"},
			AuthorizeURL: "https://github.com/login/oauth/authorize",
			TokenURL:     "https://github.com/login/oauth/access_token",
		},
		JWT: config.JWTConfig{
			Secret:    "test-jwt-secret",
			ExpiresIn: time.Hour,
			Issuer:    "gitflow-mcp",
		},
		Security: config.SecurityConfig{
			OAuthStateTTL: 5 * time.Minute,
		},
	}
}

func newTestService(t *testing.T, cfg *config.Config) *Service {
	t.Helper()
	s := NewService(cfg, nil, nil)
	t.Cleanup(s.Close)
	return s
}

func TestInitiateOAuthBuildsAuthorizeURL(t *testing.T) {
	cfg := testConfig()
	s := newTestService(t, cfg)

	result, err := s.InitiateOAuth("")
	require.NoError(t, err)
	require.Equal(t, cfg.Security.OAuthStateTTL, result.ExpiresIn)
	require.Len(t, result.State, 64)

	parsed, err := url.Parse(result.URL)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(result.URL, cfg.GitHub.AuthorizeURL+"?"))

	q := parsed.Query()
	require.Equal(t, "client-id", q.Get("client_id"))
	require.Equal(t, cfg.GitHub.RedirectURI, q.Get("redirect_uri"))
	require.Equal(t, "repo user read:org", q.Get("scope"))
	require.Equal(t, result.State, q.Get("state"))
	require.Equal(t, "true", q.Get("allow_signup"))
}

func TestInitiateOAuthRedirectOverride(t *testing.T) {
	s := newTestService(t, testConfig())

	result, err := s.InitiateOAuth("http://localhost:9999/cb")
	require.NoError(t, err)

	parsed, err := url.Parse(result.URL)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:9999/cb", parsed.Query().Get("redirect_uri"))
}

// A state token is good for exactly one callback. Replaying it must fail
// as invalid, not expired.
func TestStateIsSingleUse(t *testing.T) {
	s := newTestService(t, testConfig())

	result, err := s.InitiateOAuth("")
	require.NoError(t, err)

	entry, err := s.consumeState(result.State)
	require.NoError(t, err)
	require.Equal(t, s.cfg.GitHub.RedirectURI, entry.redirectURI)

	_, err = s.consumeState(result.State)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestStateExpiry(t *testing.T) {
	s := newTestService(t, testConfig())

	s.mu.Lock()
	s.states["stale"] = stateEntry{createdAt: time.Now().Add(-10 * time.Minute)}
	s.mu.Unlock()

	_, err := s.consumeState("stale")
	require.ErrorIs(t, err, ErrExpiredState)

	// Expiry also consumes the state.
	_, err = s.consumeState("stale")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestHandleCallbackRejectsUnknownState(t *testing.T) {
	s := newTestService(t, testConfig())

	_, err := s.HandleCallback(context.Background(), "code", "never-issued")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestExchangeCode(t *testing.T) {
	var gotForm url.Values
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"gho_exchanged","token_type":"bearer"}`))
	}))
	defer ts.Close()

	cfg := testConfig()
	cfg.GitHub.TokenURL = ts.URL
	s := newTestService(t, cfg)

	token, err := s.exchangeCode(context.Background(), "the-code", "http://localhost:3000/oauth/callback")
	require.NoError(t, err)
	require.Equal(t, "gho_exchanged", token)
	require.Equal(t, "the-code", gotForm.Get("code"))
	require.Equal(t, "client-id", gotForm.Get("client_id"))
	require.Equal(t, "client-secret", gotForm.Get("client_secret"))
}

// GitHub reports exchange failures in the body of a 200 response.
func TestExchangeCodeErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":"bad_verification_code","error_description":"The code passed is incorrect or expired."}`))
	}))
	defer ts.Close()

	cfg := testConfig()
	cfg.GitHub.TokenURL = ts.URL
	s := newTestService(t, cfg)

	_, err := s.exchangeCode(context.Background(), "expired-code", "")
	require.ErrorIs(t, err, ErrProviderAuthFailed)
	require.Contains(t, err.Error(), "bad_verification_code")
}

func TestExchangeCodeEmptyToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	cfg := testConfig()
	cfg.GitHub.TokenURL = ts.URL
	s := newTestService(t, cfg)

	_, err := s.exchangeCode(context.Background(), "code", "")
	require.ErrorIs(t, err, ErrProviderAuthFailed)
}

func TestSessionTokenRoundTrip(t *testing.T) {
	s := newTestService(t, testConfig())
	user := store.User{
		ID:             uuid.New(),
		GitHubID:       4242,
		GitHubUsername: "octocat",
		Tier:           store.TierFree,
	}

	token, err := s.mintSessionToken(user)
	require.NoError(t, err)

	claims, err := s.VerifySessionToken(token)
	require.NoError(t, err)
	require.Equal(t, user.ID.String(), claims["sub"])
	require.Equal(t, "octocat", claims["username"])
	require.Equal(t, store.TierFree, claims["tier"])
	require.Equal(t, "gitflow-mcp", claims["iss"])
	require.EqualValues(t, 4242, claims["githubId"])
}

func TestSessionTokenWrongSecret(t *testing.T) {
	minter := newTestService(t, testConfig())
	token, err := minter.mintSessionToken(store.User{ID: uuid.New(), Tier: store.TierFree})
	require.NoError(t, err)

	otherCfg := testConfig()
	otherCfg.JWT.Secret = "a-different-secret"
	verifier := newTestService(t, otherCfg)

	_, err = verifier.VerifySessionToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifySessionTokenGarbage(t *testing.T) {
	s := newTestService(t, testConfig())
	for _, bad := range []string{"", "not-a-jwt", "aaa.bbb.ccc"} {
		if _, err := s.VerifySessionToken(bad); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("token %q: want ErrInvalidToken, got %v", bad, err)
		}
	}
}
