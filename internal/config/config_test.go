package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/gitflow_test")
	t.Setenv("GITHUB_CLIENT_ID", "cid")
	t.Setenv("GITHUB_CLIENT_SECRET", "csecret")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("JWT_SECRET", "jwt-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GITFLOW_ENV", "")
	t.Setenv("GITFLOW_LOG_LEVEL", "")
	t.Setenv("GITFLOW_PORT", "")
	t.Setenv("JWT_EXPIRES_IN", "")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "development", cfg.Env)
	require.True(t, cfg.IsDevelopment())
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, defaultPort, cfg.Port)
	require.Equal(t, defaultRedirectURI, cfg.GitHub.RedirectURI)
	require.Equal(t, []string{"repo", "user", "read:org"}, cfg.GitHub.Scopes)
	require.Equal(t, 7*24*time.Hour, cfg.JWT.ExpiresIn)
	require.Equal(t, appName, cfg.JWT.Issuer)
	require.Equal(t, 5*time.Minute, cfg.Security.OAuthStateTTL)
	require.NotEmpty(t, cfg.ReposDir)
}

func TestLoadProductionLogLevel(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GITFLOW_ENV", "production")
	t.Setenv("GITFLOW_LOG_LEVEL", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "info", cfg.LogLevel)
	require.False(t, cfg.IsDevelopment())
}

func TestLoadRequiredFields(t *testing.T) {
	required := []string{
		"DATABASE_URL",
		"GITHUB_CLIENT_ID",
		"GITHUB_CLIENT_SECRET",
		"REDIS_URL",
		"JWT_SECRET",
	}
	for _, name := range required {
		t.Run(name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(name, "")

			_, err := Load()
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), name), "error %q should name %s", err, name)
		})
	}
}

func TestLoadPortValidation(t *testing.T) {
	setRequiredEnv(t)
	for _, bad := range []string{"0", "-1", "70000", "abc"} {
		t.Setenv("GITFLOW_PORT", bad)
		if _, err := Load(); err == nil {
			t.Errorf("port %q should fail", bad)
		}
	}

	t.Setenv("GITFLOW_PORT", "8080")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
}

func TestLoadPoolBounds(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GITFLOW_DB_POOL_MIN", "8")
	t.Setenv("GITFLOW_DB_POOL_MAX", "4")

	_, err := Load()
	require.Error(t, err)
}

func TestParseExpiry(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"7d", 7 * 24 * time.Hour},
		{"1d", 24 * time.Hour},
		{"12h", 12 * time.Hour},
		{"90m", 90 * time.Minute},
	}
	for _, tt := range tests {
		got, err := parseExpiry(tt.input)
		require.NoError(t, err, tt.input)
		require.Equal(t, tt.want, got, tt.input)
	}

	for _, bad := range []string{"", "0d", "-1d", "sevend", "-2h", "0s"} {
		if _, err := parseExpiry(bad); err == nil {
			t.Errorf("expiry %q should fail", bad)
		}
	}
}
