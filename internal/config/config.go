package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config is the typed snapshot of environment configuration taken at startup.
type Config struct {
	Env      string
	Port     int
	LogLevel string

	Database DatabaseConfig
	GitHub   GitHubConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Security SecurityConfig
	Stripe   StripeConfig

	// ReposDir is the base directory for local clones,
	// laid out as <ReposDir>/<org>/<repo>.
	ReposDir string
}

type DatabaseConfig struct {
	URL     string
	PoolMin int
	PoolMax int
}

type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	TokenURL     string
	AuthorizeURL string
	APIBaseURL   string
}

type RedisConfig struct {
	URL        string
	TTLSeconds int
}

type JWTConfig struct {
	Secret    string
	ExpiresIn time.Duration
	Issuer    string
}

type SecurityConfig struct {
	KeychainService string
	OAuthStateTTL   time.Duration
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	ProPriceID    string
}

const (
	appName = "gitflow-mcp"

	defaultPort        = 3000
	defaultRedirectURI = "http://localhost:3000/oauth/callback"
	defaultJWTExpiry   = 7 * 24 * time.Hour
	defaultStateTTL    = 5 * time.Minute
	defaultRedisTTL    = 300

	defaultGitHubAuthorize = "https://github.com/login/oauth/authorize"
	defaultGitHubToken     = "https://github.com/login/oauth/access_token"
	defaultGitHubAPI       = "https://api.github.com"
)

// Scopes requested during OAuth. Fixed: the tool surface needs repo write,
// profile read and org listing.
var githubScopes = []string{"repo", "user", "read:org"}

// Load reads configuration from the environment. Required fields missing
// from the environment fail the load.
func Load() (Config, error) {
	env := getEnvDefault("GITFLOW_ENV", "development")

	logLevel := strings.TrimSpace(os.Getenv("GITFLOW_LOG_LEVEL"))
	if logLevel == "" {
		if env == "development" {
			logLevel = "debug"
		} else {
			logLevel = "info"
		}
	}

	cfg := Config{
		Env:      env,
		Port:     defaultPort,
		LogLevel: logLevel,
		Database: DatabaseConfig{
			URL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
			PoolMin: 2,
			PoolMax: 10,
		},
		GitHub: GitHubConfig{
			ClientID:     strings.TrimSpace(os.Getenv("GITHUB_CLIENT_ID")),
			ClientSecret: strings.TrimSpace(os.Getenv("GITHUB_CLIENT_SECRET")),
			RedirectURI:  getEnvDefault("GITHUB_REDIRECT_URI", defaultRedirectURI),
			Scopes:       githubScopes,
			TokenURL:     getEnvDefault("GITHUB_TOKEN_URL", defaultGitHubToken),
			AuthorizeURL: getEnvDefault("GITHUB_AUTHORIZE_URL", defaultGitHubAuthorize),
			APIBaseURL:   getEnvDefault("GITHUB_API_BASE_URL", defaultGitHubAPI),
		},
		Redis: RedisConfig{
			URL:        strings.TrimSpace(os.Getenv("REDIS_URL")),
			TTLSeconds: defaultRedisTTL,
		},
		JWT: JWTConfig{
			Secret:    strings.TrimSpace(os.Getenv("JWT_SECRET")),
			ExpiresIn: defaultJWTExpiry,
			Issuer:    getEnvDefault("JWT_ISSUER", appName),
		},
		Security: SecurityConfig{
			KeychainService: getEnvDefault("GITFLOW_KEYCHAIN_SERVICE", appName),
			OAuthStateTTL:   defaultStateTTL,
		},
		Stripe: StripeConfig{
			SecretKey:     strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY")),
			WebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
			ProPriceID:    strings.TrimSpace(os.Getenv("STRIPE_PRO_PRICE_ID")),
		},
		ReposDir: getEnvDefault("GITFLOW_REPOS_DIR", defaultReposDir()),
	}

	if port := strings.TrimSpace(os.Getenv("GITFLOW_PORT")); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return Config{}, fmt.Errorf("invalid GITFLOW_PORT: %q", port)
		}
		cfg.Port = p
	}

	if v := strings.TrimSpace(os.Getenv("GITFLOW_DB_POOL_MIN")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid GITFLOW_DB_POOL_MIN: %q", v)
		}
		cfg.Database.PoolMin = n
	}
	if v := strings.TrimSpace(os.Getenv("GITFLOW_DB_POOL_MAX")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid GITFLOW_DB_POOL_MAX: %q", v)
		}
		cfg.Database.PoolMax = n
	}
	if cfg.Database.PoolMin > cfg.Database.PoolMax {
		return Config{}, fmt.Errorf("GITFLOW_DB_POOL_MIN (%d) exceeds GITFLOW_DB_POOL_MAX (%d)", cfg.Database.PoolMin, cfg.Database.PoolMax)
	}

	if v := strings.TrimSpace(os.Getenv("REDIS_TTL_SECONDS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid REDIS_TTL_SECONDS: %q", v)
		}
		cfg.Redis.TTLSeconds = n
	}

	if v := strings.TrimSpace(os.Getenv("JWT_EXPIRES_IN")); v != "" {
		d, err := parseExpiry(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid JWT_EXPIRES_IN: %w", err)
		}
		cfg.JWT.ExpiresIn = d
	}

	if v := strings.TrimSpace(os.Getenv("OAUTH_STATE_TTL_SECONDS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid OAUTH_STATE_TTL_SECONDS: %q", v)
		}
		cfg.Security.OAuthStateTTL = time.Duration(n) * time.Second
	}

	if cfg.Database.URL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.GitHub.ClientID == "" {
		return Config{}, fmt.Errorf("GITHUB_CLIENT_ID is required")
	}
	if cfg.GitHub.ClientSecret == "" {
		return Config{}, fmt.Errorf("GITHUB_CLIENT_SECRET is required")
	}
	if cfg.Redis.URL == "" {
		return Config{}, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.JWT.Secret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

// IsDevelopment reports whether the app is running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// parseExpiry accepts Go durations plus the day suffix used by
// configuration like "7d".
func parseExpiry(v string) (time.Duration, error) {
	if strings.HasSuffix(v, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(v, "d"))
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid day count %q", v)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("expiry must be positive")
	}
	return d, nil
}

func getEnvDefault(key, def string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return def
}

func defaultReposDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gitflow-for-pms/repos"
	}
	return filepath.Join(home, ".gitflow-for-pms", "repos")
}
