package auth

import (
	"context"
	"crypto/sha256"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/gitflow-ai/gitflow-mcp/internal/database"
	"github.com/gitflow-ai/gitflow-mcp/internal/secrets"
	"github.com/gitflow-ai/gitflow-mcp/internal/store"
)

func newUserRow(id uuid.UUID, githubID int64, username string, now time.Time) *sqlmock.Rows {
	return userColumnsRows().AddRow(
		id, githubID, username, username+"@users.noreply.github.com", nil, nil,
		nil, store.TierFree,
		nil, nil, nil, nil,
		0, 0, 0, now,
		now, now, now, nil,
	)
}

func userColumnsRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "github_id", "github_username", "email", "display_name", "avatar_url",
		"github_token_encrypted", "tier",
		"stripe_customer_id", "stripe_subscription_id", "subscription_status", "subscription_renews_at",
		"commits_this_month", "prs_this_month", "repos_accessed_total", "usage_last_reset",
		"last_login_at", "created_at", "updated_at", "deleted_at",
	})
}

// A first-time callback on a host without a keychain: the user row must
// exist before the token lands in the encrypted fallback column, or the
// column write has no row to target.
func TestHandleCallbackFirstUserWithoutKeychain(t *testing.T) {
	keyring.MockInitWithError(keyring.ErrUnsupportedPlatform)
	t.Cleanup(keyring.MockInit)

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"gho_callback","token_type":"bearer"}`))
	}))
	defer tokenSrv.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":99,"login":"octocat"}`))
	}))
	defer apiSrv.Close()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	st := store.New(&database.DB{DB: sqlx.NewDb(mockDB, "sqlmock")})

	key := sha256.Sum256([]byte("test-jwt-secret"))
	sec, err := secrets.New("gitflow-test", key[:], st)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.GitHub.TokenURL = tokenSrv.URL
	cfg.GitHub.APIBaseURL = apiSrv.URL
	s := NewService(cfg, st, sec)
	t.Cleanup(s.Close)

	// Ordered: the upsert transaction completes before the token column
	// write runs.
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT.+FROM users.+FOR UPDATE`).
		WillReturnRows(userColumnsRows())
	mock.ExpectQuery(`(?s)INSERT INTO users.+RETURNING`).
		WillReturnRows(newUserRow(uuid.New(), 99, "octocat", now))
	mock.ExpectCommit()
	mock.ExpectExec(`(?s)UPDATE users SET github_token_encrypted`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	initiated, err := s.InitiateOAuth("")
	require.NoError(t, err)

	result, err := s.HandleCallback(context.Background(), "the-code", initiated.State)
	require.NoError(t, err)
	require.True(t, result.IsNewUser)
	require.EqualValues(t, 99, result.User.GitHubID)
	require.Equal(t, "octocat", result.User.GitHubUsername)
	require.NotEmpty(t, result.SessionToken)
	require.NoError(t, mock.ExpectationsWereMet())
}
