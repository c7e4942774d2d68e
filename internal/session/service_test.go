package session

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/gitflow-ai/gitflow-mcp/internal/database"
	"github.com/gitflow-ai/gitflow-mcp/internal/gitcli"
	"github.com/gitflow-ai/gitflow-mcp/internal/store"
)

func newMockService(t *testing.T) (*Service, sqlmock.Sqlmock, *gitcli.PathLocks) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	st := store.New(&database.DB{DB: sqlx.NewDb(mockDB, "sqlmock")})
	locks := gitcli.NewPathLocks()
	drivers := func(user store.User, localPath string) *gitcli.Driver {
		return gitcli.New(localPath, gitcli.TokenSourceFunc(func(ctx context.Context) (string, bool) {
			return "", false
		}))
	}
	return NewService(st, drivers, locks), mock, locks
}

func sessionRows(sessions ...store.Session) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "repository_id", "task_description", "current_branch",
		"pr_id", "pr_number", "pr_url", "pr_created_at", "pr_merged_at",
		"commits_in_session", "last_action", "last_action_at",
		"status", "started_at", "ended_at", "created_at", "updated_at",
	})
	for _, s := range sessions {
		rows.AddRow(s.ID, s.UserID, s.RepositoryID, s.TaskDescription, s.CurrentBranch,
			s.PRID, s.PRNumber, s.PRURL, s.PRCreatedAt, s.PRMergedAt,
			s.CommitsInSession, s.LastAction, s.LastActionAt,
			s.Status, s.StartedAt, s.EndedAt, s.CreatedAt, s.UpdatedAt)
	}
	return rows
}

func repoRows(repos ...store.Repository) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "github_repo_id", "owner", "name", "url", "description",
		"local_path", "is_cloned", "cloned_at", "current_branch", "last_accessed_at",
		"created_at", "updated_at", "deleted_at",
	})
	for _, r := range repos {
		rows.AddRow(r.ID, r.UserID, r.GitHubRepoID, r.Owner, r.Name, r.URL, r.Description,
			r.LocalPath, r.IsCloned, r.ClonedAt, r.CurrentBranch, r.LastAccessedAt,
			r.CreatedAt, r.UpdatedAt, r.DeletedAt)
	}
	return rows
}

// Starting with an active session open abandons it in the same
// transaction and reports the displaced session back.
func TestStartSupersedesActiveSession(t *testing.T) {
	svc, mock, _ := newMockService(t)
	user := store.User{ID: uuid.New()}
	now := time.Now()
	repo := store.Repository{
		ID: uuid.New(), UserID: user.ID,
		CurrentBranch: sql.NullString{String: "main", Valid: true},
	}
	active := store.Session{
		ID: uuid.New(), UserID: user.ID, RepositoryID: repo.ID,
		Status: store.SessionActive, StartedAt: now, CreatedAt: now, UpdatedAt: now,
	}
	abandoned := active
	abandoned.Status = store.SessionAbandoned
	created := store.Session{
		ID: uuid.New(), UserID: user.ID, RepositoryID: repo.ID,
		Status: store.SessionActive, StartedAt: now, CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT.+FROM sessions.+FOR UPDATE`).
		WillReturnRows(sessionRows(active))
	mock.ExpectQuery(`(?s)UPDATE sessions.+session_superseded.+RETURNING`).
		WillReturnRows(sessionRows(abandoned))
	mock.ExpectQuery(`(?s)INSERT INTO sessions.+RETURNING`).
		WillReturnRows(sessionRows(created))
	mock.ExpectCommit()

	result, err := svc.Start(context.Background(), user, repo, "fix the login bug")
	require.NoError(t, err)
	require.True(t, result.AutoClosed)
	require.NotNil(t, result.Previous)
	require.Equal(t, active.ID, result.Previous.ID)
	require.Equal(t, created.ID, result.Session.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartFirstSession(t *testing.T) {
	svc, mock, _ := newMockService(t)
	user := store.User{ID: uuid.New()}
	now := time.Now()
	repo := store.Repository{ID: uuid.New(), UserID: user.ID}
	created := store.Session{
		ID: uuid.New(), UserID: user.ID, RepositoryID: repo.ID,
		Status: store.SessionActive, StartedAt: now, CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT.+FROM sessions.+FOR UPDATE`).
		WillReturnRows(sessionRows())
	mock.ExpectQuery(`(?s)INSERT INTO sessions.+RETURNING`).
		WillReturnRows(sessionRows(created))
	mock.ExpectCommit()

	result, err := svc.Start(context.Background(), user, repo, "")
	require.NoError(t, err)
	require.False(t, result.AutoClosed)
	require.Nil(t, result.Previous)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Completing an already-ended session must refuse rather than rewrite
// its terminal state.
func TestMarkCompletedRefusesEndedSession(t *testing.T) {
	svc, mock, _ := newMockService(t)
	now := time.Now()
	ended := store.Session{
		ID: uuid.New(), UserID: uuid.New(), RepositoryID: uuid.New(),
		Status: store.SessionAbandoned, StartedAt: now, CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT.+FROM sessions WHERE id.+FOR UPDATE`).
		WillReturnRows(sessionRows(ended))
	mock.ExpectRollback()

	_, err := svc.MarkCompleted(context.Background(), ended.ID)
	require.ErrorIs(t, err, store.ErrSessionTerminal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupStale(t *testing.T) {
	svc, mock, _ := newMockService(t)

	mock.ExpectExec(`(?s)UPDATE sessions.+session_stale`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := svc.CleanupStale(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Resume mutates the working tree, so it must queue behind whoever
// holds the clone's lock instead of checking out concurrently.
func TestResumeWaitsForPathLock(t *testing.T) {
	svc, mock, locks := newMockService(t)
	user := store.User{ID: uuid.New(), GitHubID: 1}
	now := time.Now()
	repoID := uuid.New()
	const clonePath = "/tmp/gitflow-test-clone"

	target := store.Session{
		ID: uuid.New(), UserID: user.ID, RepositoryID: repoID,
		CurrentBranch: sql.NullString{String: "feature/x", Valid: true},
		Status:        store.SessionActive,
		StartedAt:     now, CreatedAt: now, UpdatedAt: now,
	}
	repo := store.Repository{
		ID: repoID, UserID: user.ID, GitHubRepoID: 7,
		Owner: "o", Name: "r", URL: "https://github.com/o/r",
		LocalPath: sql.NullString{String: clonePath, Valid: true},
		IsCloned:  true,
		CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectQuery(`(?s)SELECT.+FROM sessions WHERE id`).
		WillReturnRows(sessionRows(target))
	mock.ExpectQuery(`(?s)SELECT.+FROM repositories`).
		WillReturnRows(repoRows(repo))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM sessions`).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(store.SessionActive))
	mock.ExpectQuery(`(?s)UPDATE sessions.+RETURNING`).
		WillReturnRows(sessionRows(target))
	mock.ExpectCommit()

	unlock := locks.Lock(clonePath)

	type outcome struct {
		result ResumeResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := svc.Resume(context.Background(), target.ID, user)
		done <- outcome{result, err}
	}()

	select {
	case <-done:
		t.Fatal("resume touched the clone while its lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case out := <-done:
		require.NoError(t, out.err)
		require.True(t, out.result.Refreshed)
		// The clone path has no repository behind it, so the checkout
		// fails without failing the resume.
		require.False(t, out.result.BranchCheckedOut)
	case <-time.After(time.Second):
		t.Fatal("resume never finished after the lock was released")
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "less than a minute"},
		{30 * time.Second, "less than a minute"},
		{time.Minute, "1 minute(s)"},
		{45 * time.Minute, "45 minute(s)"},
		{time.Hour, "1 hour(s)"},
		{2 * time.Hour, "2 hour(s)"},
		{90 * time.Minute, "1 hour(s) 30 minute(s)"},
		{25*time.Hour + 5*time.Minute, "25 hour(s) 5 minute(s)"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
