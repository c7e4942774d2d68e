package store

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/gitflow-ai/gitflow-mcp/internal/database"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return New(&database.DB{DB: sqlx.NewDb(mockDB, "sqlmock")}), mock
}

func sessionRows(sessions ...Session) *sqlmock.Rows {
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
