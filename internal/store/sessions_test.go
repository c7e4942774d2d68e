package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCreateSessionSupersedingAbandonsActive(t *testing.T) {
	st, mock := newMockStore(t)
	userID, repoID := uuid.New(), uuid.New()
	now := time.Now()
	active := Session{
		ID: uuid.New(), UserID: userID, RepositoryID: repoID,
		Status: SessionActive, StartedAt: now, CreatedAt: now, UpdatedAt: now,
	}
	abandoned := active
	abandoned.Status = SessionAbandoned
	created := Session{
		ID: uuid.New(), UserID: userID, RepositoryID: repoID,
		Status: SessionActive, StartedAt: now, CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT.+FROM sessions.+FOR UPDATE`).
		WithArgs(userID, SessionActive).
		WillReturnRows(sessionRows(active))
	mock.ExpectQuery(`(?s)UPDATE sessions.+session_superseded.+RETURNING`).
		WithArgs(active.ID, SessionAbandoned).
		WillReturnRows(sessionRows(abandoned))
	mock.ExpectQuery(`(?s)INSERT INTO sessions.+RETURNING`).
		WillReturnRows(sessionRows(created))
	mock.ExpectCommit()

	got, previous, err := st.CreateSessionSuperseding(context.Background(), CreateSessionInput{
		UserID: userID, RepositoryID: repoID, TaskDescription: "fix the login bug",
	})
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, SessionActive, got.Status)
	require.NotNil(t, previous)
	require.Equal(t, active.ID, previous.ID)
	require.Equal(t, SessionAbandoned, previous.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSessionSupersedingNoActive(t *testing.T) {
	st, mock := newMockStore(t)
	userID, repoID := uuid.New(), uuid.New()
	now := time.Now()
	created := Session{
		ID: uuid.New(), UserID: userID, RepositoryID: repoID,
		Status: SessionActive, StartedAt: now, CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT.+FROM sessions.+FOR UPDATE`).
		WithArgs(userID, SessionActive).
		WillReturnRows(sessionRows())
	mock.ExpectQuery(`(?s)INSERT INTO sessions.+RETURNING`).
		WillReturnRows(sessionRows(created))
	mock.ExpectCommit()

	got, previous, err := st.CreateSessionSuperseding(context.Background(), CreateSessionInput{
		UserID: userID, RepositoryID: repoID,
	})
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	require.Nil(t, previous)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A terminal session is never mutated again; the transaction rolls back
// without issuing an UPDATE.
func TestEndSessionRefusesTerminal(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()
	completed := Session{
		ID: uuid.New(), UserID: uuid.New(), RepositoryID: uuid.New(),
		Status: SessionCompleted, StartedAt: now, CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT.+FROM sessions WHERE id.+FOR UPDATE`).
		WithArgs(completed.ID).
		WillReturnRows(sessionRows(completed))
	mock.ExpectRollback()

	_, err := st.EndSession(context.Background(), completed.ID, SessionAbandoned, "session_abandoned")
	require.ErrorIs(t, err, ErrSessionTerminal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEndSessionRejectsNonTerminalStatus(t *testing.T) {
	st, mock := newMockStore(t)

	_, err := st.EndSession(context.Background(), uuid.New(), SessionActive, "x")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetSessionBranchOnEndedSession(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM sessions`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(SessionAbandoned))
	mock.ExpectRollback()

	_, err := st.SetSessionBranch(context.Background(), id, "feature/x")
	require.ErrorIs(t, err, ErrSessionTerminal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAbandonStaleSessions(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`(?s)UPDATE sessions.+session_stale`).
		WithArgs(SessionAbandoned, SessionActive, 7).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := st.AbandonStaleSessions(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
