package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Session is one unit of work by a user on one repository: a task, the
// branch carrying it, and the PR if one exists.
type Session struct {
	ID               uuid.UUID      `db:"id"`
	UserID           uuid.UUID      `db:"user_id"`
	RepositoryID     uuid.UUID      `db:"repository_id"`
	TaskDescription  sql.NullString `db:"task_description"`
	CurrentBranch    sql.NullString `db:"current_branch"`
	PRID             sql.NullInt64  `db:"pr_id"`
	PRNumber         sql.NullInt32  `db:"pr_number"`
	PRURL            sql.NullString `db:"pr_url"`
	PRCreatedAt      sql.NullTime   `db:"pr_created_at"`
	PRMergedAt       sql.NullTime   `db:"pr_merged_at"`
	CommitsInSession int            `db:"commits_in_session"`
	LastAction       sql.NullString `db:"last_action"`
	LastActionAt     sql.NullTime   `db:"last_action_at"`
	Status           string         `db:"status"`
	StartedAt        time.Time      `db:"started_at"`
	EndedAt          sql.NullTime   `db:"ended_at"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

type CreateSessionInput struct {
	UserID          uuid.UUID
	RepositoryID    uuid.UUID
	TaskDescription string
	CurrentBranch   string
}

const sessionColumns = `
	id, user_id, repository_id, task_description, current_branch,
	pr_id, pr_number, pr_url, pr_created_at, pr_merged_at,
	commits_in_session, last_action, last_action_at,
	status, started_at, ended_at, created_at, updated_at
`

// CreateSessionSuperseding inserts a new active session, abandoning any
// currently active session for the user inside the same transaction.
// Returns the new session and the superseded one, if any.
func (s *Store) CreateSessionSuperseding(ctx context.Context, input CreateSessionInput) (Session, *Session, error) {
	if input.UserID == uuid.Nil || input.RepositoryID == uuid.Nil {
		return Session{}, nil, errors.New("user id and repository id required")
	}

	var created Session
	var previous *Session
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		const findActive = `
			SELECT ` + sessionColumns + ` FROM sessions
			WHERE user_id = $1 AND status = $2
			FOR UPDATE
		`
		var active Session
		err := tx.GetContext(ctx, &active, findActive, input.UserID, SessionActive)
		switch {
		case err == nil:
			const abandon = `
				UPDATE sessions
				SET status = $2, ended_at = NOW(), last_action = 'session_superseded',
				    last_action_at = NOW(), updated_at = NOW()
				WHERE id = $1
				RETURNING ` + sessionColumns + `
			`
			var abandoned Session
			if err := tx.GetContext(ctx, &abandoned, abandon, active.ID, SessionAbandoned); err != nil {
				return fmt.Errorf("failed to abandon previous session: %w", err)
			}
			previous = &abandoned
		case errors.Is(err, sql.ErrNoRows):
			// No active session to supersede.
		default:
			return fmt.Errorf("failed to look up active session: %w", err)
		}

		const insert = `
			INSERT INTO sessions (id, user_id, repository_id, task_description, current_branch,
			                      status, last_action, last_action_at, started_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 'session_started', NOW(), NOW(), NOW(), NOW())
			RETURNING ` + sessionColumns + `
		`
		if err := tx.GetContext(ctx, &created, insert, uuid.New(), input.UserID, input.RepositoryID,
			nullString(input.TaskDescription), nullString(input.CurrentBranch), SessionActive); err != nil {
			if isUniqueViolation(err, "sessions_one_active_per_user_idx") {
				// A concurrent transaction won the race; the caller retries
				// by observing the new active session.
				return fmt.Errorf("another session became active concurrently: %w", err)
			}
			return fmt.Errorf("failed to create session: %w", err)
		}
		return nil
	})
	if err != nil {
		return Session{}, nil, err
	}
	return created, previous, nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	var session Session
	if err := s.db.QueryOne(ctx, &session, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}

func (s *Store) GetActiveSession(ctx context.Context, userID uuid.UUID) (Session, error) {
	const query = `
		SELECT ` + sessionColumns + ` FROM sessions
		WHERE user_id = $1 AND status = $2
	`

	var session Session
	if err := s.db.QueryOne(ctx, &session, query, userID, SessionActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("failed to load active session: %w", err)
	}
	return session, nil
}

func (s *Store) ListSessions(ctx context.Context, userID uuid.UUID, limit int) ([]Session, error) {
	const query = `
		SELECT ` + sessionColumns + ` FROM sessions
		WHERE user_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	var sessions []Session
	if err := s.db.QueryMany(ctx, &sessions, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// EndSession transitions an active session to a terminal status under a
// row lock. Terminal sessions are never mutated again.
func (s *Store) EndSession(ctx context.Context, id uuid.UUID, status, lastAction string) (Session, error) {
	if status != SessionCompleted && status != SessionAbandoned {
		return Session{}, fmt.Errorf("invalid terminal status %q", status)
	}

	var ended Session
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		const find = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 FOR UPDATE`
		var current Session
		if err := tx.GetContext(ctx, &current, find, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to lock session: %w", err)
		}
		if current.Status != SessionActive {
			return ErrSessionTerminal
		}

		const update = `
			UPDATE sessions
			SET status = $2, ended_at = NOW(), last_action = $3, last_action_at = NOW(), updated_at = NOW()
			WHERE id = $1
			RETURNING ` + sessionColumns + `
		`
		if err := tx.GetContext(ctx, &ended, update, id, status, lastAction); err != nil {
			return fmt.Errorf("failed to end session: %w", err)
		}
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	return ended, nil
}

// updateActive applies set inside a row-locked transaction, refusing to
// touch terminal sessions.
func (s *Store) updateActive(ctx context.Context, id uuid.UUID, update string, args ...any) (Session, error) {
	var session Session
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		const find = `SELECT status FROM sessions WHERE id = $1 FOR UPDATE`
		var status string
		if err := tx.GetContext(ctx, &status, find, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to lock session: %w", err)
		}
		if status != SessionActive {
			return ErrSessionTerminal
		}
		if err := tx.GetContext(ctx, &session, update, append([]any{id}, args...)...); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	return session, nil
}

// SetSessionBranch records the branch the session's work moved to.
func (s *Store) SetSessionBranch(ctx context.Context, id uuid.UUID, branch string) (Session, error) {
	const update = `
		UPDATE sessions
		SET current_branch = $2, last_action = 'branch_changed', last_action_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING ` + sessionColumns + `
	`
	return s.updateActive(ctx, id, update, branch)
}

// IncrementSessionCommits bumps the in-session commit counter and records
// the commit action.
func (s *Store) IncrementSessionCommits(ctx context.Context, id uuid.UUID, branch string) (Session, error) {
	const update = `
		UPDATE sessions
		SET commits_in_session = commits_in_session + 1, current_branch = $2,
		    last_action = 'commit', last_action_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING ` + sessionColumns + `
	`
	return s.updateActive(ctx, id, update, branch)
}

// SetSessionPR attaches pull-request coordinates to the session.
func (s *Store) SetSessionPR(ctx context.Context, id uuid.UUID, prID int64, prNumber int, prURL string) (Session, error) {
	const update = `
		UPDATE sessions
		SET pr_id = $2, pr_number = $3, pr_url = $4, pr_created_at = NOW(),
		    last_action = 'pr_created', last_action_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING ` + sessionColumns + `
	`
	return s.updateActive(ctx, id, update, prID, prNumber, prURL)
}

// TouchSession refreshes last_action on an active session.
func (s *Store) TouchSession(ctx context.Context, id uuid.UUID, action string) (Session, error) {
	const update = `
		UPDATE sessions
		SET last_action = $2, last_action_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING ` + sessionColumns + `
	`
	return s.updateActive(ctx, id, update, action)
}

// AbandonStaleSessions marks active sessions idle for more than the given
// number of days as abandoned. Returns how many were ended.
func (s *Store) AbandonStaleSessions(ctx context.Context, days int) (int, error) {
	const query = `
		UPDATE sessions
		SET status = $1, ended_at = NOW(), last_action = 'session_stale',
		    last_action_at = NOW(), updated_at = NOW()
		WHERE status = $2
		  AND COALESCE(last_action_at, started_at) < NOW() - ($3 || ' days')::interval
	`
	res, err := s.db.Query(ctx, query, SessionAbandoned, SessionActive, days)
	if err != nil {
		return 0, fmt.Errorf("failed to abandon stale sessions: %w", err)
	}
	rows, _ := res.RowsAffected()
	return int(rows), nil
}
