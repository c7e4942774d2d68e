package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// User is one account, identified internally by id and externally by the
// immutable numeric GitHub id.
type User struct {
	ID                   uuid.UUID      `db:"id"`
	GitHubID             int64          `db:"github_id"`
	GitHubUsername       string         `db:"github_username"`
	Email                string         `db:"email"`
	DisplayName          sql.NullString `db:"display_name"`
	AvatarURL            sql.NullString `db:"avatar_url"`
	GitHubTokenEncrypted sql.NullString `db:"github_token_encrypted"`
	Tier                 string         `db:"tier"`
	StripeCustomerID     sql.NullString `db:"stripe_customer_id"`
	StripeSubscriptionID sql.NullString `db:"stripe_subscription_id"`
	SubscriptionStatus   sql.NullString `db:"subscription_status"`
	SubscriptionRenewsAt sql.NullTime   `db:"subscription_renews_at"`
	CommitsThisMonth     int            `db:"commits_this_month"`
	PRsThisMonth         int            `db:"prs_this_month"`
	ReposAccessedTotal   int            `db:"repos_accessed_total"`
	UsageLastReset       time.Time      `db:"usage_last_reset"`
	LastLoginAt          sql.NullTime   `db:"last_login_at"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
	DeletedAt            sql.NullTime   `db:"deleted_at"`
}

type UpsertUserInput struct {
	GitHubID       int64
	GitHubUsername string
	Email          string
	DisplayName    string
	AvatarURL      string
}

const userColumns = `
	id, github_id, github_username, email, display_name, avatar_url,
	github_token_encrypted, tier,
	stripe_customer_id, stripe_subscription_id, subscription_status, subscription_renews_at,
	commits_this_month, prs_this_month, repos_accessed_total, usage_last_reset,
	last_login_at, created_at, updated_at, deleted_at
`

// UpsertByGitHubID finds-or-creates the user for an external GitHub
// identity inside one transaction. The existing row is locked for update
// so two concurrent callback legs cannot both insert. Returns the user
// and whether it was newly created.
func (s *Store) UpsertByGitHubID(ctx context.Context, input UpsertUserInput) (User, bool, error) {
	if input.GitHubID == 0 {
		return User{}, false, errors.New("github id required")
	}
	if strings.TrimSpace(input.GitHubUsername) == "" {
		return User{}, false, errors.New("github username required")
	}

	email := strings.TrimSpace(input.Email)
	if email == "" {
		email = fmt.Sprintf("%s@users.noreply.github.com", input.GitHubUsername)
	}

	var user User
	var isNew bool
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		const find = `
			SELECT ` + userColumns + `
			FROM users
			WHERE github_id = $1 AND deleted_at IS NULL
			FOR UPDATE
		`
		err := tx.GetContext(ctx, &user, find, input.GitHubID)
		switch {
		case err == nil:
			const update = `
				UPDATE users
				SET github_username = $2, email = $3, display_name = $4, avatar_url = $5,
				    last_login_at = NOW(), updated_at = NOW()
				WHERE id = $1
				RETURNING ` + userColumns + `
			`
			return tx.GetContext(ctx, &user, update, user.ID, input.GitHubUsername, email, nullString(input.DisplayName), nullString(input.AvatarURL))
		case errors.Is(err, sql.ErrNoRows):
			isNew = true
			const insert = `
				INSERT INTO users (id, github_id, github_username, email, display_name, avatar_url, tier, last_login_at, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW(), NOW())
				RETURNING ` + userColumns + `
			`
			return tx.GetContext(ctx, &user, insert, uuid.New(), input.GitHubID, input.GitHubUsername, email, nullString(input.DisplayName), nullString(input.AvatarURL), TierFree)
		default:
			return fmt.Errorf("failed to look up user: %w", err)
		}
	})
	if err != nil {
		return User{}, false, fmt.Errorf("failed to upsert user: %w", err)
	}
	return user, isNew, nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL`

	var user User
	if err := s.db.QueryOne(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

func (s *Store) GetUserByGitHubID(ctx context.Context, githubID int64) (User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE github_id = $1 AND deleted_at IS NULL`

	var user User
	if err := s.db.QueryOne(ctx, &user, query, githubID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// SetTokenColumn writes either a ciphertext or one of the sentinels into
// the fallback token column.
func (s *Store) SetTokenColumn(ctx context.Context, githubID int64, value string) error {
	const query = `
		UPDATE users SET github_token_encrypted = $2, updated_at = NOW()
		WHERE github_id = $1 AND deleted_at IS NULL
	`
	res, err := s.db.Query(ctx, query, githubID, value)
	if err != nil {
		return fmt.Errorf("failed to update token column: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTokenColumn reads the raw fallback token column value.
func (s *Store) GetTokenColumn(ctx context.Context, githubID int64) (string, error) {
	const query = `
		SELECT github_token_encrypted FROM users
		WHERE github_id = $1 AND deleted_at IS NULL
	`
	var value sql.NullString
	if err := s.db.QueryOne(ctx, &value, query, githubID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to load token column: %w", err)
	}
	return value.String, nil
}

// IncrementCommitUsage bumps the monthly commit counter, resetting the
// window first if a month has elapsed.
func (s *Store) IncrementCommitUsage(ctx context.Context, userID uuid.UUID) error {
	return s.incrementUsage(ctx, userID, "commits_this_month")
}

// IncrementPRUsage bumps the monthly PR counter.
func (s *Store) IncrementPRUsage(ctx context.Context, userID uuid.UUID) error {
	return s.incrementUsage(ctx, userID, "prs_this_month")
}

// usageUpdateSQL builds the counter update. Postgres rejects a statement
// that assigns the same column twice, so the increment is folded into the
// bumped column's reset CASE: on a fresh window the event itself counts
// as 1, otherwise the counter advances by one.
func usageUpdateSQL(column string) string {
	const resetDue = `usage_last_reset < NOW() - INTERVAL '1 month'`

	assign := func(col string) string {
		if col == column {
			return col + ` = CASE WHEN ` + resetDue + ` THEN 1 ELSE ` + col + ` + 1 END`
		}
		return col + ` = CASE WHEN ` + resetDue + ` THEN 0 ELSE ` + col + ` END`
	}

	return `
		UPDATE users SET
			` + assign("commits_this_month") + `,
			` + assign("prs_this_month") + `,
			usage_last_reset = CASE WHEN ` + resetDue + ` THEN NOW() ELSE usage_last_reset END,
			updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
}

func (s *Store) incrementUsage(ctx context.Context, userID uuid.UUID, column string) error {
	// column comes from a fixed set above, never from input.
	res, err := s.db.Query(ctx, usageUpdateSQL(column), userID)
	if err != nil {
		return fmt.Errorf("failed to increment %s: %w", column, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementReposAccessed bumps the lifetime repo counter.
func (s *Store) IncrementReposAccessed(ctx context.Context, userID uuid.UUID) error {
	const query = `
		UPDATE users SET repos_accessed_total = repos_accessed_total + 1, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	if _, err := s.db.Query(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to increment repos accessed: %w", err)
	}
	return nil
}

// SoftDeleteUser marks the account deleted and overwrites the fallback
// token column with the redaction sentinel.
func (s *Store) SoftDeleteUser(ctx context.Context, userID uuid.UUID) error {
	const query = `
		UPDATE users SET deleted_at = NOW(), github_token_encrypted = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	res, err := s.db.Query(ctx, query, userID, TokenRedacted)
	if err != nil {
		return fmt.Errorf("failed to soft delete user: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(v string) sql.NullString {
	v = strings.TrimSpace(v)
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
