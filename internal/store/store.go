// Package store persists users, repositories and work sessions in
// Postgres. All statements are parameterized; callers compose multi-step
// mutations through the database transaction helper.
package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gitflow-ai/gitflow-mcp/internal/database"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrSessionTerminal = errors.New("session already ended")
)

// Token column sentinels. The users.github_token_encrypted column holds
// either a real ciphertext or one of these literals.
const (
	TokenInKeychain = "STORED_IN_KEYCHAIN"
	TokenLoggedOut  = "LOGGED_OUT"
	TokenRedacted   = "REDACTED"
)

// Session status values.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionAbandoned = "abandoned"
)

// User tiers.
const (
	TierFree       = "free"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

type Store struct {
	db *database.DB
}

func New(db *database.DB) *Store {
	return &Store{db: db}
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if constraint == "" || pgErr.ConstraintName == constraint {
			return true
		}
	}
	return false
}
