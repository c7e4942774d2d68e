package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository records a remote GitHub repository that has been, or will
// be, cloned locally for one user.
type Repository struct {
	ID             uuid.UUID      `db:"id"`
	UserID         uuid.UUID      `db:"user_id"`
	GitHubRepoID   int64          `db:"github_repo_id"`
	Owner          string         `db:"owner"`
	Name           string         `db:"name"`
	URL            string         `db:"url"`
	Description    sql.NullString `db:"description"`
	LocalPath      sql.NullString `db:"local_path"`
	IsCloned       bool           `db:"is_cloned"`
	ClonedAt       sql.NullTime   `db:"cloned_at"`
	CurrentBranch  sql.NullString `db:"current_branch"`
	LastAccessedAt sql.NullTime   `db:"last_accessed_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	DeletedAt      sql.NullTime   `db:"deleted_at"`
}

// FullName returns owner/name.
func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

type UpsertRepositoryInput struct {
	UserID       uuid.UUID
	GitHubRepoID int64
	Owner        string
	Name         string
	URL          string
	Description  string
}

const repoColumns = `
	id, user_id, github_repo_id, owner, name, url, description,
	local_path, is_cloned, cloned_at, current_branch, last_accessed_at,
	created_at, updated_at, deleted_at
`

// UpsertRepository records a remote repository for a user, unique on
// (user, external repo id).
func (s *Store) UpsertRepository(ctx context.Context, input UpsertRepositoryInput) (Repository, error) {
	if input.UserID == uuid.Nil {
		return Repository{}, errors.New("user id required")
	}
	if input.GitHubRepoID == 0 {
		return Repository{}, errors.New("github repo id required")
	}

	const query = `
		INSERT INTO repositories (id, user_id, github_repo_id, owner, name, url, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (user_id, github_repo_id) WHERE deleted_at IS NULL
		DO UPDATE SET
			owner = EXCLUDED.owner,
			name = EXCLUDED.name,
			url = EXCLUDED.url,
			description = EXCLUDED.description,
			updated_at = NOW()
		RETURNING ` + repoColumns + `
	`

	var repo Repository
	if err := s.db.QueryOne(ctx, &repo, query, uuid.New(), input.UserID, input.GitHubRepoID, input.Owner, input.Name, input.URL, nullString(input.Description)); err != nil {
		return Repository{}, fmt.Errorf("failed to upsert repository: %w", err)
	}
	return repo, nil
}

func (s *Store) GetRepository(ctx context.Context, id uuid.UUID) (Repository, error) {
	const query = `SELECT ` + repoColumns + ` FROM repositories WHERE id = $1 AND deleted_at IS NULL`

	var repo Repository
	if err := s.db.QueryOne(ctx, &repo, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Repository{}, ErrNotFound
		}
		return Repository{}, fmt.Errorf("failed to load repository: %w", err)
	}
	return repo, nil
}

// GetRepositoryByLocalPath looks up a user's repository row by its clone
// location.
func (s *Store) GetRepositoryByLocalPath(ctx context.Context, userID uuid.UUID, localPath string) (Repository, error) {
	const query = `
		SELECT ` + repoColumns + ` FROM repositories
		WHERE user_id = $1 AND local_path = $2 AND deleted_at IS NULL
	`

	var repo Repository
	if err := s.db.QueryOne(ctx, &repo, query, userID, localPath); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Repository{}, ErrNotFound
		}
		return Repository{}, fmt.Errorf("failed to load repository by path: %w", err)
	}
	return repo, nil
}

func (s *Store) ListRepositories(ctx context.Context, userID uuid.UUID) ([]Repository, error) {
	const query = `
		SELECT ` + repoColumns + ` FROM repositories
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY last_accessed_at DESC NULLS LAST, name
	`

	var repos []Repository
	if err := s.db.QueryMany(ctx, &repos, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	return repos, nil
}

// MarkCloned records a completed clone.
func (s *Store) MarkCloned(ctx context.Context, id uuid.UUID, localPath, branch string) error {
	const query = `
		UPDATE repositories
		SET local_path = $2, is_cloned = TRUE, cloned_at = NOW(),
		    current_branch = $3, last_accessed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	res, err := s.db.Query(ctx, query, id, localPath, branch)
	if err != nil {
		return fmt.Errorf("failed to mark repository cloned: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRepositoryBranch updates the last branch observed on the clone.
func (s *Store) SetRepositoryBranch(ctx context.Context, id uuid.UUID, branch string) error {
	const query = `
		UPDATE repositories SET current_branch = $2, last_accessed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	res, err := s.db.Query(ctx, query, id, branch)
	if err != nil {
		return fmt.Errorf("failed to set repository branch: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchRepository refreshes last_accessed_at.
func (s *Store) TouchRepository(ctx context.Context, id uuid.UUID) error {
	const query = `
		UPDATE repositories SET last_accessed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	if _, err := s.db.Query(ctx, query, id); err != nil {
		return fmt.Errorf("failed to touch repository: %w", err)
	}
	return nil
}

// CountClonedRepositories counts the user's live clones, consumed by the
// tier gate.
func (s *Store) CountClonedRepositories(ctx context.Context, userID uuid.UUID) (int, error) {
	const query = `
		SELECT COUNT(*) FROM repositories
		WHERE user_id = $1 AND is_cloned = TRUE AND deleted_at IS NULL
	`
	var count int
	if err := s.db.QueryOne(ctx, &count, query, userID); err != nil {
		return 0, fmt.Errorf("failed to count cloned repositories: %w", err)
	}
	return count, nil
}
