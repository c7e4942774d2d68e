// Package session implements the working-session state machine. At most
// one session per user is active; starting or resuming abandons whatever
// was active before.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gitflow-ai/gitflow-mcp/internal/gitcli"
	"github.com/gitflow-ai/gitflow-mcp/internal/logging"
	"github.com/gitflow-ai/gitflow-mcp/internal/store"
)

// ErrNotCloned is returned when a session points at a repository with no
// local clone to act on.
var ErrNotCloned = errors.New("repository is not cloned locally")

// DriverFactory builds a git driver for one user's clone. The dispatcher
// supplies it so the driver carries that user's token source.
type DriverFactory func(user store.User, localPath string) *gitcli.Driver

// Service wraps the session store with the workflow rules.
type Service struct {
	store     *store.Store
	newDriver DriverFactory
	locks     *gitcli.PathLocks
}

func NewService(st *store.Store, drivers DriverFactory, locks *gitcli.PathLocks) *Service {
	return &Service{store: st, newDriver: drivers, locks: locks}
}

// StartResult reports the new session and anything it displaced.
type StartResult struct {
	Session    store.Session
	Previous   *store.Session
	AutoClosed bool
}

// Start opens a fresh active session on repo, abandoning the user's
// current active session if one exists.
func (s *Service) Start(ctx context.Context, user store.User, repo store.Repository, task string) (StartResult, error) {
	created, previous, err := s.store.CreateSessionSuperseding(ctx, store.CreateSessionInput{
		UserID:          user.ID,
		RepositoryID:    repo.ID,
		TaskDescription: task,
		CurrentBranch:   repo.CurrentBranch.String,
	})
	if err != nil {
		return StartResult{}, err
	}
	if previous != nil {
		logging.Logger.Info("superseded active session",
			"user_id", user.ID, "old_session", previous.ID, "new_session", created.ID)
	}
	return StartResult{Session: created, Previous: previous, AutoClosed: previous != nil}, nil
}

// StopResult reports the ended session and how long it ran.
type StopResult struct {
	Session         store.Session
	DurationMinutes int
	DurationText    string
}

// Stop ends the user's active session as completed, or abandoned when
// the caller says the work is being dropped.
func (s *Service) Stop(ctx context.Context, userID uuid.UUID, abandoned bool) (StopResult, error) {
	active, err := s.store.GetActiveSession(ctx, userID)
	if err != nil {
		return StopResult{}, err
	}

	status, action := store.SessionCompleted, "session_completed"
	if abandoned {
		status, action = store.SessionAbandoned, "session_abandoned"
	}
	ended, err := s.store.EndSession(ctx, active.ID, status, action)
	if err != nil {
		return StopResult{}, err
	}

	duration := ended.EndedAt.Time.Sub(ended.StartedAt)
	return StopResult{
		Session:         ended,
		DurationMinutes: int(duration.Minutes()),
		DurationText:    FormatDuration(duration),
	}, nil
}

// ResumeResult reports the session now active and whether the clone was
// switched back to its branch.
type ResumeResult struct {
	Session          store.Session
	Repository       store.Repository
	BranchCheckedOut bool
	Refreshed        bool
}

// Resume reactivates work recorded in a past session. A terminal target
// is not reopened; a fresh session inherits its repo, branch and task so
// new work is recorded separately.
func (s *Service) Resume(ctx context.Context, sessionID uuid.UUID, user store.User) (ResumeResult, error) {
	target, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return ResumeResult{}, err
	}
	if target.UserID != user.ID {
		// Do not reveal other users' session ids.
		return ResumeResult{}, store.ErrNotFound
	}

	repo, err := s.store.GetRepository(ctx, target.RepositoryID)
	if err != nil {
		return ResumeResult{}, fmt.Errorf("failed to load session repository: %w", err)
	}
	if !repo.IsCloned || repo.LocalPath.String == "" {
		return ResumeResult{}, fmt.Errorf("%w: %s", ErrNotCloned, repo.FullName())
	}

	result := ResumeResult{Repository: repo}
	if target.Status == store.SessionActive {
		refreshed, err := s.store.TouchSession(ctx, target.ID, "session_resumed")
		if err != nil {
			return ResumeResult{}, err
		}
		result.Session = refreshed
		result.Refreshed = true
	} else {
		created, _, err := s.store.CreateSessionSuperseding(ctx, store.CreateSessionInput{
			UserID:          user.ID,
			RepositoryID:    repo.ID,
			TaskDescription: target.TaskDescription.String,
			CurrentBranch:   target.CurrentBranch.String,
		})
		if err != nil {
			return ResumeResult{}, err
		}
		result.Session = created
	}

	if branch := target.CurrentBranch.String; branch != "" {
		if err := s.checkoutBranch(ctx, user, repo, branch); err != nil {
			// The resume stands; the user just isn't on the branch yet.
			logging.Logger.Warn("could not check out session branch",
				"session_id", result.Session.ID, "branch", branch, "error", gitcli.Scrub(err.Error()))
		} else {
			result.BranchCheckedOut = true
		}
	}
	return result, nil
}

func (s *Service) checkoutBranch(ctx context.Context, user store.User, repo store.Repository, branch string) error {
	// The checkout mutates the working tree, so it holds the same
	// per-path lock the tool handlers do.
	unlock := s.locks.Lock(repo.LocalPath.String)
	defer unlock()

	driver := s.newDriver(user, repo.LocalPath.String)
	if err := driver.Open(ctx); err != nil {
		return err
	}
	if err := driver.Checkout(ctx, branch); err != nil {
		return err
	}
	return s.store.SetRepositoryBranch(ctx, repo.ID, branch)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (store.Session, error) {
	return s.store.GetSession(ctx, id)
}

func (s *Service) GetActive(ctx context.Context, userID uuid.UUID) (store.Session, error) {
	return s.store.GetActiveSession(ctx, userID)
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, limit int) ([]store.Session, error) {
	return s.store.ListSessions(ctx, userID, limit)
}

func (s *Service) UpdateBranch(ctx context.Context, id uuid.UUID, branch string) (store.Session, error) {
	return s.store.SetSessionBranch(ctx, id, branch)
}

func (s *Service) IncrementCommits(ctx context.Context, id uuid.UUID, branch string) (store.Session, error) {
	return s.store.IncrementSessionCommits(ctx, id, branch)
}

func (s *Service) SetPR(ctx context.Context, id uuid.UUID, prID int64, prNumber int, prURL string) (store.Session, error) {
	return s.store.SetSessionPR(ctx, id, prID, prNumber, prURL)
}

func (s *Service) MarkCompleted(ctx context.Context, id uuid.UUID) (store.Session, error) {
	return s.store.EndSession(ctx, id, store.SessionCompleted, "session_completed")
}

func (s *Service) MarkAbandoned(ctx context.Context, id uuid.UUID) (store.Session, error) {
	return s.store.EndSession(ctx, id, store.SessionAbandoned, "session_abandoned")
}

// CleanupStale abandons active sessions idle for more than days days.
func (s *Service) CleanupStale(ctx context.Context, days int) (int, error) {
	n, err := s.store.AbandonStaleSessions(ctx, days)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Logger.Info("abandoned stale sessions", "count", n, "idle_days", days)
	}
	return n, nil
}

// FormatDuration renders an elapsed session length for humans.
func FormatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	switch {
	case minutes < 1:
		return "less than a minute"
	case minutes < 60:
		return fmt.Sprintf("%d minute(s)", minutes)
	case minutes%60 == 0:
		return fmt.Sprintf("%d hour(s)", minutes/60)
	default:
		return fmt.Sprintf("%d hour(s) %d minute(s)", minutes/60, minutes%60)
	}
}
