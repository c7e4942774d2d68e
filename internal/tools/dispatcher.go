// Package tools binds the MCP tool surface to the underlying services.
// Handlers validate arguments, resolve the acting user and repository,
// and render every outcome as a markdown response. This is the only
// layer that invokes the error translator.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/gitflow-ai/gitflow-mcp/internal/auth"
	"github.com/gitflow-ai/gitflow-mcp/internal/config"
	"github.com/gitflow-ai/gitflow-mcp/internal/gitcli"
	"github.com/gitflow-ai/gitflow-mcp/internal/logging"
	"github.com/gitflow-ai/gitflow-mcp/internal/session"
	"github.com/gitflow-ai/gitflow-mcp/internal/store"
	"github.com/gitflow-ai/gitflow-mcp/internal/translate"
)

// Dispatcher owns the tool registrations and the per-clone locks.
type Dispatcher struct {
	cfg      *config.Config
	store    *store.Store
	auth     *auth.Service
	sessions *session.Service

	// Shared with every other component that runs git; one operation
	// at a time per local path.
	locks *gitcli.PathLocks
}

func NewDispatcher(cfg *config.Config, st *store.Store, authSvc *auth.Service, sessions *session.Service, locks *gitcli.PathLocks) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		store:    st,
		auth:     authSvc,
		sessions: sessions,
		locks:    locks,
	}
}

// Register adds every tool to the MCP server.
func (d *Dispatcher) Register(srv *mcpserver.MCPServer) {
	d.registerAuthTools(srv)
	d.registerGitTools(srv)
	d.registerRepoTools(srv)
	d.registerSmartTools(srv)
	d.registerSessionTools(srv)
}

// lockPath serializes git operations on one working tree. Returns the
// unlock func.
func (d *Dispatcher) lockPath(path string) func() {
	return d.locks.Lock(path)
}

// userTokens adapts the auth service to the git driver's token source.
type userTokens struct {
	auth     *auth.Service
	githubID int64
}

func (t userTokens) AccessToken(ctx context.Context) (string, bool) {
	return t.auth.GetAccessTokenByGitHubID(ctx, t.githubID)
}

// DriverFor builds a git driver bound to the user's token.
func (d *Dispatcher) DriverFor(user store.User, localPath string) *gitcli.Driver {
	return gitcli.New(localPath, userTokens{auth: d.auth, githubID: user.GitHubID})
}

// requireUser resolves the userId argument to a live user row.
func (d *Dispatcher) requireUser(ctx context.Context, request mcp.CallToolRequest) (store.User, error) {
	raw, err := request.RequireString("userId")
	if err != nil {
		return store.User{}, fmt.Errorf("userId is required")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return store.User{}, fmt.Errorf("userId must be a UUID")
	}
	user, err := d.store.GetUser(ctx, userID)
	if err != nil {
		return store.User{}, fmt.Errorf("unknown user: %w", err)
	}
	return user, nil
}

// repoContext is the resolved target of a repository-scoped tool. Repo
// is nil for unmanaged paths the user pointed at explicitly.
type repoContext struct {
	LocalPath string
	Repo      *store.Repository
	Session   *store.Session
}

// resolveRepoContext prefers an explicit localPath, then repoId, then
// the user's active session.
func (d *Dispatcher) resolveRepoContext(ctx context.Context, user store.User, request mcp.CallToolRequest) (repoContext, error) {
	if localPath := request.GetString("localPath", ""); localPath != "" {
		repo, err := d.store.GetRepositoryByLocalPath(ctx, user.ID, localPath)
		if err == nil {
			return repoContext{LocalPath: localPath, Repo: &repo}, nil
		}
		// Unmanaged repo: the path stands on its own.
		return repoContext{LocalPath: localPath}, nil
	}

	if rawID := request.GetString("repoId", ""); rawID != "" {
		repoID, err := uuid.Parse(rawID)
		if err != nil {
			return repoContext{}, fmt.Errorf("repoId must be a UUID")
		}
		repo, err := d.store.GetRepository(ctx, repoID)
		if err != nil || repo.UserID != user.ID {
			return repoContext{}, fmt.Errorf("no repository found")
		}
		if !repo.IsCloned || repo.LocalPath.String == "" {
			return repoContext{}, fmt.Errorf("repository %s is not cloned locally", repo.FullName())
		}
		return repoContext{LocalPath: repo.LocalPath.String, Repo: &repo}, nil
	}

	active, err := d.sessions.GetActive(ctx, user.ID)
	if err != nil {
		return repoContext{}, fmt.Errorf("no repository found")
	}
	repo, err := d.store.GetRepository(ctx, active.RepositoryID)
	if err != nil || !repo.IsCloned || repo.LocalPath.String == "" {
		return repoContext{}, fmt.Errorf("no repository found")
	}
	return repoContext{LocalPath: repo.LocalPath.String, Repo: &repo, Session: &active}, nil
}

// textResult wraps markdown in the MCP response envelope.
func textResult(markdown string) *mcp.CallToolResult {
	return mcp.NewToolResultText(markdown)
}

// errorResult translates a failure and renders it. The technical detail
// is logged, never shown.
func errorResult(tool string, err error) *mcp.CallToolResult {
	translated := translate.Translate(err)
	logging.Logger.Warn("tool failed",
		"tool", tool,
		"category", translated.Category,
		"error", gitcli.Scrub(translated.TechnicalDetails))
	return textResult(translated.Markdown())
}

// withJSON appends the fenced machine-readable view used by the
// high-level tools.
func withJSON(markdown string, v any) string {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return markdown
	}
	return markdown + "\n```json\n" + string(encoded) + "\n```\n"
}
