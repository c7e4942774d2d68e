package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/gitflow-ai/gitflow-mcp/internal/gitcli"
	"github.com/gitflow-ai/gitflow-mcp/internal/github"
)

// freeTierListCap is how many repositories a free user sees in one page.
const freeTierListCap = 5

func (d *Dispatcher) registerRepoTools(srv *mcpserver.MCPServer) {
	srv.AddTool(mcp.NewTool("list_repositories",
		mcp.WithDescription("List the GitHub repositories the user can access."),
		mcp.WithString("userId", mcp.Required(), mcp.Description("Internal user id (UUID)")),
		mcp.WithNumber("page", mcp.Description("Page number, starting at 1")),
		mcp.WithNumber("perPage", mcp.Description("Results per page (1-100)")),
		mcp.WithString("sort", mcp.Description("Sort order: created, updated, pushed or full_name")),
		mcp.WithString("org", mcp.Description("Restrict to one organization")),
	), d.handleListRepositories)

	srv.AddTool(mcp.NewTool("clone_and_setup_repo",
		mcp.WithDescription("Clone a repository locally and start a working session on it."),
		mcp.WithString("userId", mcp.Required(), mcp.Description("Internal user id (UUID)")),
		mcp.WithString("url", mcp.Required(), mcp.Description("Repository URL or owner/repo")),
		mcp.WithString("localPath", mcp.Description("Where to clone; defaults under the managed repos directory")),
		mcp.WithString("task", mcp.Description("What the user plans to work on")),
	), d.handleCloneAndSetup)
}

var validSorts = map[string]bool{"created": true, "updated": true, "pushed": true, "full_name": true}

func (d *Dispatcher) handleListRepositories(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := d.requireUser(ctx, request)
	if err != nil {
		return errorResult("list_repositories", err), nil
	}

	sort := request.GetString("sort", "")
	if sort != "" && !validSorts[sort] {
		return errorResult("list_repositories", fmt.Errorf("sort must be one of created, updated, pushed, full_name")), nil
	}
	perPage := request.GetInt("perPage", 30)
	if perPage < 1 || perPage > 100 {
		return errorResult("list_repositories", fmt.Errorf("perPage must be between 1 and 100")), nil
	}

	token, ok := d.auth.GetAccessTokenByGitHubID(ctx, user.GitHubID)
	if !ok {
		return errorResult("list_repositories", gitcli.ErrNotAuthenticated), nil
	}

	repos, err := github.NewClient(ctx, token).ListRepositories(ctx, github.ListOptions{
		Page:    request.GetInt("page", 1),
		PerPage: perPage,
		Sort:    sort,
		Org:     request.GetString("org", ""),
	})
	if err != nil {
		return errorResult("list_repositories", err), nil
	}

	limits := LimitsFor(user.Tier)
	truncated := 0
	if limits.MaxRepos >= 0 && len(repos) > limits.MaxRepos {
		truncated = len(repos) - freeTierListCap
		repos = repos[:freeTierListCap]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## 📚 Your repositories (%d shown)\n\n", len(repos))
	for _, r := range repos {
		fmt.Fprintf(&b, "- **%s**", r.GetFullName())
		if desc := r.GetDescription(); desc != "" {
			fmt.Fprintf(&b, " - %s", desc)
		}
		if r.GetPrivate() {
			b.WriteString(" (private)")
		}
		b.WriteString("\n")
	}
	if truncated > 0 {
		fmt.Fprintf(&b, "\n%d more hidden on the %s tier. Upgrade to see and clone more repositories.\n", truncated, user.Tier)
	}
	b.WriteString("\nUse `clone_and_setup_repo` with one of these to start working.\n")
	return textResult(b.String()), nil
}

func (d *Dispatcher) handleCloneAndSetup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := d.requireUser(ctx, request)
	if err != nil {
		return errorResult("clone_and_setup_repo", err), nil
	}
	rawURL, err := request.RequireString("url")
	if err != nil {
		return errorResult("clone_and_setup_repo", fmt.Errorf("url is required")), nil
	}

	limits := LimitsFor(user.Tier)
	count, err := d.store.CountClonedRepositories(ctx, user.ID)
	if err != nil {
		return errorResult("clone_and_setup_repo", err), nil
	}
	if !limits.AllowsRepos(count) {
		var b strings.Builder
		b.WriteString("## ⚠️ Repository limit reached\n\n")
		fmt.Fprintf(&b, "The %s tier allows %d cloned repositories and you already have %d.\n\n", user.Tier, limits.MaxRepos, count)
		b.WriteString("**What you can do:**\n- Remove a repository you no longer work on\n- Upgrade your plan for more\n")
		return textResult(b.String()), nil
	}

	repo, localPath, err := d.cloneRepository(ctx, user, rawURL, request.GetString("localPath", ""))
	if err != nil {
		return errorResult("clone_and_setup_repo", err), nil
	}
	if err := d.store.IncrementReposAccessed(ctx, user.ID); err != nil {
		return errorResult("clone_and_setup_repo", err), nil
	}

	started, err := d.sessions.Start(ctx, user, repo, request.GetString("task", ""))
	if err != nil {
		return errorResult("clone_and_setup_repo", err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## 🚀 Ready to work on %s\n\n", repo.FullName())
	fmt.Fprintf(&b, "Cloned to `%s` on branch **%s**, and started a working session.\n", localPath, repo.CurrentBranch.String)
	if started.AutoClosed {
		b.WriteString("\nYour previous session was closed automatically.\n")
	}
	b.WriteString("\nMake your changes, then use `save_changes` to commit them.\n")
	return textResult(b.String()), nil
}
