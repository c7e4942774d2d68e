package tools

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/gitflow-ai/gitflow-mcp/internal/gitcli"
	"github.com/gitflow-ai/gitflow-mcp/internal/github"
	"github.com/gitflow-ai/gitflow-mcp/internal/policy"
	"github.com/gitflow-ai/gitflow-mcp/internal/store"
)

func (d *Dispatcher) registerGitTools(srv *mcpserver.MCPServer) {
	repoArgs := []mcp.ToolOption{
		mcp.WithString("userId", mcp.Required(), mcp.Description("Internal user id (UUID)")),
		mcp.WithString("repoId", mcp.Description("Managed repository id (UUID)")),
		mcp.WithString("localPath", mcp.Description("Path to a local clone")),
	}

	srv.AddTool(mcp.NewTool("git_status",
		append([]mcp.ToolOption{mcp.WithDescription("Show the working-tree state of a repository.")}, repoArgs...)...,
	), d.handleGitStatus)

	srv.AddTool(mcp.NewTool("git_commit",
		append([]mcp.ToolOption{
			mcp.WithDescription("Stage all changes and commit them with a message."),
			mcp.WithString("message", mcp.Required(), mcp.Description("Commit message")),
		}, repoArgs...)...,
	), d.handleGitCommit)

	srv.AddTool(mcp.NewTool("git_push",
		append([]mcp.ToolOption{
			mcp.WithDescription("Push the current branch to GitHub."),
			mcp.WithString("branch", mcp.Description("Branch to push; defaults to the checked-out branch")),
		}, repoArgs...)...,
	), d.handleGitPush)

	srv.AddTool(mcp.NewTool("git_pull",
		append([]mcp.ToolOption{mcp.WithDescription("Pull the latest changes from GitHub.")}, repoArgs...)...,
	), d.handleGitPull)

	srv.AddTool(mcp.NewTool("git_clone",
		mcp.WithDescription("Clone a GitHub repository to the local machine."),
		mcp.WithString("userId", mcp.Required(), mcp.Description("Internal user id (UUID)")),
		mcp.WithString("url", mcp.Required(), mcp.Description("Repository URL or owner/repo")),
		mcp.WithString("localPath", mcp.Description("Where to clone; defaults under the managed repos directory")),
	), d.handleGitClone)

	srv.AddTool(mcp.NewTool("git_checkout",
		append([]mcp.ToolOption{
			mcp.WithDescription("Switch to a branch, creating it first if asked."),
			mcp.WithString("branch", mcp.Required(), mcp.Description("Branch name")),
			mcp.WithBoolean("create", mcp.Description("Create the branch before switching")),
		}, repoArgs...)...,
	), d.handleGitCheckout)
}

// openDriver resolves the repo context and opens a locked driver on it.
// The returned unlock must be deferred by the caller.
func (d *Dispatcher) openDriver(ctx context.Context, user store.User, request mcp.CallToolRequest) (repoContext, *gitcli.Driver, func(), error) {
	rc, err := d.resolveRepoContext(ctx, user, request)
	if err != nil {
		return repoContext{}, nil, nil, err
	}
	unlock := d.lockPath(rc.LocalPath)
	driver := d.DriverFor(user, rc.LocalPath)
	if err := driver.Open(ctx); err != nil {
		unlock()
		return repoContext{}, nil, nil, err
	}
	return rc, driver, unlock, nil
}

func (d *Dispatcher) handleGitStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := d.requireUser(ctx, request)
	if err != nil {
		return errorResult("git_status", err), nil
	}
	rc, driver, unlock, err := d.openDriver(ctx, user, request)
	if err != nil {
		return errorResult("git_status", err), nil
	}
	defer unlock()

	status, err := driver.Status(ctx)
	if err != nil {
		return errorResult("git_status", err), nil
	}
	return textResult(formatStatus(rc, status)), nil
}

func formatStatus(rc repoContext, status gitcli.StatusResult) string {
	var b strings.Builder
	title := rc.LocalPath
	if rc.Repo != nil {
		title = rc.Repo.FullName()
	}
	fmt.Fprintf(&b, "## 📋 Status of %s\n\n", title)
	fmt.Fprintf(&b, "On branch **%s**", status.CurrentBranch)
	if status.Ahead > 0 || status.Behind > 0 {
		fmt.Fprintf(&b, " (%d ahead, %d behind)", status.Ahead, status.Behind)
	}
	b.WriteString("\n\n")

	if status.IsClean {
		b.WriteString("Working tree is clean. Nothing to save.\n")
		return b.String()
	}
	writeFileList(&b, "Staged", status.Staged)
	writeFileList(&b, "Modified", status.Modified)
	writeFileList(&b, "Untracked", status.Untracked)
	return b.String()
}

func writeFileList(b *strings.Builder, label string, files []string) {
	if len(files) == 0 {
		return
	}
	fmt.Fprintf(b, "**%s (%d):**\n", label, len(files))
	shown := files
	if len(shown) > 5 {
		shown = shown[:5]
	}
	for _, f := range shown {
		fmt.Fprintf(b, "- `%s`\n", f)
	}
	if extra := len(files) - 5; extra > 0 {
		fmt.Fprintf(b, "- ... and %d more\n", extra)
	}
	b.WriteString("\n")
}

func (d *Dispatcher) handleGitCommit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := d.requireUser(ctx, request)
	if err != nil {
		return errorResult("git_commit", err), nil
	}
	message, err := request.RequireString("message")
	if err != nil || strings.TrimSpace(message) == "" {
		return errorResult("git_commit", fmt.Errorf("message is required")), nil
	}

	rc, driver, unlock, err := d.openDriver(ctx, user, request)
	if err != nil {
		return errorResult("git_commit", err), nil
	}
	defer unlock()

	if err := driver.Add(ctx, nil); err != nil {
		return errorResult("git_commit", err), nil
	}
	commit, err := driver.Commit(ctx, gitcli.CommitOptions{Message: message})
	if err != nil {
		return errorResult("git_commit", err), nil
	}

	if rc.Repo != nil {
		if branch, berr := driver.CurrentBranch(ctx); berr == nil {
			_ = d.store.SetRepositoryBranch(ctx, rc.Repo.ID, branch)
		}
	}

	return textResult(fmt.Sprintf(
		"## ✅ Committed\n\nCommit `%s`: %d file(s) changed, +%d/-%d.\n",
		commit.ShortHash(), commit.FilesChanged, commit.Insertions, commit.Deletions)), nil
}

func (d *Dispatcher) handleGitPush(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := d.requireUser(ctx, request)
	if err != nil {
		return errorResult("git_push", err), nil
	}
	_, driver, unlock, err := d.openDriver(ctx, user, request)
	if err != nil {
		return errorResult("git_push", err), nil
	}
	defer unlock()

	branch := request.GetString("branch", "")
	if branch == "" {
		branch, err = driver.CurrentBranch(ctx)
		if err != nil {
			return errorResult("git_push", err), nil
		}
	}

	result, err := driver.Push(ctx, branch, gitcli.PushOptions{SetUpstream: true})
	if err != nil {
		return errorResult("git_push", err), nil
	}
	if result.PolicyRejected {
		return textResult(d.renderPolicyRejection(ctx, driver, result.RemoteMessage, "git_push")), nil
	}
	return textResult(fmt.Sprintf("## ✅ Pushed\n\nBranch **%s** is up to date on GitHub.\n", branch)), nil
}

// renderPolicyRejection runs the recovery flow and renders its plan.
func (d *Dispatcher) renderPolicyRejection(ctx context.Context, driver *gitcli.Driver, remoteMessage, retryTool string) string {
	plan := policy.HandlePushRejection(ctx, driver, remoteMessage)

	var b strings.Builder
	b.WriteString("## 🚨 Critical Error\n\n")
	b.WriteString(plan.Parsed.Message)
	b.WriteString("\n")
	if plan.Sanitize.Success {
		b.WriteString("\nI've undone the flagged commit; your changes are back in the working tree, ready to edit.\n")
	}
	if len(plan.Parsed.Violations) > 0 {
		b.WriteString("\n**Flagged:**\n")
		for _, v := range plan.Parsed.Violations {
			if v.Line > 0 {
				fmt.Fprintf(&b, "- `%s` line %d (%s)\n", v.File, v.Line, v.SecretType)
			} else {
				fmt.Fprintf(&b, "- `%s` (%s)\n", v.File, v.SecretType)
			}
		}
	}
	b.WriteString("\n**What you can do:**\n")
	for _, step := range plan.Steps {
		fmt.Fprintf(&b, "- %s\n", step)
	}
	fmt.Fprintf(&b, "- Try `%s` again once the secret is gone\n", retryTool)
	return b.String()
}

func (d *Dispatcher) handleGitPull(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := d.requireUser(ctx, request)
	if err != nil {
		return errorResult("git_pull", err), nil
	}
	_, driver, unlock, err := d.openDriver(ctx, user, request)
	if err != nil {
		return errorResult("git_pull", err), nil
	}
	defer unlock()

	result, err := driver.Pull(ctx, gitcli.PullOptions{})
	if err != nil {
		return errorResult("git_pull", err), nil
	}
	if result.HasConflicts {
		var b strings.Builder
		b.WriteString("## ⚠️ Merge conflicts\n\nThe pull brought changes that conflict with yours.\n\n**Conflicted files:**\n")
		for _, f := range result.ConflictFiles {
			fmt.Fprintf(&b, "- `%s`\n", f)
		}
		b.WriteString("\n**What you can do:**\n- Open each file and resolve the conflict markers\n- Then ask me to commit the resolution\n")
		return textResult(b.String()), nil
	}
	if result.NewCommits == 0 {
		return textResult("## ℹ️ Note\n\nYou already have the latest changes.\n"), nil
	}
	return textResult(fmt.Sprintf("## ✅ Pulled\n\nDownloaded %d new commit(s).\n", result.NewCommits)), nil
}

func (d *Dispatcher) handleGitClone(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := d.requireUser(ctx, request)
	if err != nil {
		return errorResult("git_clone", err), nil
	}
	rawURL, err := request.RequireString("url")
	if err != nil {
		return errorResult("git_clone", fmt.Errorf("url is required")), nil
	}

	repo, localPath, err := d.cloneRepository(ctx, user, rawURL, request.GetString("localPath", ""))
	if err != nil {
		return errorResult("git_clone", err), nil
	}
	return textResult(fmt.Sprintf("## ✅ Cloned\n\n**%s** is now at `%s`.\n", repo.FullName(), localPath)), nil
}

// cloneRepository fetches remote metadata, records the repository row,
// clones it and marks the row cloned. Shared with clone_and_setup_repo.
func (d *Dispatcher) cloneRepository(ctx context.Context, user store.User, rawURL, localPath string) (store.Repository, string, error) {
	owner, name, err := github.ParseRepositoryURL(rawURL)
	if err != nil {
		return store.Repository{}, "", err
	}

	token, ok := d.auth.GetAccessTokenByGitHubID(ctx, user.GitHubID)
	if !ok {
		return store.Repository{}, "", gitcli.ErrNotAuthenticated
	}
	remote, err := github.NewClient(ctx, token).GetRepository(ctx, owner, name)
	if err != nil {
		return store.Repository{}, "", err
	}

	repo, err := d.store.UpsertRepository(ctx, store.UpsertRepositoryInput{
		UserID:       user.ID,
		GitHubRepoID: remote.GetID(),
		Owner:        owner,
		Name:         name,
		URL:          remote.GetCloneURL(),
		Description:  remote.GetDescription(),
	})
	if err != nil {
		return store.Repository{}, "", err
	}

	if localPath == "" {
		localPath = filepath.Join(d.cfg.ReposDir, owner, name)
	}

	unlock := d.lockPath(localPath)
	defer unlock()

	driver := d.DriverFor(user, localPath)
	if _, err := driver.Clone(ctx, remote.GetCloneURL(), gitcli.CloneOptions{}); err != nil {
		return store.Repository{}, "", err
	}
	branch, err := driver.CurrentBranch(ctx)
	if err != nil {
		branch = remote.GetDefaultBranch()
	}
	if err := d.store.MarkCloned(ctx, repo.ID, localPath, branch); err != nil {
		return store.Repository{}, "", err
	}
	repo.LocalPath = sql.NullString{String: localPath, Valid: true}
	repo.IsCloned = true
	repo.CurrentBranch = sql.NullString{String: branch, Valid: true}
	return repo, localPath, nil
}

func (d *Dispatcher) handleGitCheckout(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := d.requireUser(ctx, request)
	if err != nil {
		return errorResult("git_checkout", err), nil
	}
	branch, err := request.RequireString("branch")
	if err != nil || strings.TrimSpace(branch) == "" {
		return errorResult("git_checkout", fmt.Errorf("branch is required")), nil
	}

	rc, driver, unlock, err := d.openDriver(ctx, user, request)
	if err != nil {
		return errorResult("git_checkout", err), nil
	}
	defer unlock()

	if request.GetBool("create", false) {
		err = driver.CreateBranch(ctx, branch, "", true)
	} else {
		err = driver.Checkout(ctx, branch)
	}
	if err != nil {
		return errorResult("git_checkout", err), nil
	}

	if rc.Repo != nil {
		_ = d.store.SetRepositoryBranch(ctx, rc.Repo.ID, branch)
	}
	if rc.Session != nil {
		_, _ = d.sessions.UpdateBranch(ctx, rc.Session.ID, branch)
	}
	return textResult(fmt.Sprintf("## ✅ Switched branches\n\nNow on **%s**.\n", branch)), nil
}
