package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/gitflow-ai/gitflow-mcp/internal/gitcli"
	"github.com/gitflow-ai/gitflow-mcp/internal/github"
	"github.com/gitflow-ai/gitflow-mcp/internal/store"
)

const (
	maxMessageLen     = 500
	maxTitleLen       = 256
	maxDescriptionLen = 65536

	prFooter = "\n\n---\nOpened by GitFlow for PMs"
)

func (d *Dispatcher) registerSmartTools(srv *mcpserver.MCPServer) {
	repoArgs := []mcp.ToolOption{
		mcp.WithString("userId", mcp.Required(), mcp.Description("Internal user id (UUID)")),
		mcp.WithString("repoId", mcp.Description("Managed repository id (UUID)")),
		mcp.WithString("localPath", mcp.Description("Path to a local clone")),
	}

	srv.AddTool(mcp.NewTool("get_repo_status",
		append([]mcp.ToolOption{mcp.WithDescription("Summarize the repository: branch, pending changes and recent commits.")}, repoArgs...)...,
	), d.handleGetRepoStatus)

	srv.AddTool(mcp.NewTool("save_changes",
		append([]mcp.ToolOption{
			mcp.WithDescription("Save all current changes as a commit. Never commits directly to a protected branch; a feature branch is created from the message instead."),
			mcp.WithString("message", mcp.Required(), mcp.Description("What changed, in plain words (1-500 chars)")),
		}, repoArgs...)...,
	), d.handleSaveChanges)

	srv.AddTool(mcp.NewTool("push_for_review",
		mcp.WithDescription("Push the current branch and open a pull request for review."),
		mcp.WithString("userId", mcp.Required(), mcp.Description("Internal user id (UUID)")),
		mcp.WithString("title", mcp.Description("Pull request title (max 256 chars)")),
		mcp.WithString("description", mcp.Description("Pull request description")),
		mcp.WithBoolean("isDraft", mcp.Description("Open as a draft pull request")),
	), d.handlePushForReview)
}

func (d *Dispatcher) handleGetRepoStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := d.requireUser(ctx, request)
	if err != nil {
		return errorResult("get_repo_status", err), nil
	}
	rc, driver, unlock, err := d.openDriver(ctx, user, request)
	if err != nil {
		return errorResult("get_repo_status", err), nil
	}
	defer unlock()

	status, err := driver.Status(ctx)
	if err != nil {
		return errorResult("get_repo_status", err), nil
	}
	commits, _ := driver.Log(ctx, 5)

	md := formatStatus(rc, status)
	if len(commits) > 0 {
		var b strings.Builder
		b.WriteString(md)
		b.WriteString("**Recent commits:**\n")
		for _, c := range commits {
			hash := c.Hash
			if len(hash) > 7 {
				hash = hash[:7]
			}
			fmt.Fprintf(&b, "- `%s` %s\n", hash, c.Subject)
		}
		md = b.String()
	}

	view := map[string]any{
		"local_path":     rc.LocalPath,
		"branch":         status.CurrentBranch,
		"is_clean":       status.IsClean,
		"ahead":          status.Ahead,
		"behind":         status.Behind,
		"staged_count":   len(status.Staged),
		"modified_count": len(status.Modified),
		"untracked":      len(status.Untracked),
	}
	if rc.Repo != nil {
		view["repo_id"] = rc.Repo.ID.String()
		view["repo"] = rc.Repo.FullName()
	}
	if rc.Session != nil {
		view["session_id"] = rc.Session.ID.String()
	}
	return textResult(withJSON(md, view)), nil
}

func (d *Dispatcher) handleSaveChanges(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := d.requireUser(ctx, request)
	if err != nil {
		return errorResult("save_changes", err), nil
	}
	message, err := request.RequireString("message")
	if err != nil || strings.TrimSpace(message) == "" {
		return errorResult("save_changes", fmt.Errorf("message is required")), nil
	}
	if len(message) > maxMessageLen {
		return errorResult("save_changes", fmt.Errorf("message must be at most %d characters", maxMessageLen)), nil
	}

	rc, driver, unlock, err := d.openDriver(ctx, user, request)
	if err != nil {
		return errorResult("save_changes", err), nil
	}
	defer unlock()

	if rc.Repo == nil {
		return errorResult("save_changes", fmt.Errorf("no repository found: save_changes needs a repository managed by clone_and_setup_repo")), nil
	}

	status, err := driver.Status(ctx)
	if err != nil {
		return errorResult("save_changes", err), nil
	}
	if status.IsClean {
		return textResult("## ℹ️ Nothing to save\n\nThe working tree is clean.\n"), nil
	}

	branch := status.CurrentBranch
	branchCreated := false
	if gitcli.IsProtectedBranch(branch) {
		branch = gitcli.FeatureBranchName(message)
		if err := driver.CreateBranch(ctx, branch, "", true); err != nil {
			return errorResult("save_changes", err), nil
		}
		branchCreated = true
	}

	if err := driver.Add(ctx, nil); err != nil {
		return errorResult("save_changes", err), nil
	}
	commit, err := driver.Commit(ctx, gitcli.CommitOptions{Message: message})
	if err != nil {
		return errorResult("save_changes", err), nil
	}

	sess, err := d.ensureActiveSession(ctx, user, *rc.Repo, rc.Session)
	if err != nil {
		return errorResult("save_changes", err), nil
	}
	if _, err := d.sessions.IncrementCommits(ctx, sess.ID, branch); err != nil {
		return errorResult("save_changes", err), nil
	}
	if err := d.store.SetRepositoryBranch(ctx, rc.Repo.ID, branch); err != nil {
		return errorResult("save_changes", err), nil
	}
	if err := d.store.IncrementCommitUsage(ctx, user.ID); err != nil {
		return errorResult("save_changes", err), nil
	}

	var b strings.Builder
	b.WriteString("## ✅ Changes saved\n\n")
	if branchCreated {
		fmt.Fprintf(&b, "You were on a protected branch, so I created **%s** and saved there.\n\n", branch)
	}
	fmt.Fprintf(&b, "Commit `%s` on **%s**: %d file(s) changed, +%d/-%d.\n\n",
		commit.ShortHash(), branch, commit.FilesChanged, commit.Insertions, commit.Deletions)
	b.WriteString("When you're ready for review, use `push_for_review`.\n")

	return textResult(withJSON(b.String(), map[string]any{
		"branch_created": branchCreated,
		"branch":         branch,
		"commit":         commit.ShortHash(),
		"files_changed":  commit.FilesChanged,
		"insertions":     commit.Insertions,
		"deletions":      commit.Deletions,
		"session_id":     sess.ID.String(),
	})), nil
}

// ensureActiveSession returns the user's active session, starting one on
// repo when none exists.
func (d *Dispatcher) ensureActiveSession(ctx context.Context, user store.User, repo store.Repository, known *store.Session) (store.Session, error) {
	if known != nil {
		return *known, nil
	}
	if active, err := d.sessions.GetActive(ctx, user.ID); err == nil {
		return active, nil
	}
	started, err := d.sessions.Start(ctx, user, repo, "")
	if err != nil {
		return store.Session{}, err
	}
	return started.Session, nil
}

func (d *Dispatcher) handlePushForReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := d.requireUser(ctx, request)
	if err != nil {
		return errorResult("push_for_review", err), nil
	}
	title := request.GetString("title", "")
	if len(title) > maxTitleLen {
		return errorResult("push_for_review", fmt.Errorf("title must be at most %d characters", maxTitleLen)), nil
	}
	description := request.GetString("description", "")
	if len(description) > maxDescriptionLen {
		return errorResult("push_for_review", fmt.Errorf("description is too long")), nil
	}

	token, ok := d.auth.GetAccessTokenByGitHubID(ctx, user.GitHubID)
	if !ok {
		return errorResult("push_for_review", gitcli.ErrNotAuthenticated), nil
	}

	sess, err := d.sessions.GetActive(ctx, user.ID)
	if err != nil {
		return errorResult("push_for_review", fmt.Errorf("no active session: start one with clone_and_setup_repo or save_changes first")), nil
	}
	repo, err := d.store.GetRepository(ctx, sess.RepositoryID)
	if err != nil || !repo.IsCloned || repo.LocalPath.String == "" {
		return errorResult("push_for_review", fmt.Errorf("the session's repository is not cloned locally")), nil
	}

	unlock := d.lockPath(repo.LocalPath.String)
	defer unlock()

	driver := d.DriverFor(user, repo.LocalPath.String)
	if err := driver.Open(ctx); err != nil {
		return errorResult("push_for_review", err), nil
	}

	branch, err := driver.CurrentBranch(ctx)
	if err != nil {
		return errorResult("push_for_review", err), nil
	}
	if gitcli.IsProtectedBranch(branch) {
		return textResult(fmt.Sprintf(
			"## ⚠️ On a protected branch\n\nYou're on **%s**, which can't go out for review directly.\n\n**What you can do:**\n- Use `save_changes` to move your work to a feature branch first\n", branch)), nil
	}

	status, err := driver.Status(ctx)
	if err != nil {
		return errorResult("push_for_review", err), nil
	}
	if !status.IsClean {
		var b strings.Builder
		b.WriteString("## ⚠️ Unsaved changes\n\nThese files have changes that aren't committed yet:\n\n")
		for _, f := range status.DirtyFiles() {
			fmt.Fprintf(&b, "- `%s`\n", f)
		}
		b.WriteString("\n**What you can do:**\n- Run `save_changes` first, then `push_for_review` again\n")
		return textResult(b.String()), nil
	}

	pushResult, err := driver.Push(ctx, branch, gitcli.PushOptions{SetUpstream: true})
	if err != nil {
		return errorResult("push_for_review", err), nil
	}
	if pushResult.PolicyRejected {
		return textResult(d.renderPolicyRejection(ctx, driver, pushResult.RemoteMessage, "push_for_review")), nil
	}

	gh := github.NewClient(ctx, token)
	remote, err := gh.GetRepository(ctx, repo.Owner, repo.Name)
	if err != nil {
		return errorResult("push_for_review", err), nil
	}

	if title == "" {
		if sess.TaskDescription.String != "" {
			title = sess.TaskDescription.String
		} else {
			title = "Feature: " + gitcli.Slugify(branch)
		}
	}

	pr, err := gh.CreatePullRequest(ctx, repo.Owner, repo.Name, github.PullRequestInput{
		Title: title,
		Body:  description + prFooter,
		Head:  branch,
		Base:  remote.GetDefaultBranch(),
		Draft: request.GetBool("isDraft", false),
	})
	if err != nil {
		if !github.IsAlreadyExists(err) {
			return errorResult("push_for_review", err), nil
		}
		existing, ferr := gh.FindOpenPR(ctx, repo.Owner, repo.Name, branch)
		if ferr != nil || existing == nil {
			return errorResult("push_for_review", err), nil
		}
		pr = existing
	}

	if _, err := d.sessions.SetPR(ctx, sess.ID, pr.GetID(), pr.GetNumber(), pr.GetHTMLURL()); err != nil {
		return errorResult("push_for_review", err), nil
	}
	if err := d.store.IncrementPRUsage(ctx, user.ID); err != nil {
		return errorResult("push_for_review", err), nil
	}

	return textResult(fmt.Sprintf(
		"## 🎉 Ready for review\n\nPushed **%s** and opened pull request [#%d](%s):\n\n> %s\n\nShare the link with your reviewers.\n",
		branch, pr.GetNumber(), pr.GetHTMLURL(), pr.GetTitle())), nil
}
