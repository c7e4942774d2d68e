package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/gitflow-ai/gitflow-mcp/internal/session"
	"github.com/gitflow-ai/gitflow-mcp/internal/store"
)

func (d *Dispatcher) registerSessionTools(srv *mcpserver.MCPServer) {
	srv.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List the user's recent working sessions."),
		mcp.WithString("userId", mcp.Required(), mcp.Description("Internal user id (UUID)")),
		mcp.WithNumber("limit", mcp.Description("How many sessions to show (default 10)")),
	), d.handleListSessions)

	srv.AddTool(mcp.NewTool("get_active_session",
		mcp.WithDescription("Show the user's currently active working session."),
		mcp.WithString("userId", mcp.Required(), mcp.Description("Internal user id (UUID)")),
	), d.handleGetActiveSession)

	srv.AddTool(mcp.NewTool("resume_session",
		mcp.WithDescription("Pick up work from an earlier session: switch back to its repository and branch."),
		mcp.WithString("userId", mcp.Required(), mcp.Description("Internal user id (UUID)")),
		mcp.WithString("sessionId", mcp.Required(), mcp.Description("Session id (UUID) to resume")),
	), d.handleResumeSession)
}

func (d *Dispatcher) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := d.requireUser(ctx, request)
	if err != nil {
		return errorResult("list_sessions", err), nil
	}
	limit := request.GetInt("limit", 10)
	if limit < 1 || limit > 100 {
		limit = 10
	}

	sessions, err := d.sessions.List(ctx, user.ID, limit)
	if err != nil {
		return errorResult("list_sessions", err), nil
	}
	if len(sessions) == 0 {
		return textResult("## 📝 No sessions yet\n\nStart one with `clone_and_setup_repo`.\n"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## 📝 Your sessions (%d)\n\n", len(sessions))
	for _, s := range sessions {
		b.WriteString(formatSessionLine(ctx, d, s))
	}
	b.WriteString("\nUse `resume_session` with an id to pick one back up.\n")
	return textResult(b.String()), nil
}

func formatSessionLine(ctx context.Context, d *Dispatcher, s store.Session) string {
	repoName := "unknown repository"
	if repo, err := d.store.GetRepository(ctx, s.RepositoryID); err == nil {
		repoName = repo.FullName()
	}

	var b strings.Builder
	icon := map[string]string{
		store.SessionActive:    "🟢",
		store.SessionCompleted: "✅",
		store.SessionAbandoned: "⚪",
	}[s.Status]
	fmt.Fprintf(&b, "%s **%s** (%s)", icon, repoName, s.Status)
	if s.CurrentBranch.Valid {
		fmt.Fprintf(&b, " on `%s`", s.CurrentBranch.String)
	}
	if s.TaskDescription.Valid {
		fmt.Fprintf(&b, " - %s", s.TaskDescription.String)
	}
	fmt.Fprintf(&b, "\n  started %s, %d commit(s), id `%s`\n",
		s.StartedAt.Format("Jan 2 15:04"), s.CommitsInSession, s.ID)
	return b.String()
}

func (d *Dispatcher) handleGetActiveSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := d.requireUser(ctx, request)
	if err != nil {
		return errorResult("get_active_session", err), nil
	}

	active, err := d.sessions.GetActive(ctx, user.ID)
	if err != nil {
		return textResult("## 📝 No active session\n\nStart one with `clone_and_setup_repo`, or `resume_session` to continue earlier work.\n"), nil
	}

	var b strings.Builder
	b.WriteString("## 🟢 Active session\n\n")
	b.WriteString(formatSessionLine(ctx, d, active))
	fmt.Fprintf(&b, "\nRunning for %s.\n", session.FormatDuration(time.Since(active.StartedAt)))
	if active.PRURL.Valid {
		fmt.Fprintf(&b, "Pull request: %s\n", active.PRURL.String)
	}
	return textResult(b.String()), nil
}

func (d *Dispatcher) handleResumeSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := d.requireUser(ctx, request)
	if err != nil {
		return errorResult("resume_session", err), nil
	}
	rawID, err := request.RequireString("sessionId")
	if err != nil {
		return errorResult("resume_session", fmt.Errorf("sessionId is required")), nil
	}
	sessionID, err := uuid.Parse(rawID)
	if err != nil {
		return errorResult("resume_session", fmt.Errorf("sessionId must be a UUID")), nil
	}

	result, err := d.sessions.Resume(ctx, sessionID, user)
	if err != nil {
		return errorResult("resume_session", err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## ▶️ Resumed work on %s\n\n", result.Repository.FullName())
	if result.Refreshed {
		b.WriteString("That session was already active; you're good to continue.\n")
	} else {
		fmt.Fprintf(&b, "Started a fresh session continuing the earlier one (id `%s`).\n", result.Session.ID)
	}
	if branch := result.Session.CurrentBranch.String; branch != "" {
		if result.BranchCheckedOut {
			fmt.Fprintf(&b, "Switched the clone back to **%s**.\n", branch)
		} else {
			fmt.Fprintf(&b, "Couldn't switch to **%s** automatically; use `git_checkout` when you're ready.\n", branch)
		}
	}
	if task := result.Session.TaskDescription.String; task != "" {
		fmt.Fprintf(&b, "\nYou were working on: %s\n", task)
	}
	return textResult(b.String()), nil
}
