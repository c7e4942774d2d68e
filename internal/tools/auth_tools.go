package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

func (d *Dispatcher) registerAuthTools(srv *mcpserver.MCPServer) {
	srv.AddTool(mcp.NewTool("authenticate_github",
		mcp.WithDescription("Start the GitHub sign-in flow. Returns a URL to open in the browser."),
		mcp.WithString("redirectUri", mcp.Description("Override the OAuth redirect URI (advanced)")),
	), d.handleAuthenticateGitHub)

	srv.AddTool(mcp.NewTool("check_auth_status",
		mcp.WithDescription("Check whether the user is signed in to GitHub."),
		mcp.WithString("userId", mcp.Required(), mcp.Description("Internal user id (UUID)")),
	), d.handleCheckAuthStatus)

	srv.AddTool(mcp.NewTool("logout",
		mcp.WithDescription("Sign the user out of GitHub and forget their token."),
		mcp.WithString("userId", mcp.Required(), mcp.Description("Internal user id (UUID)")),
	), d.handleLogout)
}

func (d *Dispatcher) handleAuthenticateGitHub(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := d.auth.InitiateOAuth(request.GetString("redirectUri", ""))
	if err != nil {
		return errorResult("authenticate_github", err), nil
	}

	var b strings.Builder
	b.WriteString("## 🔐 Sign in to GitHub\n\n")
	b.WriteString("Open this link in your browser to connect your GitHub account:\n\n")
	fmt.Fprintf(&b, "%s\n\n", result.URL)
	fmt.Fprintf(&b, "The link expires in %d minutes. ", int(result.ExpiresIn.Minutes()))
	b.WriteString("After signing in, the page shows your user id. Keep it: every other tool needs it as `userId`.\n")
	return textResult(b.String()), nil
}

func (d *Dispatcher) handleCheckAuthStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := d.requireUser(ctx, request)
	if err != nil {
		return errorResult("check_auth_status", err), nil
	}

	if _, ok := d.auth.GetAccessToken(ctx, user.ID); !ok {
		var b strings.Builder
		b.WriteString("## ⚠️ session_expired\n\n")
		fmt.Fprintf(&b, "Your GitHub connection for **%s** is no longer available.\n\n", user.GitHubUsername)
		b.WriteString("**What you can do:**\n")
		b.WriteString("- Run `authenticate_github` to sign in again\n")
		return textResult(b.String()), nil
	}

	var b strings.Builder
	b.WriteString("## ✅ Signed in\n\n")
	fmt.Fprintf(&b, "Connected to GitHub as **%s** (%s tier).\n", user.GitHubUsername, user.Tier)
	return textResult(b.String()), nil
}

func (d *Dispatcher) handleLogout(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := d.requireUser(ctx, request)
	if err != nil {
		return errorResult("logout", err), nil
	}
	if err := d.auth.Logout(ctx, user.ID); err != nil {
		return errorResult("logout", err), nil
	}
	return textResult(fmt.Sprintf("## 👋 Signed out\n\nDisconnected **%s** from GitHub. Run `authenticate_github` whenever you want to reconnect.\n", user.GitHubUsername)), nil
}
