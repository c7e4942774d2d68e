// Package cli wires the services together behind the command-line entry
// points: the MCP server itself and the migration runner.
package cli

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/gitflow-ai/gitflow-mcp/internal/auth"
	"github.com/gitflow-ai/gitflow-mcp/internal/config"
	"github.com/gitflow-ai/gitflow-mcp/internal/database"
	"github.com/gitflow-ai/gitflow-mcp/internal/gitcli"
	"github.com/gitflow-ai/gitflow-mcp/internal/logging"
	"github.com/gitflow-ai/gitflow-mcp/internal/secrets"
	"github.com/gitflow-ai/gitflow-mcp/internal/session"
	"github.com/gitflow-ai/gitflow-mcp/internal/store"
	"github.com/gitflow-ai/gitflow-mcp/internal/tools"
)

// Version is stamped by the release build.
var Version = "dev"

// Sessions idle this long are abandoned at startup.
const staleSessionDays = 7

// NewRootCmd creates the gitflow-mcp command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "gitflow-mcp",
		Short:   "MCP server that drives Git and GitHub workflows for non-expert users",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
	return cmd
}

// serve composes every service once and runs the MCP transport on
// stdio until the client disconnects. Stdout carries protocol frames
// only; all logging goes to stderr.
func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	logging.Init(cfg.LogLevel)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	st := store.New(db)

	// The column cipher key is derived from the JWT secret; rotating the
	// secret invalidates fallback-stored tokens, which re-auth repairs.
	key := sha256.Sum256([]byte(cfg.JWT.Secret))
	sec, err := secrets.New(cfg.Security.KeychainService, key[:], st)
	if err != nil {
		return err
	}

	authSvc := auth.NewService(&cfg, st, sec)
	defer authSvc.Close()

	drivers := func(user store.User, localPath string) *gitcli.Driver {
		return gitcli.New(localPath, gitcli.TokenSourceFunc(func(ctx context.Context) (string, bool) {
			return authSvc.GetAccessTokenByGitHubID(ctx, user.GitHubID)
		}))
	}

	// One lock set for every component that touches a clone.
	locks := gitcli.NewPathLocks()
	sessions := session.NewService(st, drivers, locks)
	if _, err := sessions.CleanupStale(ctx, staleSessionDays); err != nil {
		logging.Logger.Warn("stale session cleanup failed", "error", err)
	}

	callback, err := auth.NewCallbackServer(authSvc, cfg.GitHub.RedirectURI)
	if err != nil {
		return err
	}
	if err := callback.Start(); err != nil {
		return err
	}
	defer func() {
		if err := callback.Shutdown(); err != nil {
			logging.Logger.Warn("callback server shutdown", "error", err)
		}
	}()

	dispatcher := tools.NewDispatcher(&cfg, st, authSvc, sessions, locks)

	srv := server.NewMCPServer("gitflow-mcp", Version)
	dispatcher.Register(srv)

	logging.Logger.Info("gitflow-mcp serving on stdio", "version", Version, "env", cfg.Env)
	if err := server.ServeStdio(srv); err != nil {
		return fmt.Errorf("mcp server stopped: %w", err)
	}
	return nil
}
