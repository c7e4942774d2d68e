// Package gitcli wraps the installed git binary with per-repository
// authentication. Credentials are injected into the remote URL only for
// the duration of a network operation and scrubbed on every exit path.
package gitcli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gitflow-ai/gitflow-mcp/internal/logging"
)

var (
	// ErrNotAuthenticated covers both an absent token and a rejected one.
	ErrNotAuthenticated = errors.New("not authenticated with GitHub")
	// ErrNothingToCommit is returned when the working tree is clean.
	ErrNothingToCommit = errors.New("nothing to commit, working tree clean")
	// ErrNotARepository is returned when local-path has no .git directory.
	ErrNotARepository = errors.New("not a git repository")
)

var credentialPattern = regexp.MustCompile(`oauth2:[^@]*@`)

// Scrub removes every credential-embedded URL fragment from text.
func Scrub(text string) string {
	return credentialPattern.ReplaceAllString(text, "")
}

// TokenSource resolves the acting user's GitHub access token.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, bool)
}

// TokenSourceFunc adapts a function to the TokenSource interface.
type TokenSourceFunc func(ctx context.Context) (string, bool)

func (f TokenSourceFunc) AccessToken(ctx context.Context) (string, bool) {
	return f(ctx)
}

// execFunc runs git in dir and returns stdout. Overridable in tests.
type execFunc func(ctx context.Context, dir string, args ...string) (string, error)

// Driver is a facade over the git binary for one (user, local-path)
// pair. It is not safe for concurrent operations on the same path; the
// dispatcher serializes per path.
type Driver struct {
	path   string
	tokens TokenSource
	run    execFunc
}

func New(path string, tokens TokenSource) *Driver {
	return &Driver{path: path, tokens: tokens, run: runGit}
}

// Path returns the local working-tree path.
func (d *Driver) Path() string {
	return d.path
}

// Open verifies the path holds a repository and scrubs any credentialed
// origin URL a killed process may have left behind.
func (d *Driver) Open(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(d.path, ".git")); err != nil {
		return fmt.Errorf("%w: %s", ErrNotARepository, d.path)
	}

	url, err := d.remoteURL(ctx)
	if err != nil {
		// No origin configured is fine for a local-only repository.
		return nil
	}
	if credentialPattern.MatchString(url) {
		clean := Scrub(url)
		if _, err := d.run(ctx, d.path, "remote", "set-url", "origin", clean); err != nil {
			return fmt.Errorf("failed to scrub stale credentials from remote: %w", err)
		}
		logging.Logger.Warn("scrubbed stale credentials from remote URL", "path", d.path)
	}
	return nil
}

// withAuthenticatedRemote injects the user's token into the origin URL,
// runs fn, and restores the original URL on every exit path, including
// caller cancellation.
func (d *Driver) withAuthenticatedRemote(ctx context.Context, fn func(ctx context.Context) error) error {
	token, ok := d.tokens.AccessToken(ctx)
	if !ok {
		return ErrNotAuthenticated
	}

	original, err := d.remoteURL(ctx)
	if err != nil {
		return err
	}
	authed, err := injectToken(original, token)
	if err != nil {
		return err
	}

	if _, err := d.run(ctx, d.path, "remote", "set-url", "origin", authed); err != nil {
		return fmt.Errorf("failed to set authenticated remote: %w", err)
	}
	defer func() {
		// The scrub must run even when ctx was cancelled mid-operation.
		restoreCtx := context.WithoutCancel(ctx)
		if _, rerr := d.run(restoreCtx, d.path, "remote", "set-url", "origin", original); rerr != nil {
			logging.Logger.Error("failed to restore remote URL", "path", d.path, "error", Scrub(rerr.Error()))
		}
	}()

	return fn(ctx)
}

// remoteURL reads the origin URL, already scrubbed.
func (d *Driver) remoteURL(ctx context.Context) (string, error) {
	out, err := d.run(ctx, d.path, "remote", "get-url", "origin")
	if err != nil {
		return "", fmt.Errorf("failed to read remote URL: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// injectToken rewrites an https remote URL to its credential-embedded
// form https://oauth2:<token>@<host>/<path>.
func injectToken(remoteURL, token string) (string, error) {
	clean := Scrub(strings.TrimSpace(remoteURL))
	rest, ok := strings.CutPrefix(clean, "https://")
	if !ok {
		return "", fmt.Errorf("remote URL is not https: %s", clean)
	}
	return "https://oauth2:" + token + "@" + rest, nil
}

// isAuthRejection recognizes the remote refusing the presented
// credentials.
func isAuthRejection(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range []string{
		"authentication failed",
		"invalid username or password",
		"could not read username",
		"bad credentials",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// pushProtectionPattern recognizes GitHub's push-protection rejection in
// remote output. The full violation parse lives in the policy package;
// the driver only tags the result.
var pushProtectionPattern = regexp.MustCompile(`(?i)(GH009|GH013|secrets? detected|push .*declined.*secret|repository rule violations)`)

func isPushProtection(text string) bool {
	return pushProtectionPattern.MatchString(text)
}

// runGit executes git with the caller's context; the subprocess is
// killed when the context ends. Both streams ride on the returned
// error: git reports porcelain outcomes such as "nothing to commit"
// and "CONFLICT (content)" on stdout, not stderr.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), &Error{
			Args:   args,
			Stdout: stdout.String(),
			Stderr: stderr.String(),
			cause:  err,
		}
	}
	return stdout.String(), nil
}

// Error is a failed git invocation. Its text is always scrubbed of
// embedded credentials.
type Error struct {
	Args   []string
	Stdout string
	Stderr string
	cause  error
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(e.Stdout)
	}
	if msg == "" {
		msg = e.cause.Error()
	}
	return Scrub(fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), msg))
}

func (e *Error) Unwrap() error {
	return e.cause
}

// outputOf extracts the scrubbed combined output from a git error.
// Detection sites must see both streams: auth and remote messages
// arrive on stderr while merge and commit outcomes arrive on stdout.
func outputOf(err error) string {
	var gitErr *Error
	if errors.As(err, &gitErr) {
		return Scrub(strings.TrimSpace(gitErr.Stdout + "\n" + gitErr.Stderr))
	}
	if err != nil {
		return Scrub(err.Error())
	}
	return ""
}
