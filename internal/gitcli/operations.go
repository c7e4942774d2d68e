package gitcli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Clone clones remoteURL into the driver's path using the user's token,
// then immediately resets the stored remote URL to its credential-free
// form. Returns the local path.
func (d *Driver) Clone(ctx context.Context, remoteURL string, opts CloneOptions) (string, error) {
	token, ok := d.tokens.AccessToken(ctx)
	if !ok {
		return "", ErrNotAuthenticated
	}

	clean := Scrub(strings.TrimSpace(remoteURL))
	authed, err := injectToken(clean, token)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create clone parent directory: %w", err)
	}

	args := []string{"clone"}
	if opts.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(opts.Depth))
	}
	if opts.Branch != "" {
		args = append(args, "--branch", opts.Branch)
	}
	if opts.SingleBranch {
		args = append(args, "--single-branch")
	}
	args = append(args, authed, d.path)

	if _, err := d.run(ctx, filepath.Dir(d.path), args...); err != nil {
		if isAuthRejection(outputOf(err)) {
			return "", ErrNotAuthenticated
		}
		return "", err
	}

	// The clone wrote the credentialed URL into .git/config; replace it
	// before returning, even if the caller was cancelled.
	restoreCtx := context.WithoutCancel(ctx)
	if _, err := d.run(restoreCtx, d.path, "remote", "set-url", "origin", clean); err != nil {
		return "", fmt.Errorf("failed to scrub remote URL after clone: %w", err)
	}

	return d.path, nil
}

var branchHeaderPattern = regexp.MustCompile(`^## (\S+?)(?:\.\.\.(\S+))?(?: \[(.*)\])?$`)

// Status reports the working-tree state.
func (d *Driver) Status(ctx context.Context) (StatusResult, error) {
	out, err := d.run(ctx, d.path, "status", "--porcelain", "--branch")
	if err != nil {
		return StatusResult{}, err
	}

	result := StatusResult{}
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "## ") {
			if m := branchHeaderPattern.FindStringSubmatch(line); m != nil {
				result.CurrentBranch = strings.TrimSuffix(m[1], "...")
				for _, part := range strings.Split(m[3], ", ") {
					if n, ok := strings.CutPrefix(part, "ahead "); ok {
						result.Ahead, _ = strconv.Atoi(n)
					}
					if n, ok := strings.CutPrefix(part, "behind "); ok {
						result.Behind, _ = strconv.Atoi(n)
					}
				}
			}
			continue
		}
		if len(line) < 4 {
			continue
		}
		staged, worktree, path := line[0], line[1], line[3:]
		if staged == '?' && worktree == '?' {
			result.Untracked = append(result.Untracked, path)
			continue
		}
		if staged != ' ' {
			result.Staged = append(result.Staged, path)
		}
		if worktree != ' ' {
			result.Modified = append(result.Modified, path)
		}
	}

	result.IsClean = len(result.Staged) == 0 && len(result.Modified) == 0 && len(result.Untracked) == 0
	return result, nil
}

// Add stages the given paths, or everything when paths is empty.
func (d *Driver) Add(ctx context.Context, paths []string) error {
	args := []string{"add"}
	if len(paths) == 0 {
		args = append(args, "-A")
	} else {
		args = append(args, "--")
		args = append(args, paths...)
	}
	_, err := d.run(ctx, d.path, args...)
	return err
}

// Unstage removes the given paths from the index.
func (d *Driver) Unstage(ctx context.Context, paths []string) error {
	args := []string{"reset", "HEAD", "--"}
	args = append(args, paths...)
	_, err := d.run(ctx, d.path, args...)
	return err
}

var shortstatPattern = regexp.MustCompile(`(\d+) files? changed(?:, (\d+) insertions?\(\+\))?(?:, (\d+) deletions?\(-\))?`)

// Commit creates a commit and reports its hash and diff stats. Fails
// with ErrNothingToCommit on a clean tree.
func (d *Driver) Commit(ctx context.Context, opts CommitOptions) (CommitResult, error) {
	args := []string{"commit", "-m", opts.Message}
	if opts.Amend {
		args = append(args, "--amend")
	}
	if opts.NoEdit {
		args = append(args, "--no-edit")
	}
	if len(opts.Files) > 0 {
		args = append(args, "--")
		args = append(args, opts.Files...)
	}

	if _, err := d.run(ctx, d.path, args...); err != nil {
		text := strings.ToLower(outputOf(err) + " " + err.Error())
		if strings.Contains(text, "nothing to commit") || strings.Contains(text, "working tree clean") {
			return CommitResult{}, ErrNothingToCommit
		}
		return CommitResult{}, err
	}

	hash, err := d.run(ctx, d.path, "rev-parse", "HEAD")
	if err != nil {
		return CommitResult{}, err
	}
	result := CommitResult{Hash: strings.TrimSpace(hash)}

	if stat, err := d.run(ctx, d.path, "show", "--shortstat", "--format=", "HEAD"); err == nil {
		if m := shortstatPattern.FindStringSubmatch(stat); m != nil {
			result.FilesChanged, _ = strconv.Atoi(m[1])
			result.Insertions, _ = strconv.Atoi(m[2])
			result.Deletions, _ = strconv.Atoi(m[3])
		}
	}
	return result, nil
}

// Push pushes branch to origin. A push-protection rejection is returned
// as a tagged result, not an error; authentication failures surface as
// ErrNotAuthenticated.
func (d *Driver) Push(ctx context.Context, branch string, opts PushOptions) (PushResult, error) {
	var result PushResult
	err := d.withAuthenticatedRemote(ctx, func(ctx context.Context) error {
		args := []string{"push"}
		if opts.Force {
			args = append(args, "--force")
		}
		if opts.ForceWithLease {
			args = append(args, "--force-with-lease")
		}
		if opts.SetUpstream {
			args = append(args, "--set-upstream")
		}
		args = append(args, "origin", branch)

		if _, err := d.run(ctx, d.path, args...); err != nil {
			remote := outputOf(err)
			if isPushProtection(remote) {
				result = PushResult{PolicyRejected: true, RemoteMessage: remote}
				return nil
			}
			if isAuthRejection(remote) {
				return ErrNotAuthenticated
			}
			return err
		}
		result = PushResult{Success: true}
		return nil
	})
	if err != nil {
		return PushResult{}, err
	}
	return result, nil
}

// Pull fetches and integrates origin. Conflicts come back as a result
// record, not an error.
func (d *Driver) Pull(ctx context.Context, opts PullOptions) (PullResult, error) {
	before, err := d.run(ctx, d.path, "rev-parse", "HEAD")
	if err != nil {
		return PullResult{}, err
	}

	var result PullResult
	err = d.withAuthenticatedRemote(ctx, func(ctx context.Context) error {
		args := []string{"pull"}
		if opts.Rebase {
			args = append(args, "--rebase")
		}
		args = append(args, "origin")

		if _, perr := d.run(ctx, d.path, args...); perr != nil {
			remote := outputOf(perr)
			if isAuthRejection(remote) {
				return ErrNotAuthenticated
			}
			if strings.Contains(remote, "CONFLICT") || strings.Contains(strings.ToLower(remote), "fix conflicts") {
				files, _ := d.conflictFiles(ctx)
				result = PullResult{HasConflicts: true, ConflictFiles: files}
				return nil
			}
			return perr
		}

		after, aerr := d.run(ctx, d.path, "rev-parse", "HEAD")
		if aerr != nil {
			return aerr
		}
		count := 0
		if strings.TrimSpace(before) != strings.TrimSpace(after) {
			if out, cerr := d.run(ctx, d.path, "rev-list", "--count", strings.TrimSpace(before)+".."+strings.TrimSpace(after)); cerr == nil {
				count, _ = strconv.Atoi(strings.TrimSpace(out))
			}
		}
		result = PullResult{Success: true, NewCommits: count}
		return nil
	})
	if err != nil {
		return PullResult{}, err
	}
	return result, nil
}

// Checkout switches to an existing branch.
func (d *Driver) Checkout(ctx context.Context, branch string) error {
	_, err := d.run(ctx, d.path, "checkout", branch)
	return err
}

// CreateBranch creates a branch, optionally from a start point, and
// optionally checks it out.
func (d *Driver) CreateBranch(ctx context.Context, name, from string, checkout bool) error {
	if checkout {
		args := []string{"checkout", "-b", name}
		if from != "" {
			args = append(args, from)
		}
		_, err := d.run(ctx, d.path, args...)
		return err
	}
	args := []string{"branch", name}
	if from != "" {
		args = append(args, from)
	}
	_, err := d.run(ctx, d.path, args...)
	return err
}

// DeleteBranch deletes a local branch.
func (d *Driver) DeleteBranch(ctx context.Context, name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := d.run(ctx, d.path, "branch", flag, name)
	return err
}

// ListBranches returns local branch names.
func (d *Driver) ListBranches(ctx context.Context) ([]string, error) {
	out, err := d.run(ctx, d.path, "branch", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		if b := strings.TrimSpace(line); b != "" {
			branches = append(branches, b)
		}
	}
	return branches, nil
}

// CurrentBranch returns the checked-out branch name.
func (d *Driver) CurrentBranch(ctx context.Context) (string, error) {
	out, err := d.run(ctx, d.path, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Merge merges branch into the current branch. Conflicts come back as a
// result record.
func (d *Driver) Merge(ctx context.Context, branch string, opts MergeOptions) (MergeResult, error) {
	args := []string{"merge"}
	if opts.NoFF {
		args = append(args, "--no-ff")
	}
	if opts.Strategy != "" {
		args = append(args, "-s", opts.Strategy)
	}
	if opts.Message != "" {
		args = append(args, "-m", opts.Message)
	}
	args = append(args, branch)

	if _, err := d.run(ctx, d.path, args...); err != nil {
		text := outputOf(err)
		if strings.Contains(text, "CONFLICT") || strings.Contains(strings.ToLower(text), "automatic merge failed") {
			files, _ := d.conflictFiles(ctx)
			return MergeResult{HasConflicts: true, ConflictFiles: files}, nil
		}
		return MergeResult{}, err
	}
	return MergeResult{Success: true}, nil
}

// Reset moves HEAD to ref with the given mode.
func (d *Driver) Reset(ctx context.Context, mode ResetMode, ref string) error {
	_, err := d.run(ctx, d.path, "reset", "--"+string(mode), ref)
	return err
}

// Fetch updates remote-tracking refs.
func (d *Driver) Fetch(ctx context.Context) error {
	return d.withAuthenticatedRemote(ctx, func(ctx context.Context) error {
		if _, err := d.run(ctx, d.path, "fetch", "origin"); err != nil {
			if isAuthRejection(outputOf(err)) {
				return ErrNotAuthenticated
			}
			return err
		}
		return nil
	})
}

// Log returns up to max recent commits, newest first.
func (d *Driver) Log(ctx context.Context, max int) ([]CommitInfo, error) {
	out, err := d.run(ctx, d.path, "log", "--pretty=format:%H%x1f%an%x1f%aI%x1f%s", "-n", strconv.Itoa(max))
	if err != nil {
		return nil, err
	}

	var commits []CommitInfo
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Split(line, "\x1f")
		if len(parts) != 4 {
			continue
		}
		info := CommitInfo{Hash: parts[0], Author: parts[1], Subject: parts[3]}
		if t, terr := time.Parse(time.RFC3339, parts[2]); terr == nil {
			info.Date = t
		}
		commits = append(commits, info)
	}
	return commits, nil
}

// Clean removes untracked files, and directories when dirs is set.
func (d *Driver) Clean(ctx context.Context, force, dirs bool) error {
	args := []string{"clean"}
	if force {
		args = append(args, "-f")
	}
	if dirs {
		args = append(args, "-d")
	}
	_, err := d.run(ctx, d.path, args...)
	return err
}

func (d *Driver) conflictFiles(ctx context.Context) ([]string, error) {
	out, err := d.run(ctx, d.path, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if f := strings.TrimSpace(line); f != "" {
			files = append(files, f)
		}
	}
	return files, nil
}
