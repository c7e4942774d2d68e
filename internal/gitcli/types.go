package gitcli

import "time"

// StatusResult is the parsed working-tree state.
type StatusResult struct {
	CurrentBranch string
	Modified      []string
	Staged        []string
	Untracked     []string
	IsClean       bool
	Ahead         int
	Behind        int
}

// DirtyFiles returns every path with local changes, staged or not.
func (s StatusResult) DirtyFiles() []string {
	seen := make(map[string]struct{})
	var files []string
	for _, group := range [][]string{s.Staged, s.Modified, s.Untracked} {
		for _, f := range group {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			files = append(files, f)
		}
	}
	return files
}

type CloneOptions struct {
	Depth        int
	Branch       string
	SingleBranch bool
}

type CommitOptions struct {
	Message string
	Files   []string
	Amend   bool
	NoEdit  bool
}

// CommitResult reports the created commit and its diff stats.
type CommitResult struct {
	Hash         string
	FilesChanged int
	Insertions   int
	Deletions    int
}

// ShortHash returns the abbreviated commit hash.
func (c CommitResult) ShortHash() string {
	if len(c.Hash) > 7 {
		return c.Hash[:7]
	}
	return c.Hash
}

type PushOptions struct {
	Force          bool
	ForceWithLease bool
	SetUpstream    bool
}

// PushResult is a tagged result: success, or a push-protection rejection
// carrying the raw (scrubbed) remote message for the policy parser.
// Rejections are values, not errors, because they demand a remediation
// flow rather than propagation.
type PushResult struct {
	Success        bool
	PolicyRejected bool
	RemoteMessage  string
}

type PullOptions struct {
	Rebase bool
}

// PullResult is success with a downloaded-commit count, or a conflict
// record listing conflicted paths.
type PullResult struct {
	Success       bool
	NewCommits    int
	HasConflicts  bool
	ConflictFiles []string
}

type MergeOptions struct {
	Strategy string
	NoFF     bool
	Message  string
}

type MergeResult struct {
	Success       bool
	HasConflicts  bool
	ConflictFiles []string
}

type ResetMode string

const (
	ResetSoft  ResetMode = "soft"
	ResetMixed ResetMode = "mixed"
	ResetHard  ResetMode = "hard"
)

type CommitInfo struct {
	Hash    string
	Author  string
	Date    time.Time
	Subject string
}
