package gitcli

import (
	"regexp"
	"strings"
)

// Branches on which a direct commit is bypassed into a feature branch.
var protectedBranches = map[string]struct{}{
	"main":        {},
	"master":      {},
	"develop":     {},
	"development": {},
}

// IsProtectedBranch reports whether name is a protected branch,
// case-insensitively.
func IsProtectedBranch(name string) bool {
	_, ok := protectedBranches[strings.ToLower(name)]
	return ok
}

var (
	slugStripPattern    = regexp.MustCompile(`[^a-z0-9 -]`)
	slugCollapsePattern = regexp.MustCompile(`\s+`)
	slugHyphenPattern   = regexp.MustCompile(`-+`)
)

const slugMaxLen = 50

// Slugify derives a branch-safe slug from free text: lowercase, strip
// everything outside [a-z0-9 -], collapse whitespace, trim, hyphenate,
// collapse hyphen runs, truncate to 50 characters. Idempotent.
func Slugify(text string) string {
	s := strings.ToLower(text)
	s = slugStripPattern.ReplaceAllString(s, "")
	s = slugCollapsePattern.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "-")
	s = slugHyphenPattern.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > slugMaxLen {
		s = strings.Trim(s[:slugMaxLen], "-")
	}
	return s
}

// FeatureBranchName derives the branch a smart commit moves to. Slugs
// already namespaced as feature-/fix-/hotfix- keep their prefix as the
// branch namespace; anything else lands under feature/.
func FeatureBranchName(message string) string {
	slug := Slugify(message)
	for _, prefix := range []string{"feature-", "fix-", "hotfix-"} {
		if strings.HasPrefix(slug, prefix) {
			return strings.Replace(slug, "-", "/", 1)
		}
	}
	return "feature/" + slug
}
