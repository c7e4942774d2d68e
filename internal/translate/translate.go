// Package translate maps raw Git and GitHub API failures to records a
// non-expert user can act on. Translation is pure: no I/O, no logging.
package translate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/go-github/v50/github"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryNetwork        Category = "network"
	CategoryGitOperation   Category = "git-operation"
	CategoryMergeConflict  Category = "merge-conflict"
	CategoryPushProtection Category = "push-protection"
	CategoryRateLimit      Category = "rate-limit"
	CategoryNotFound       Category = "not-found"
	CategoryValidation     Category = "validation"
	CategoryUnknown        Category = "unknown"
)

// Translated is the user-facing view of a raw failure.
type Translated struct {
	Original         error
	UserMessage      string
	TechnicalDetails string
	SuggestedActions []string
	Severity         Severity
	Category         Category
	Code             string
	AffectedFiles    []string
}

// IsRecoverable reports whether the user can plausibly fix the failure
// and retry.
func (t Translated) IsRecoverable() bool {
	switch t.Category {
	case CategoryAuthentication, CategoryNetwork, CategoryRateLimit, CategoryMergeConflict:
		return true
	}
	return false
}

func (t Translated) IsCategory(c Category) bool {
	return t.Category == c
}

// PrimaryAction returns the first suggested action, or "".
func (t Translated) PrimaryAction() string {
	if len(t.SuggestedActions) == 0 {
		return ""
	}
	return t.SuggestedActions[0]
}

// Translate resolves err to a Translated record. HTTP-status errors from
// the GitHub API take the status table; everything else walks the
// pattern catalog, first match wins.
func Translate(err error) Translated {
	if err == nil {
		return Translated{
			UserMessage: "The operation completed.",
			Severity:    SeverityInfo,
			Category:    CategoryUnknown,
		}
	}

	if status, msg, ok := httpStatus(err); ok {
		t := fromStatus(status, msg)
		t.Original = err
		t.TechnicalDetails = err.Error()
		return t
	}

	t := TranslateText(err.Error())
	t.Original = err
	return t
}

// TranslateText resolves raw error text through the pattern catalog.
func TranslateText(text string) Translated {
	for _, rule := range catalog {
		if m := rule.pattern.FindStringSubmatch(text); m != nil {
			t := rule.build(m, text)
			t.TechnicalDetails = text
			return t
		}
	}
	return Translated{
		UserMessage:      "Something went wrong with that operation.",
		TechnicalDetails: text,
		SuggestedActions: []string{"Try the operation again", "Ask me for help with what you were doing"},
		Severity:         SeverityError,
		Category:         CategoryUnknown,
	}
}

// httpStatus extracts an HTTP status from GitHub API error types.
func httpStatus(err error) (int, string, bool) {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return 429, rateErr.Message, true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return 403, "secondary rate limit: " + abuseErr.Message, true
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode, ghErr.Message, true
	}
	return 0, "", false
}

var knownStatuses = map[int]Translated{
	400: {
		UserMessage:      "GitHub couldn't understand the request.",
		SuggestedActions: []string{"Check the values you provided and try again"},
		Severity:         SeverityError,
		Category:         CategoryValidation,
	},
	401: {
		UserMessage:      "Your GitHub session is no longer valid.",
		SuggestedActions: []string{"Run authenticate_github to sign in again"},
		Severity:         SeverityError,
		Category:         CategoryAuthentication,
	},
	403: {
		UserMessage:      "You don't have permission to do that on GitHub.",
		SuggestedActions: []string{"Check that your account has access to this repository"},
		Severity:         SeverityError,
		Category:         CategoryAuthorization,
	},
	404: {
		UserMessage:      "GitHub couldn't find that resource.",
		SuggestedActions: []string{"Check the repository name and your access to it"},
		Severity:         SeverityError,
		Category:         CategoryNotFound,
	},
	409: {
		UserMessage:      "The operation conflicts with the current state on GitHub.",
		SuggestedActions: []string{"Pull the latest changes and try again"},
		Severity:         SeverityError,
		Category:         CategoryGitOperation,
	},
	422: {
		UserMessage:      "GitHub rejected the request as invalid.",
		SuggestedActions: []string{"Check the values you provided and try again"},
		Severity:         SeverityError,
		Category:         CategoryValidation,
	},
	429: {
		UserMessage:      "GitHub is rate limiting requests right now.",
		SuggestedActions: []string{"wait-and-retry"},
		Severity:         SeverityWarning,
		Category:         CategoryRateLimit,
	},
	500: {
		UserMessage:      "GitHub had an internal problem handling the request.",
		SuggestedActions: []string{"Wait a moment and try again"},
		Severity:         SeverityError,
		Category:         CategoryNetwork,
	},
	502: {
		UserMessage:      "GitHub is temporarily unreachable.",
		SuggestedActions: []string{"Wait a moment and try again"},
		Severity:         SeverityError,
		Category:         CategoryNetwork,
	},
	503: {
		UserMessage:      "GitHub is temporarily unavailable.",
		SuggestedActions: []string{"Wait a moment and try again"},
		Severity:         SeverityError,
		Category:         CategoryNetwork,
	},
}

// fromStatus maps a known HTTP status and then lets the remote message
// override for rate limiting and push protection.
func fromStatus(status int, message string) Translated {
	t, ok := knownStatuses[status]
	if !ok {
		return Translated{
			UserMessage:      fmt.Sprintf("GitHub returned an unexpected response (HTTP %d).", status),
			SuggestedActions: []string{"Try the operation again"},
			Severity:         SeverityError,
			Category:         CategoryUnknown,
		}
	}
	t.Code = fmt.Sprintf("HTTP_%d", status)

	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "secondary rate limit"):
		t.Category = CategoryRateLimit
		t.Severity = SeverityWarning
		t.UserMessage = "GitHub is slowing down rapid requests from your account."
		t.SuggestedActions = []string{"wait-and-retry"}
	case strings.Contains(lower, "rate limit"):
		t.Category = CategoryRateLimit
		t.Severity = SeverityWarning
		t.UserMessage = "GitHub is rate limiting requests right now."
		t.SuggestedActions = []string{"wait-and-retry"}
	case strings.Contains(lower, "secret") || strings.Contains(lower, "push protection"):
		t.Category = CategoryPushProtection
		t.Severity = SeverityCritical
		t.UserMessage = "GitHub blocked this because it detected a secret."
		t.SuggestedActions = []string{"Remove the secret from your changes", "Ask me to retry the push once it's gone"}
	}
	return t
}

type rule struct {
	pattern *regexp.Regexp
	build   func(m []string, text string) Translated
}

func fixed(message string, actions []string, sev Severity, cat Category, code string) func([]string, string) Translated {
	return func([]string, string) Translated {
		return Translated{
			UserMessage:      message,
			SuggestedActions: actions,
			Severity:         sev,
			Category:         cat,
			Code:             code,
		}
	}
}

var behindPattern = regexp.MustCompile(`(\d+)\s+commit[s]?\s+behind`)

var (
	conflictFilePattern  = regexp.MustCompile(`CONFLICT \([^)]+\): Merge conflict in (\S+)`)
	conflictFilePattern2 = regexp.MustCompile(`both modified:\s+(\S+)`)
)

// catalog is walked in order; keep specific patterns before general
// ones. Timeout sits before the host-resolution pattern so a timed-out
// access matches as a timeout.
var catalog = []rule{
	{
		pattern: regexp.MustCompile(`(?i)GH009|secrets? detected|push .*declined.*secret`),
		build: fixed(
			"GitHub blocked this push because it detected a secret in your changes.",
			[]string{"Remove the secret from the flagged file", "Use an environment variable instead", "Ask me to retry the push once it's fixed"},
			SeverityCritical, CategoryPushProtection, "GH009",
		),
	},
	{
		pattern: regexp.MustCompile(`(?i)GH013|repository rule violations`),
		build: fixed(
			"GitHub blocked this push because it violates a repository rule.",
			[]string{"Review the repository's protection rules", "Adjust your changes to satisfy the rule"},
			SeverityCritical, CategoryPushProtection, "GH013",
		),
	},
	{
		pattern: regexp.MustCompile(`(?i)authentication failed`),
		build: fixed(
			"GitHub rejected your credentials.",
			[]string{"Run authenticate_github to sign in again"},
			SeverityError, CategoryAuthentication, "",
		),
	},
	{
		pattern: regexp.MustCompile(`(?i)permission denied \(publickey\)`),
		build: fixed(
			"GitHub rejected the SSH key for this operation.",
			[]string{"Run authenticate_github to use HTTPS authentication instead"},
			SeverityError, CategoryAuthentication, "",
		),
	},
	{
		pattern: regexp.MustCompile(`(?i)\b401\b|bad credentials|invalid token`),
		build: fixed(
			"Your GitHub session is no longer valid.",
			[]string{"Run authenticate_github to sign in again"},
			SeverityError, CategoryAuthentication, "",
		),
	},
	{
		pattern: regexp.MustCompile(`(?i)\b403\b|permission denied|forbidden`),
		build: fixed(
			"You don't have permission to do that on this repository.",
			[]string{"Check that your account has write access"},
			SeverityError, CategoryAuthorization, "",
		),
	},
	{
		pattern: regexp.MustCompile(`(?i)rejected.*non-fast-forward|behind|fetch first`),
		build: func(_ []string, text string) Translated {
			message := "The remote branch has changes you don't have yet."
			if m := behindPattern.FindStringSubmatch(text); m != nil {
				message = fmt.Sprintf("Your branch is %s commits behind the remote.", m[1])
			}
			return Translated{
				UserMessage:      message,
				SuggestedActions: []string{"Pull the latest changes first", "Then push again"},
				Severity:         SeverityWarning,
				Category:         CategoryGitOperation,
			}
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)remote rejected|push failed|failed to push`),
		build: fixed(
			"The remote rejected your push.",
			[]string{"Pull the latest changes and try again"},
			SeverityError, CategoryGitOperation, "",
		),
	},
	{
		pattern: regexp.MustCompile(`(?i)CONFLICT \(content\): Merge conflict in|automatic merge failed`),
		build: func(_ []string, text string) Translated {
			seen := make(map[string]struct{})
			var files []string
			for _, p := range []*regexp.Regexp{conflictFilePattern, conflictFilePattern2} {
				for _, m := range p.FindAllStringSubmatch(text, -1) {
					if _, ok := seen[m[1]]; ok {
						continue
					}
					seen[m[1]] = struct{}{}
					files = append(files, m[1])
				}
			}
			return Translated{
				UserMessage:      "Your changes conflict with changes already on the remote.",
				SuggestedActions: []string{"Open the conflicted files and resolve the markers", "Save, then ask me to commit the resolution"},
				Severity:         SeverityError,
				Category:         CategoryMergeConflict,
				AffectedFiles:    files,
			}
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)your local changes.*would be overwritten`),
		build: fixed(
			"You have unsaved local changes that this operation would overwrite.",
			[]string{"Commit or stash your changes first", "Then try again"},
			SeverityWarning, CategoryMergeConflict, "",
		),
	},
	{
		pattern: regexp.MustCompile(`(?i)'origin' does not appear to be a git repository`),
		build: fixed(
			"This repository has no usable remote configured.",
			[]string{"Re-clone the repository with clone_and_setup_repo"},
			SeverityError, CategoryNetwork, "",
		),
	},
	{
		pattern: regexp.MustCompile(`(?i)not a git repository`),
		build: fixed(
			"That folder isn't a Git repository.",
			[]string{"Check the path", "Clone the repository first with clone_and_setup_repo"},
			SeverityError, CategoryGitOperation, "",
		),
	},
	{
		pattern: regexp.MustCompile(`(?i)pathspec '([^']+)' did not match`),
		build: func(m []string, _ string) Translated {
			return Translated{
				UserMessage:      fmt.Sprintf("Git couldn't find '%s'.", m[1]),
				SuggestedActions: []string{"Check the branch or file name and try again"},
				Severity:         SeverityError,
				Category:         CategoryGitOperation,
			}
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)cannot lock ref 'refs/heads/([^']+)'`),
		build: func(m []string, _ string) Translated {
			return Translated{
				UserMessage:      fmt.Sprintf("Git couldn't update the branch '%s' because another operation holds it.", m[1]),
				SuggestedActions: []string{"Wait for the other Git operation to finish", "Then try again"},
				Severity:         SeverityError,
				Category:         CategoryGitOperation,
			}
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)timed? ?out`),
		build: fixed(
			"The operation timed out talking to the remote.",
			[]string{"Check your internet connection", "Try again in a moment"},
			SeverityError, CategoryNetwork, "",
		),
	},
	{
		pattern: regexp.MustCompile(`(?i)could not resolve host|unable to access|network is unreachable`),
		build: fixed(
			"Couldn't reach GitHub over the network.",
			[]string{"Check your internet connection", "Try again in a moment"},
			SeverityError, CategoryNetwork, "",
		),
	},
	{
		pattern: regexp.MustCompile(`(?i)ssl certificate problem`),
		build: fixed(
			"There's a certificate problem talking to the remote.",
			[]string{"Check your network for a proxy or firewall interfering with HTTPS"},
			SeverityError, CategoryNetwork, "",
		),
	},
	{
		pattern: regexp.MustCompile(`(?i)nothing to commit|working tree clean`),
		build: fixed(
			"There are no changes to save.",
			[]string{"Make some changes first, then ask me to save them"},
			SeverityInfo, CategoryGitOperation, "",
		),
	},
	{
		pattern: regexp.MustCompile(`(?i)already up to date`),
		build: fixed(
			"You already have the latest changes.",
			nil,
			SeverityInfo, CategoryGitOperation, "",
		),
	},
	{
		pattern: regexp.MustCompile(`(?i)branch (?:named )?'([^']+)' already exists`),
		build: func(m []string, _ string) Translated {
			return Translated{
				UserMessage:      fmt.Sprintf("A branch named '%s' already exists.", m[1]),
				SuggestedActions: []string{"Switch to the existing branch", "Or pick a different name"},
				Severity:         SeverityWarning,
				Category:         CategoryGitOperation,
			}
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)branch '([^']+)' is not fully merged`),
		build: func(m []string, _ string) Translated {
			return Translated{
				UserMessage:      fmt.Sprintf("The branch '%s' has changes that haven't been merged yet.", m[1]),
				SuggestedActions: []string{"Merge or push the branch before deleting it", "Or delete it anyway if you're sure"},
				Severity:         SeverityWarning,
				Category:         CategoryGitOperation,
			}
		},
	},
}
