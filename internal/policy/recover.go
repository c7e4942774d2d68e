package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/gitflow-ai/gitflow-mcp/internal/gitcli"
	"github.com/gitflow-ai/gitflow-mcp/internal/logging"
)

// ErrSecretStillPresent is returned when a retry after remediation is
// rejected again by push protection.
var ErrSecretStillPresent = errors.New("push rejected again: a secret is still present in the commit")

// SanitizeResult records the outcome of unwinding the flagged commit.
type SanitizeResult struct {
	Success bool
	Method  string
}

// RecoveryPlan is what a rejected push turns into: the parsed violation,
// the sanitize outcome, and the steps the user must take before a retry.
type RecoveryPlan struct {
	Parsed   ParsedViolation
	Sanitize SanitizeResult
	Steps    []string
}

// SanitizeHistory unwinds the most recent commit with a soft reset so
// the flagged changes return to the working tree for editing. Nothing is
// lost; the user fixes the files and commits again.
func SanitizeHistory(ctx context.Context, driver *gitcli.Driver) (SanitizeResult, error) {
	if err := driver.Reset(ctx, gitcli.ResetSoft, "HEAD~1"); err != nil {
		return SanitizeResult{Method: "soft-reset"}, fmt.Errorf("failed to unwind flagged commit: %w", err)
	}
	return SanitizeResult{Success: true, Method: "soft-reset"}, nil
}

// RetryPushSafely retries a previously rejected push. Force-with-lease is
// the only force mode used so a concurrently updated remote is never
// clobbered. A repeat rejection means the secret survived remediation.
func RetryPushSafely(ctx context.Context, driver *gitcli.Driver, branch string) (gitcli.PushResult, error) {
	result, err := driver.Push(ctx, branch, gitcli.PushOptions{ForceWithLease: true})
	if err != nil {
		return result, err
	}
	if result.PolicyRejected {
		return result, ErrSecretStillPresent
	}
	return result, nil
}

// HandlePushRejection turns a raw push-protection rejection into a
// recovery plan: parse the violation, soft-reset the flagged commit, and
// hand the user concrete remediation steps. The sanitize step failing is
// reported inside the plan rather than aborting it; the parse result is
// still useful on its own.
func HandlePushRejection(ctx context.Context, driver *gitcli.Driver, remoteMessage string) RecoveryPlan {
	parsed := ParseViolation(remoteMessage)

	sanitize, err := SanitizeHistory(ctx, driver)
	if err != nil {
		logging.Logger.Warn("could not unwind flagged commit",
			"path", driver.Path(), "error", gitcli.Scrub(err.Error()))
	}

	return RecoveryPlan{
		Parsed:   parsed,
		Sanitize: sanitize,
		Steps:    parsed.Steps(),
	}
}
