package translate

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCatalogCategories(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		category Category
		severity Severity
	}{
		{"GH009", "remote: error: GH009: Secrets detected in commit", CategoryPushProtection, SeverityCritical},
		{"secret detected phrase", "push declined: secrets detected in config.js", CategoryPushProtection, SeverityCritical},
		{"GH013", "remote: error: GH013: Repository rule violations found", CategoryPushProtection, SeverityCritical},
		{"auth failed", "fatal: Authentication failed for 'https://github.com/o/r.git'", CategoryAuthentication, SeverityError},
		{"publickey", "git@github.com: Permission denied (publickey).", CategoryAuthentication, SeverityError},
		{"bad credentials", "401 Bad credentials", CategoryAuthentication, SeverityError},
		{"forbidden", "response: 403 Forbidden", CategoryAuthorization, SeverityError},
		{"non fast forward", "! [rejected] main -> main (non-fast-forward)", CategoryGitOperation, SeverityWarning},
		{"fetch first", "Updates were rejected because the remote contains work. fetch first", CategoryGitOperation, SeverityWarning},
		{"remote rejected", "error: failed to push some refs; remote rejected", CategoryGitOperation, SeverityError},
		{"merge conflict", "CONFLICT (content): Merge conflict in app/models/user.rb\nAutomatic merge failed", CategoryMergeConflict, SeverityError},
		{"local changes", "error: Your local changes to the following files would be overwritten by merge", CategoryMergeConflict, SeverityWarning},
		{"not a repo", "fatal: not a git repository (or any of the parent directories)", CategoryGitOperation, SeverityError},
		{"origin missing", "fatal: 'origin' does not appear to be a git repository", CategoryNetwork, SeverityError},
		{"pathspec", "error: pathspec 'feature/nope' did not match any file(s) known to git", CategoryGitOperation, SeverityError},
		{"lock ref", "error: cannot lock ref 'refs/heads/main': ref is at a different value", CategoryGitOperation, SeverityError},
		{"timeout wins over network", "fatal: unable to access 'https://github.com/o/r/': Operation timed out", CategoryNetwork, SeverityError},
		{"resolve host", "fatal: Could not resolve host: github.com", CategoryNetwork, SeverityError},
		{"ssl", "fatal: SSL certificate problem: unable to get local issuer certificate", CategoryNetwork, SeverityError},
		{"nothing to commit", "nothing to commit, working tree clean", CategoryGitOperation, SeverityInfo},
		{"up to date", "Already up to date.", CategoryGitOperation, SeverityInfo},
		{"branch exists", "fatal: a branch named 'feature/x' already exists", CategoryGitOperation, SeverityWarning},
		{"not fully merged", "error: the branch 'feature/x' is not fully merged", CategoryGitOperation, SeverityWarning},
		{"unknown", "some completely novel failure mode", CategoryUnknown, SeverityError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TranslateText(tt.text)
			if got.Category != tt.category {
				t.Errorf("category = %s, want %s", got.Category, tt.category)
			}
			if got.Severity != tt.severity {
				t.Errorf("severity = %s, want %s", got.Severity, tt.severity)
			}
			if got.UserMessage == "" {
				t.Error("empty user message")
			}
		})
	}
}

func TestBehindCountInterpolated(t *testing.T) {
	got := TranslateText("Your branch is 3 commits behind 'origin/main' and can be fast-forwarded.")
	if got.Category != CategoryGitOperation || got.Severity != SeverityWarning {
		t.Fatalf("unexpected record %+v", got)
	}
	if !strings.Contains(got.UserMessage, "3 commits behind") {
		t.Errorf("count not interpolated: %q", got.UserMessage)
	}
}

func TestConflictFilesUnion(t *testing.T) {
	text := strings.Join([]string{
		"CONFLICT (content): Merge conflict in app/one.go",
		"CONFLICT (content): Merge conflict in app/two.go",
		"both modified:   app/one.go",
		"both modified:   app/three.go",
		"Automatic merge failed; fix conflicts and then commit the result.",
	}, "\n")
	got := TranslateText(text)
	if got.Category != CategoryMergeConflict {
		t.Fatalf("category = %s", got.Category)
	}
	want := map[string]bool{"app/one.go": true, "app/two.go": true, "app/three.go": true}
	if len(got.AffectedFiles) != len(want) {
		t.Fatalf("affected files = %v", got.AffectedFiles)
	}
	for _, f := range got.AffectedFiles {
		if !want[f] {
			t.Errorf("unexpected file %q", f)
		}
	}
}

func TestPathspecQuoted(t *testing.T) {
	got := TranslateText("error: pathspec 'feature/missing' did not match any file(s) known to git")
	if !strings.Contains(got.UserMessage, "'feature/missing'") {
		t.Errorf("pathspec not quoted in %q", got.UserMessage)
	}
}

func TestTranslateNilAndUnknownError(t *testing.T) {
	if got := Translate(nil); got.Severity != SeverityInfo {
		t.Errorf("nil error should be info, got %s", got.Severity)
	}

	err := errors.New("flux capacitor misaligned")
	got := Translate(err)
	if got.Category != CategoryUnknown {
		t.Errorf("category = %s", got.Category)
	}
	if got.Original != err {
		t.Error("original error not retained")
	}
	if got.TechnicalDetails != err.Error() {
		t.Errorf("technical details = %q", got.TechnicalDetails)
	}
}

func TestPredicates(t *testing.T) {
	recoverable := []Category{CategoryAuthentication, CategoryNetwork, CategoryRateLimit, CategoryMergeConflict}
	for _, c := range recoverable {
		if !(Translated{Category: c}).IsRecoverable() {
			t.Errorf("%s should be recoverable", c)
		}
	}
	for _, c := range []Category{CategoryPushProtection, CategoryUnknown, CategoryGitOperation} {
		if (Translated{Category: c}).IsRecoverable() {
			t.Errorf("%s should not be recoverable", c)
		}
	}

	tr := Translated{Category: CategoryNetwork, SuggestedActions: []string{"first", "second"}}
	if !tr.IsCategory(CategoryNetwork) || tr.IsCategory(CategoryAuthentication) {
		t.Error("IsCategory mismatch")
	}
	if tr.PrimaryAction() != "first" {
		t.Errorf("PrimaryAction = %q", tr.PrimaryAction())
	}
	if (Translated{}).PrimaryAction() != "" {
		t.Error("PrimaryAction on empty record should be empty")
	}
}

func TestMarkdownHeadings(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityCritical, "Critical Error"},
		{SeverityError, "Error"},
		{SeverityWarning, "Warning"},
		{SeverityInfo, "Note"},
	}
	for _, tt := range tests {
		md := (Translated{Severity: tt.severity, UserMessage: "msg"}).Markdown()
		if !strings.Contains(md, tt.want) {
			t.Errorf("severity %s: heading %q missing in %q", tt.severity, tt.want, md)
		}
	}
}

func TestMarkdownTruncatesFileList(t *testing.T) {
	var files []string
	for i := 0; i < 8; i++ {
		files = append(files, fmt.Sprintf("file%d.go", i))
	}
	md := (Translated{
		Severity:      SeverityError,
		UserMessage:   "conflicts",
		AffectedFiles: files,
	}).Markdown()

	if !strings.Contains(md, "... and 3 more") {
		t.Errorf("missing truncation marker in %q", md)
	}
	if strings.Contains(md, "file5.go") {
		t.Error("files beyond the cap should not be listed")
	}
}
