package gitcli

import (
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "Add login page", "add-login-page"},
		{"punctuation stripped", "Fix: crash on save!", "fix-crash-on-save"},
		{"collapses whitespace", "update   the \t readme", "update-the-readme"},
		{"trims edges", "  hello world  ", "hello-world"},
		{"keeps digits and hyphens", "bump v2-beta to 3", "bump-v2-beta-to-3"},
		{"empty", "", ""},
		{"only punctuation", "!!!", ""},
		{
			"truncated to 50",
			"Testing smart commit - auto-branching from master",
			"testing-smart-commit-auto-branching-from-master",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slugify(tt.input); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSlugifyLengthBound(t *testing.T) {
	long := strings.Repeat("very long commit message ", 20)
	if got := Slugify(long); len(got) > 50 {
		t.Errorf("slug length %d exceeds 50: %q", len(got), got)
	}
}

func TestSlugifyIdempotent(t *testing.T) {
	inputs := []string{
		"Add login page",
		"Fix: crash on save!",
		strings.Repeat("abc ", 30),
		"feature-new-dashboard",
		"UPPER Case Text 123",
	}
	for _, in := range inputs {
		once := Slugify(in)
		twice := Slugify(once)
		if once != twice {
			t.Errorf("Slugify not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestFeatureBranchName(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"Add login page", "feature/add-login-page"},
		{"feature: new dashboard", "feature/new-dashboard"},
		{"fix crash on save", "fix/crash-on-save"},
		{"hotfix broken deploy", "hotfix/broken-deploy"},
		{
			"Testing smart commit - auto-branching from master",
			"feature/testing-smart-commit-auto-branching-from-master",
		},
	}
	for _, tt := range tests {
		if got := FeatureBranchName(tt.message); got != tt.want {
			t.Errorf("FeatureBranchName(%q) = %q, want %q", tt.message, got, tt.want)
		}
	}
}

func TestIsProtectedBranch(t *testing.T) {
	for _, name := range []string{"main", "master", "develop", "development", "MAIN", "Master"} {
		if !IsProtectedBranch(name) {
			t.Errorf("expected %q to be protected", name)
		}
	}
	for _, name := range []string{"feature/x", "main-backup", "dev", ""} {
		if IsProtectedBranch(name) {
			t.Errorf("expected %q not to be protected", name)
		}
	}
}
