package github

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/google/go-github/v50/github"
)

func errorResponse(status string, code int, messages ...string) *github.ErrorResponse {
	resp := &github.ErrorResponse{
		Response: &http.Response{
			StatusCode: code,
			Request:    &http.Request{Method: http.MethodPost, URL: &url.URL{Path: "/repos/o/r/pulls"}},
		},
		Message: status,
	}
	for _, m := range messages {
		resp.Errors = append(resp.Errors, github.Error{Message: m})
	}
	return resp
}

func TestParseRepositoryURL(t *testing.T) {
	tests := []struct {
		input string
		owner string
		repo  string
	}{
		{"https://github.com/octocat/hello-world", "octocat", "hello-world"},
		{"https://github.com/octocat/hello-world.git", "octocat", "hello-world"},
		{"https://github.com/octocat/hello-world/", "octocat", "hello-world"},
		{"git@github.com:octocat/hello-world.git", "octocat", "hello-world"},
		{"github.com/octocat/hello-world", "octocat", "hello-world"},
		{"octocat/hello-world", "octocat", "hello-world"},
		{"  octocat/hello-world  ", "octocat", "hello-world"},
	}
	for _, tt := range tests {
		owner, repo, err := ParseRepositoryURL(tt.input)
		if err != nil {
			t.Errorf("ParseRepositoryURL(%q) error: %v", tt.input, err)
			continue
		}
		if owner != tt.owner || repo != tt.repo {
			t.Errorf("ParseRepositoryURL(%q) = %s/%s, want %s/%s", tt.input, owner, repo, tt.owner, tt.repo)
		}
	}

	invalid := []string{
		"",
		"hello-world",
		"https://gitlab.com/octocat/hello-world",
		"ftp://github.com/octocat",
		"/octocat",
	}
	for _, input := range invalid {
		if _, _, err := ParseRepositoryURL(input); err == nil {
			t.Errorf("ParseRepositoryURL(%q) should fail", input)
		}
	}
}

func TestIsAlreadyExists(t *testing.T) {
	ghErr := errorResponse("Validation Failed", http.StatusUnprocessableEntity,
		"A pull request already exists for octocat:feature/x.")
	if !IsAlreadyExists(ghErr) {
		t.Error("422 with already-exists message should match")
	}

	otherGhErr := errorResponse("Validation Failed", http.StatusUnprocessableEntity, "base invalid")
	if IsAlreadyExists(otherGhErr) {
		t.Error("unrelated 422 should not match")
	}

	if IsAlreadyExists(nil) {
		t.Error("nil error should not match")
	}
	if IsAlreadyExists(errors.New("network unreachable")) {
		t.Error("unrelated error should not match")
	}
}

func TestWrapAPIErrorRateLimit(t *testing.T) {
	err := wrapAPIError("failed to list repositories", &github.RateLimitError{})
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("rate limit not normalized: %v", err)
	}

	err = wrapAPIError("failed to create pull request", &github.AbuseRateLimitError{})
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("secondary rate limit not normalized: %v", err)
	}

	plain := errors.New("boom")
	err = wrapAPIError("failed", plain)
	if !errors.Is(err, plain) {
		t.Errorf("cause not wrapped: %v", err)
	}
}
