// Package github is a thin typed layer over the GitHub REST API. Every
// client is bound to one user's OAuth token; nothing here touches the
// local working tree.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v50/github"
	"golang.org/x/oauth2"
)

const requestTimeout = 10 * time.Second

// ErrRateLimited is returned when GitHub throttles the request. The
// caller should back off rather than retry immediately.
var ErrRateLimited = errors.New("github API rate limit exceeded")

// Client handles GitHub API operations for a single authenticated user.
type Client struct {
	client *github.Client
}

// NewClient builds a client around the user's OAuth access token.
func NewClient(ctx context.Context, accessToken string) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	return &Client{client: github.NewClient(oauth2.NewClient(ctx, ts))}
}

// NewClientWithBaseURL points the client at a non-default API endpoint,
// for GitHub Enterprise deployments.
func NewClientWithBaseURL(ctx context.Context, accessToken, baseURL string) (*Client, error) {
	c := NewClient(ctx, accessToken)
	if baseURL == "" {
		return c, nil
	}
	// go-github requires the trailing slash.
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub API base URL: %w", err)
	}
	c.client.BaseURL = parsed
	return c, nil
}

// ListOptions controls repository listing.
type ListOptions struct {
	Page    int
	PerPage int
	Sort    string // created, updated, pushed, full_name
	Org     string // restrict to one organization when set
}

// ListRepositories returns the repositories the user can access, newest
// activity first unless the caller picks another sort.
func (c *Client) ListRepositories(ctx context.Context, opts ListOptions) ([]*github.Repository, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	page := opts.Page
	if page < 1 {
		page = 1
	}
	perPage := opts.PerPage
	if perPage < 1 || perPage > 100 {
		perPage = 30
	}
	sort := opts.Sort
	if sort == "" {
		sort = "updated"
	}

	if opts.Org != "" {
		repos, _, err := c.client.Repositories.ListByOrg(ctx, opts.Org, &github.RepositoryListByOrgOptions{
			Sort:        sort,
			ListOptions: github.ListOptions{Page: page, PerPage: perPage},
		})
		if err != nil {
			return nil, wrapAPIError("failed to list organization repositories", err)
		}
		return repos, nil
	}

	repos, _, err := c.client.Repositories.List(ctx, "", &github.RepositoryListOptions{
		Sort:        sort,
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	})
	if err != nil {
		return nil, wrapAPIError("failed to list repositories", err)
	}
	return repos, nil
}

// GetRepository retrieves repository information.
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*github.Repository, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	repository, _, err := c.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, wrapAPIError(fmt.Sprintf("failed to get repository %s/%s", owner, repo), err)
	}
	return repository, nil
}

// GetAuthenticatedUser returns the profile of the token's owner.
func (c *Client) GetAuthenticatedUser(ctx context.Context) (*github.User, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	user, _, err := c.client.Users.Get(ctx, "")
	if err != nil {
		return nil, wrapAPIError("failed to get authenticated user", err)
	}
	return user, nil
}

// PullRequestInput describes the pull request to open.
type PullRequestInput struct {
	Title string
	Body  string
	Head  string // source branch
	Base  string // target branch, usually the default branch
	Draft bool
}

// CreatePullRequest opens a pull request from head into base.
func (c *Client) CreatePullRequest(ctx context.Context, owner, repo string, input PullRequestInput) (*github.PullRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	pr, _, err := c.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(input.Title),
		Body:  github.String(input.Body),
		Head:  github.String(input.Head),
		Base:  github.String(input.Base),
		Draft: github.Bool(input.Draft),
	})
	if err != nil {
		return nil, wrapAPIError("failed to create pull request", err)
	}
	return pr, nil
}

// FindOpenPR returns the open pull request whose source is head, or nil
// when none exists. Used when PR creation reports "already exists".
func (c *Client) FindOpenPR(ctx context.Context, owner, repo, head string) (*github.PullRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	prs, _, err := c.client.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		State:       "open",
		Head:        owner + ":" + head,
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return nil, wrapAPIError("failed to list pull requests", err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return prs[0], nil
}

// IsAlreadyExists reports whether a pull-request creation failed because
// an open PR for the branch already exists.
func IsAlreadyExists(err error) bool {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusUnprocessableEntity {
		for _, e := range ghErr.Errors {
			if strings.Contains(strings.ToLower(e.Message), "already exists") {
				return true
			}
		}
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists")
}

// wrapAPIError normalizes rate-limit responses and annotates the rest.
func wrapAPIError(msg string, err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("%s: %w (resets %s)", msg, ErrRateLimited, rateErr.Rate.Reset.Time.Format(time.RFC3339))
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return fmt.Errorf("%s: %w (secondary limit)", msg, ErrRateLimited)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// ParseRepositoryURL parses a GitHub repository reference and extracts
// owner/repo. Accepts https, ssh, bare-domain, and owner/repo forms.
func ParseRepositoryURL(repoURL string) (owner, repo string, err error) {
	repoURL = strings.TrimSpace(repoURL)
	repoURL = strings.TrimSuffix(repoURL, "/")
	repoURL = strings.TrimSuffix(repoURL, ".git")

	for _, prefix := range []string{"https://github.com/", "git@github.com:", "github.com/"} {
		if strings.HasPrefix(repoURL, prefix) {
			parts := strings.Split(strings.TrimPrefix(repoURL, prefix), "/")
			if len(parts) >= 2 {
				return parts[0], parts[1], nil
			}
		}
	}

	if strings.Contains(repoURL, "/") && !strings.Contains(repoURL, "://") {
		parts := strings.Split(repoURL, "/")
		if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return parts[0], parts[1], nil
		}
	}

	return "", "", fmt.Errorf("invalid GitHub repository reference: %s", repoURL)
}
