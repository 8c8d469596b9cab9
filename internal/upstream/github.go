package upstream

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"

	"github.com/kurihiro0119/ci-api/internal/domain"
)

// lowRateBudget is the remaining request count below which every response is logged
const lowRateBudget = 100

// githubChecker asks the GitHub API whether refs/heads/<branch> exists
type githubChecker struct {
	client      *github.Client
	rateLimiter RateLimiter
}

// NewGitHubChecker creates a Checker backed by the GitHub API.
// baseURL overrides the API endpoint for GitHub Enterprise; empty means api.github.com.
func NewGitHubChecker(token, baseURL string) (Checker, error) {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	client := github.NewClient(oauth2.NewClient(ctx, ts))

	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL %q: %w", baseURL, err)
		}
		client.BaseURL = u
	}

	return &githubChecker{
		client:      client,
		rateLimiter: NewRateLimiter(100 * time.Millisecond),
	}, nil
}

// BranchExists reports whether the branch ref resolves on GitHub
func (c *githubChecker) BranchExists(ctx context.Context, repo *domain.Repository, branch *domain.Branch) (bool, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return false, err
	}

	_, resp, err := c.client.Git.GetRef(ctx, repo.OwnerName, repo.Name, "heads/"+branch.Name)
	c.updateRateLimitFromResponse(resp)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to get ref heads/%s for %s: %w", branch.Name, repo.Slug(), err)
	}
	return true, nil
}

// updateRateLimitFromResponse updates the rate limiter from API response
func (c *githubChecker) updateRateLimitFromResponse(resp *github.Response) {
	if resp != nil && resp.Rate.Limit > 0 {
		c.rateLimiter.UpdateLimit(resp.Rate.Remaining, resp.Rate.Reset.Time)
	}
	if remaining, reset := c.rateLimiter.CheckLimit(); remaining < lowRateBudget {
		log.Printf("GitHub rate budget low: %d requests remaining until %s", remaining, reset.Format(time.RFC3339))
	}
}
