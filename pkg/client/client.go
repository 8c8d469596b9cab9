package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is the API client for the CI v3 API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new API client. An empty token makes anonymous requests.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is the error envelope returned by the API
type APIError struct {
	StatusCode   int    `json:"-"`
	Type         string `json:"error_type"`
	Message      string `json:"error_message"`
	ResourceType string `json:"resource_type,omitempty"`
	Permission   string `json:"permission,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Type, e.Message)
}

// Link is one navigation link of a paginated response
type Link struct {
	Href   string `json:"@href"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

// Pagination is the "@pagination" block of a collection
type Pagination struct {
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	Count   int   `json:"count"`
	IsFirst bool  `json:"is_first"`
	IsLast  bool  `json:"is_last"`
	Next    *Link `json:"next"`
	Prev    *Link `json:"prev"`
	First   *Link `json:"first"`
	Last    *Link `json:"last"`
}

// Repository is a rendered repository
type Repository struct {
	Href      string `json:"@href"`
	ID        int64  `json:"id"`
	Slug      string `json:"slug"`
	Name      string `json:"name,omitempty"`
	OwnerName string `json:"owner_name,omitempty"`
	Private   bool   `json:"private,omitempty"`
}

// Branch is a rendered branch
type Branch struct {
	Href           string      `json:"@href"`
	Name           string      `json:"name"`
	Repository     *Repository `json:"repository,omitempty"`
	ExistsOnGitHub bool        `json:"exists_on_github,omitempty"`
	LastBuild      *struct {
		Href string `json:"@href"`
	} `json:"last_build"`
}

// Commit is the commit embedded in a build
type Commit struct {
	ID          int64      `json:"id"`
	Sha         string     `json:"sha"`
	Ref         string     `json:"ref"`
	Message     string     `json:"message"`
	CompareURL  string     `json:"compare_url"`
	CommittedAt *time.Time `json:"committed_at"`
}

// Build is a rendered build
type Build struct {
	Href          string      `json:"@href"`
	ID            int64       `json:"id"`
	Number        string      `json:"number"`
	State         string      `json:"state"`
	Duration      *int64      `json:"duration"`
	EventType     string      `json:"event_type"`
	PreviousState string      `json:"previous_state"`
	StartedAt     *time.Time  `json:"started_at"`
	FinishedAt    *time.Time  `json:"finished_at"`
	Repository    *Repository `json:"repository"`
	Branch        *Branch     `json:"branch"`
	Commit        *Commit     `json:"commit"`
}

// Cron is a rendered cron
type Cron struct {
	Href                 string      `json:"@href"`
	ID                   int64       `json:"id"`
	Repository           *Repository `json:"repository"`
	Branch               *Branch     `json:"branch"`
	Interval             string      `json:"interval"`
	RunOnlyWhenNewCommit bool        `json:"run_only_when_new_commit"`
	LastRun              *time.Time  `json:"last_run"`
	NextRun              *time.Time  `json:"next_run"`
	CreatedAt            *time.Time  `json:"created_at"`
}

// Setting is a rendered repository setting
type Setting struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// BuildsPage is one page of builds
type BuildsPage struct {
	Href       string     `json:"@href"`
	Pagination Pagination `json:"@pagination"`
	Builds     []*Build   `json:"builds"`
}

// CronsPage is one page of crons
type CronsPage struct {
	Href       string     `json:"@href"`
	Pagination Pagination `json:"@pagination"`
	Crons      []*Cron    `json:"crons"`
}

// ListOptions selects a page and filter for listings
type ListOptions struct {
	Limit      int
	Offset     int
	BranchName string
}

func (o ListOptions) values() url.Values {
	params := url.Values{}
	if o.Limit > 0 {
		params.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		params.Set("offset", strconv.Itoa(o.Offset))
	}
	if o.BranchName != "" {
		params.Set("branch.name", o.BranchName)
	}
	return params
}

// repoPath addresses a repository by numeric id or owner/name slug
func repoPath(repo string) string {
	return "/v3/repo/" + url.PathEscape(repo)
}

// GetRepository retrieves a repository
func (c *Client) GetRepository(ctx context.Context, repo string) (*Repository, error) {
	var response Repository
	if err := c.do(ctx, http.MethodGet, repoPath(repo), nil, nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// ListBuilds retrieves one page of a repository's builds
func (c *Client) ListBuilds(ctx context.Context, repo string, opts ListOptions) (*BuildsPage, error) {
	var response BuildsPage
	if err := c.do(ctx, http.MethodGet, repoPath(repo)+"/builds", opts.values(), nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// GetBranch retrieves a branch of a repository
func (c *Client) GetBranch(ctx context.Context, repo, branch string) (*Branch, error) {
	var response Branch
	path := repoPath(repo) + "/branch/" + url.PathEscape(branch)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// GetBranchCron retrieves the cron of a branch
func (c *Client) GetBranchCron(ctx context.Context, repo, branch string) (*Cron, error) {
	var response Cron
	path := repoPath(repo) + "/branch/" + url.PathEscape(branch) + "/cron"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// CreateCron creates or replaces the cron of a branch
func (c *Client) CreateCron(ctx context.Context, repo, branch, interval string, runOnlyWhenNewCommit bool) (*Cron, error) {
	body := map[string]interface{}{
		"interval":                 interval,
		"run_only_when_new_commit": runOnlyWhenNewCommit,
	}
	var response Cron
	path := repoPath(repo) + "/branch/" + url.PathEscape(branch) + "/cron"
	if err := c.do(ctx, http.MethodPost, path, nil, body, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// GetCron retrieves a cron by id
func (c *Client) GetCron(ctx context.Context, id int64) (*Cron, error) {
	var response Cron
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v3/cron/%d", id), nil, nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// DeleteCron deletes a cron by id
func (c *Client) DeleteCron(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/v3/cron/%d", id), nil, nil, nil)
}

// ListCrons retrieves one page of a repository's crons
func (c *Client) ListCrons(ctx context.Context, repo string, opts ListOptions) (*CronsPage, error) {
	var response CronsPage
	if err := c.do(ctx, http.MethodGet, repoPath(repo)+"/crons", opts.values(), nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// ListSettings retrieves a repository's settings
func (c *Client) ListSettings(ctx context.Context, repo string) ([]*Setting, error) {
	var response struct {
		Settings []*Setting `json:"settings"`
	}
	if err := c.do(ctx, http.MethodGet, repoPath(repo)+"/settings", nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Settings, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, result interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Type = "unknown"
			apiErr.Message = string(data)
		}
		return apiErr
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}
