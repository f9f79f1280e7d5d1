// Package forge implements core.ForgeClient against the real
// GitHub and GitLab REST APIs, dispatching by the host embedded in a
// task's repo_url.
package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/taskforge/taskforge/internal/config"
	"github.com/taskforge/taskforge/internal/core"
)

// Client is the concrete core.ForgeClient: GitHub pull requests via
// google/go-github, GitLab merge requests via a small REST client
// (the pack carries no GitLab SDK, so this one host's calls are
// hand-rolled net/http — see DESIGN.md).
type Client struct {
	githubToken string
	gitlabToken string
	gitlabHost  string // defaults to gitlab.com; overridable for self-hosted instances

	httpClient    *http.Client
	githubBaseURL *url.URL // overridden in tests to point at an httptest.Server
}

// Option configures a Client.
type Option func(*Client)

// WithGitLabHost overrides the GitLab host used for self-hosted
// instances (default "gitlab.com").
func WithGitLabHost(host string) Option {
	return func(c *Client) { c.gitlabHost = host }
}

// WithHTTPClient overrides the underlying HTTP client (tests inject a
// client pointed at an httptest.Server).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithGitHubBaseURL points GitHub API calls at an alternate base URL
// (tests inject an httptest.Server URL).
func WithGitHubBaseURL(base *url.URL) Option {
	return func(c *Client) { c.githubBaseURL = base }
}

// NewClient builds a Client from the operator's configured forge
// tokens (internal/secrets may override these per-task at call time
// via RewriteRemoteWithToken; these are only the fallback tokens used
// to authenticate PR-creation API calls themselves).
func NewClient(cfg config.ForgeConfig, opts ...Option) *Client {
	c := &Client{
		githubToken: cfg.GitHubToken,
		gitlabToken: cfg.GitLabToken,
		gitlabHost:  "gitlab.com",
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreatePR opens a pull (GitHub) or merge (GitLab) request from branch
// onto targetBranch and returns its web URL.
func (c *Client) CreatePR(ctx context.Context, repoURL, branch, targetBranch, title, body string) (string, error) {
	host, owner, repo, err := parseRepoURL(repoURL)
	if err != nil {
		return "", core.ErrValidation("INVALID_REPO_URL", err.Error())
	}

	switch {
	case isGitHubHost(host):
		return c.createGitHubPR(ctx, owner, repo, branch, targetBranch, title, body)
	case isGitLabHost(host, c.gitlabHost):
		return c.createGitLabMR(ctx, owner, repo, branch, targetBranch, title, body)
	default:
		return "", core.ErrValidation("UNSUPPORTED_FORGE", fmt.Sprintf("unrecognized forge host %q", host))
	}
}

// ListPRComments lists the discussion comments on an already-open
// pull/merge request, identified by its web URL.
func (c *Client) ListPRComments(ctx context.Context, prURL string) ([]core.PRComment, error) {
	u, err := url.Parse(prURL)
	if err != nil {
		return nil, core.ErrValidation("INVALID_PR_URL", err.Error())
	}

	switch {
	case isGitHubHost(u.Host):
		return c.listGitHubComments(ctx, u)
	case isGitLabHost(u.Host, c.gitlabHost):
		return c.listGitLabComments(ctx, u)
	default:
		return nil, core.ErrValidation("UNSUPPORTED_FORGE", fmt.Sprintf("unrecognized forge host %q", u.Host))
	}
}

// RewriteRemoteWithToken embeds token as the HTTPS basic-auth user in
// repoURL so a push can authenticate without touching the on-disk
// remote config (the caller restores the original URL after pushing).
func (c *Client) RewriteRemoteWithToken(repoURL, token string) string {
	u, err := url.Parse(repoURL)
	if err != nil || token == "" {
		return repoURL
	}

	// GitLab's convention for token-authenticated HTTPS is a dummy
	// "oauth2" username; GitHub accepts the PAT as a bare username.
	if isGitLabHost(u.Host, c.gitlabHost) {
		u.User = url.UserPassword("oauth2", token)
	} else {
		u.User = url.User(token)
	}
	return u.String()
}

func isGitHubHost(host string) bool {
	return strings.EqualFold(host, "github.com")
}

func isGitLabHost(host, configuredHost string) bool {
	return strings.EqualFold(host, "gitlab.com") || (configuredHost != "" && strings.EqualFold(host, configuredHost))
}

// parseRepoURL extracts (host, owner, repo) from either HTTPS
// (https://host/owner/repo.git) or SSH (git@host:owner/repo.git) forms.
func parseRepoURL(repoURL string) (host, owner, repo string, err error) {
	if strings.HasPrefix(repoURL, "git@") {
		rest := strings.TrimPrefix(repoURL, "git@")
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			return "", "", "", fmt.Errorf("malformed SSH repo URL %q", repoURL)
		}
		host = parts[0]
		return host, splitOwnerRepo(parts[1])
	}

	u, parseErr := url.Parse(repoURL)
	if parseErr != nil || u.Host == "" {
		return "", "", "", fmt.Errorf("malformed repo URL %q", repoURL)
	}
	owner, repo, err = splitOwnerRepo(strings.TrimPrefix(u.Path, "/"))
	return u.Host, owner, repo, err
}

func splitOwnerRepo(path string) (owner, repo string, err error) {
	path = strings.TrimSuffix(path, ".git")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected owner/repo path, got %q", path)
	}
	return parts[0], parts[1], nil
}

func (c *Client) githubClient() *github.Client {
	var hc *http.Client
	if c.githubToken != "" {
		hc = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.githubToken}))
	} else {
		hc = c.httpClient
	}
	gh := github.NewClient(hc)
	if c.githubBaseURL != nil {
		gh.BaseURL = c.githubBaseURL
	}
	return gh
}

func (c *Client) createGitHubPR(ctx context.Context, owner, repo, branch, targetBranch, title, body string) (string, error) {
	gh := c.githubClient()
	pr, _, err := gh.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.Ptr(title),
		Head:  github.Ptr(branch),
		Base:  github.Ptr(targetBranch),
		Body:  github.Ptr(body),
	})
	if err != nil {
		return "", core.ErrBackendFailure("github pull request creation failed", err)
	}
	return pr.GetHTMLURL(), nil
}

func (c *Client) listGitHubComments(ctx context.Context, prURL *url.URL) ([]core.PRComment, error) {
	owner, repo, number, err := parseGitHubPRPath(prURL.Path)
	if err != nil {
		return nil, core.ErrValidation("INVALID_PR_URL", err.Error())
	}

	gh := c.githubClient()
	issueComments, _, err := gh.Issues.ListComments(ctx, owner, repo, number, nil)
	if err != nil {
		return nil, core.ErrBackendFailure("github comment listing failed", err)
	}

	out := make([]core.PRComment, 0, len(issueComments))
	for _, ic := range issueComments {
		out = append(out, core.PRComment{
			Author:    ic.GetUser().GetLogin(),
			Body:      ic.GetBody(),
			CreatedAt: ic.GetCreatedAt().Time,
		})
	}
	return out, nil
}

func parseGitHubPRPath(path string) (owner, repo string, number int, err error) {
	// /owner/repo/pull/123
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 4 || parts[2] != "pull" {
		return "", "", 0, fmt.Errorf("expected /owner/repo/pull/N, got %q", path)
	}
	n, convErr := strconv.Atoi(parts[3])
	if convErr != nil {
		return "", "", 0, fmt.Errorf("invalid PR number in %q: %w", path, convErr)
	}
	return parts[0], parts[1], n, nil
}

// gitlabMR is the subset of the GitLab merge_requests response this
// package needs.
type gitlabMR struct {
	WebURL string `json:"web_url"`
}

type gitlabNote struct {
	Body   string `json:"body"`
	Author struct {
		Username string `json:"username"`
	} `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	System    bool      `json:"system"`
}

func (c *Client) createGitLabMR(ctx context.Context, owner, repo, branch, targetBranch, title, body string) (string, error) {
	project := url.PathEscape(owner + "/" + repo)
	endpoint := fmt.Sprintf("https://%s/api/v4/projects/%s/merge_requests", c.gitlabHost, project)

	payload, err := json.Marshal(map[string]string{
		"source_branch": branch,
		"target_branch": targetBranch,
		"title":         title,
		"description":   body,
	})
	if err != nil {
		return "", err
	}

	var mr gitlabMR
	if err := c.gitlabRequest(ctx, http.MethodPost, endpoint, payload, &mr); err != nil {
		return "", err
	}
	return mr.WebURL, nil
}

func (c *Client) listGitLabComments(ctx context.Context, prURL *url.URL) ([]core.PRComment, error) {
	project, iid, err := parseGitLabMRPath(prURL.Path)
	if err != nil {
		return nil, core.ErrValidation("INVALID_PR_URL", err.Error())
	}

	endpoint := fmt.Sprintf("https://%s/api/v4/projects/%s/merge_requests/%s/notes", c.gitlabHost, url.PathEscape(project), iid)

	var notes []gitlabNote
	if err := c.gitlabRequest(ctx, http.MethodGet, endpoint, nil, &notes); err != nil {
		return nil, err
	}

	out := make([]core.PRComment, 0, len(notes))
	for _, n := range notes {
		if n.System {
			continue // skip GitLab's auto-generated "changed the description" notes
		}
		out = append(out, core.PRComment{Author: n.Author.Username, Body: n.Body, CreatedAt: n.CreatedAt})
	}
	return out, nil
}

func parseGitLabMRPath(path string) (project, iid string, err error) {
	// /owner/repo/-/merge_requests/123
	idx := strings.Index(path, "/-/merge_requests/")
	if idx < 0 {
		return "", "", fmt.Errorf("expected .../-/merge_requests/N, got %q", path)
	}
	project = strings.Trim(path[:idx], "/")
	iid = strings.TrimPrefix(path[idx+len("/-/merge_requests/"):], "/")
	iid = strings.TrimSuffix(iid, "/")
	if project == "" || iid == "" {
		return "", "", fmt.Errorf("malformed merge request path %q", path)
	}
	return project, iid, nil
}

func (c *Client) gitlabRequest(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("PRIVATE-TOKEN", c.gitlabToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.ErrBackendFailure("gitlab request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return core.ErrBackendFailure(fmt.Sprintf("gitlab API returned %d: %s", resp.StatusCode, respBody), nil)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

var _ core.ForgeClient = (*Client)(nil)
