// Package forge reads repository state from GitHub for use as prompt
// context.
package forge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v69/github"
)

// DefaultLimit is how many issues a source lists when no limit is set.
const DefaultLimit = 20

// lowRateLimit is the remaining-call count below which a warning is
// logged.
const lowRateLimit = 100

// Issue is the subset of a GitHub issue rendered into prompts.
type Issue struct {
	Number    int
	Title     string
	State     string
	Author    string
	Labels    []string
	Comments  int
	URL       string
	UpdatedAt time.Time
}

// Client wraps the go-github client.
type Client struct {
	gh     *gogithub.Client
	logger *slog.Logger
}

// New returns a client authenticated with token. A non-empty baseURL
// targets a GitHub Enterprise server. A nil httpClient uses
// http.DefaultClient and a nil logger falls back to slog.Default.
func New(httpClient *http.Client, token, baseURL string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	gh := gogithub.NewClient(httpClient)
	if token != "" {
		gh = gh.WithAuthToken(token)
	}
	if baseURL != "" {
		var err error
		gh, err = gh.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("forge: enterprise url: %w", err)
		}
	}
	return &Client{gh: gh, logger: logger.With("component", "forge")}, nil
}

// splitRepo splits "owner/repo".
func splitRepo(repo string) (string, string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repo %q: expected owner/repo", repo)
	}
	return owner, name, nil
}

// OpenIssues returns up to limit open issues of repo, most recently
// updated first. Pull requests, which the issues endpoint also
// returns, are skipped.
func (c *Client) OpenIssues(ctx context.Context, repo string, limit int) ([]*Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	opts := &gogithub.IssueListByRepoOptions{
		State:       "open",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gogithub.ListOptions{PerPage: min(limit, 100)},
	}
	results, resp, err := c.gh.Issues.ListByRepo(ctx, owner, name, opts)
	if err != nil {
		return nil, fmt.Errorf("forge: list issues: %w", err)
	}
	c.checkRateLimit(resp)

	issues := make([]*Issue, 0, len(results))
	for _, r := range results {
		if r.IsPullRequest() {
			continue
		}
		issues = append(issues, convertIssue(r))
		if len(issues) == limit {
			break
		}
	}
	return issues, nil
}

func (c *Client) checkRateLimit(resp *gogithub.Response) {
	if resp == nil || resp.Rate.Limit == 0 {
		return
	}
	if resp.Rate.Remaining < lowRateLimit {
		c.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset", resp.Rate.Reset.Time,
		)
	}
}

func convertIssue(i *gogithub.Issue) *Issue {
	out := &Issue{
		Number:    i.GetNumber(),
		Title:     i.GetTitle(),
		State:     i.GetState(),
		Author:    i.GetUser().GetLogin(),
		Comments:  i.GetComments(),
		URL:       i.GetHTMLURL(),
		UpdatedAt: i.GetUpdatedAt().Time,
	}
	for _, l := range i.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	return out
}
