package forge

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/daedalus/internal/turn"
)

// IssuesSource lists a repository's open issues as fragment content.
type IssuesSource struct {
	client *Client
	repo   string
	limit  int
}

// NewIssuesSource returns a source for repo ("owner/repo").
func NewIssuesSource(c *Client, repo string, limit int) *IssuesSource {
	return &IssuesSource{client: c, repo: repo, limit: limit}
}

// Gather renders one line per issue.
func (s *IssuesSource) Gather(ctx context.Context, _ *turn.Context) (string, error) {
	issues, err := s.client.OpenIssues(ctx, s.repo, s.limit)
	if err != nil {
		return "", err
	}
	if len(issues) == 0 {
		return "No open issues in " + s.repo + ".", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Open issues in %s:", s.repo)
	for _, i := range issues {
		fmt.Fprintf(&sb, "\n- #%d %s", i.Number, i.Title)
		if len(i.Labels) > 0 {
			fmt.Fprintf(&sb, " [%s]", strings.Join(i.Labels, ", "))
		}
		if i.Author != "" {
			fmt.Fprintf(&sb, " (@%s)", i.Author)
		}
	}
	return sb.String(), nil
}
