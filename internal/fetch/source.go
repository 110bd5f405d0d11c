package fetch

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/nugget/daedalus/internal/tools"
	"github.com/nugget/daedalus/internal/turn"
)

// Source is a fragment source that fetches one fixed URL.
type Source struct {
	fetcher  *Fetcher
	url      string
	maxChars int
}

// NewSource returns a source for url. maxChars of zero means
// [DefaultMaxChars].
func NewSource(f *Fetcher, url string, maxChars int) *Source {
	return &Source{fetcher: f, url: url, maxChars: maxChars}
}

// Gather fetches the page and renders it with its title and URL.
func (s *Source) Gather(ctx context.Context, _ *turn.Context) (string, error) {
	p, err := s.fetcher.Fetch(ctx, s.url, s.maxChars)
	if err != nil {
		return "", err
	}
	return render(p), nil
}

func render(p *Page) string {
	head := p.URL
	if p.Title != "" {
		head = p.Title + " (" + p.URL + ")"
	}
	out := head + "\n" + p.Text
	if p.Truncated {
		out += "\n[truncated]"
	}
	return out
}

type fetchArgs struct {
	URL      string `json:"url" jsonschema:"The page to fetch. A bare host is fetched over https."`
	MaxChars int    `json:"max_chars,omitempty" jsonschema:"Maximum characters of text to return."`
}

// Tool returns the fetch_url tool.
func (f *Fetcher) Tool() (*tools.Tool, error) {
	params, err := jsonschema.For[fetchArgs](nil)
	if err != nil {
		return nil, fmt.Errorf("fetch_url schema: %w", err)
	}
	return &tools.Tool{
		Name:        "fetch_url",
		Description: "Fetch a web page and return its readable text.",
		Parameters:  params,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			url, _ := args["url"].(string)
			if url == "" {
				return "", fmt.Errorf("url is required")
			}
			maxChars := 0
			if v, ok := args["max_chars"].(float64); ok && v > 0 {
				maxChars = int(v)
			}
			p, err := f.Fetch(ctx, url, maxChars)
			if err != nil {
				f.logger.Warn("fetch_url failed", "url", url, "error", err)
				return "", err
			}
			f.logger.Debug("fetch_url", "url", p.URL, "title", p.Title)
			return render(p), nil
		},
	}, nil
}
