// Package fetch downloads web pages and reduces them to readable text,
// either as a context fragment re-fetched when its TTL expires or as
// the fetch_url tool the model can call.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/daedalus/internal/httpkit"
)

const (
	// DefaultTimeout bounds a single page fetch.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBytes caps how much of a response body is read.
	DefaultMaxBytes int64 = 5 << 20

	// DefaultMaxChars caps the extracted text, in runes.
	DefaultMaxChars = 8000
)

// Page is the readable content of one fetched URL.
type Page struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Text        string `json:"text"`
	ContentType string `json:"content_type,omitempty"`
	StatusCode  int    `json:"status_code"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// Fetcher downloads pages and extracts their text.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

// Option configures a [Fetcher].
type Option func(*Fetcher)

// WithClient replaces the HTTP client.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithMaxBytes overrides [DefaultMaxBytes].
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) { f.maxBytes = n }
}

// New returns a Fetcher. A nil logger falls back to slog.Default.
func New(logger *slog.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fetcher{
		maxBytes: DefaultMaxBytes,
		logger:   logger.With("component", "fetch"),
	}
	for _, o := range opts {
		o(f)
	}
	if f.client == nil {
		f.client = httpkit.NewClient(
			httpkit.WithTimeout(DefaultTimeout),
			httpkit.WithRetry(1, time.Second),
			httpkit.WithLogger(f.logger),
		)
	}
	return f
}

// Fetch downloads rawURL and returns its readable text, truncated to
// maxChars runes (zero means [DefaultMaxChars]). A URL without a scheme
// is fetched over https. Non-2xx responses are errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Page, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("fetch: url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: invalid url: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("fetch %s: status %d: %s", rawURL, resp.StatusCode, body)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", rawURL, err)
	}

	page := &Page{
		URL:         rawURL,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}
	switch {
	case isHTML(page.ContentType):
		page.Title, page.Text = extractHTML(body)
	case utf8.Valid(body):
		page.Text = strings.TrimSpace(string(body))
	default:
		page.Text = fmt.Sprintf("[binary content: %s, %d bytes]", page.ContentType, len(body))
	}
	page.Text, page.Truncated = truncate(page.Text, maxChars)

	f.logger.Debug("page fetched",
		"url", rawURL,
		"status", resp.StatusCode,
		"bytes", len(body),
		"chars", utf8.RuneCountInString(page.Text),
		"truncated", page.Truncated,
		"elapsed", time.Since(start),
	)
	return page, nil
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) (string, bool) {
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}
