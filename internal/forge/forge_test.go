package forge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newTestClient returns a client pointed at an enterprise-style test
// server, so requests arrive under /api/v3/.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := New(ts.Client(), "test-token", ts.URL, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func issuesHandler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/owner/repo/issues", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer test-token")
		}
		if got := r.URL.Query().Get("state"); got != "open" {
			t.Errorf("state = %q, want open", got)
		}
		resp := []map[string]any{
			{
				"number": 7, "title": "Sensor drops offline", "state": "open",
				"user":   map[string]any{"login": "alice"},
				"labels": []map[string]any{{"name": "bug"}, {"name": "hardware"}},
			},
			{
				"number": 8, "title": "Add retry", "state": "open",
				"user":         map[string]any{"login": "bob"},
				"pull_request": map[string]any{"url": "https://example.com/pr/8"},
			},
			{
				"number": 9, "title": "Docs typo", "state": "open",
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func TestOpenIssues(t *testing.T) {
	c := newTestClient(t, issuesHandler(t))

	issues, err := c.OpenIssues(context.Background(), "owner/repo", 0)
	if err != nil {
		t.Fatalf("OpenIssues: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("got %d issues, want 2 (pull request skipped)", len(issues))
	}
	first := issues[0]
	if first.Number != 7 || first.Author != "alice" || len(first.Labels) != 2 {
		t.Errorf("first issue = %+v", first)
	}
	if issues[1].Number != 9 {
		t.Errorf("second issue = #%d, want #9", issues[1].Number)
	}
}

func TestOpenIssues_Limit(t *testing.T) {
	c := newTestClient(t, issuesHandler(t))
	issues, err := c.OpenIssues(context.Background(), "owner/repo", 1)
	if err != nil {
		t.Fatalf("OpenIssues: %v", err)
	}
	if len(issues) != 1 {
		t.Errorf("got %d issues, want 1", len(issues))
	}
}

func TestOpenIssues_InvalidRepo(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	for _, repo := range []string{"", "owner", "/repo", "owner/", "a/b/c"} {
		if _, err := c.OpenIssues(context.Background(), repo, 0); err == nil {
			t.Errorf("OpenIssues(%q) should fail", repo)
		}
	}
}

func TestOpenIssues_APIError(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	if _, err := c.OpenIssues(context.Background(), "owner/repo", 0); err == nil {
		t.Error("expected error for 404")
	}
}

func TestIssuesSource_Gather(t *testing.T) {
	c := newTestClient(t, issuesHandler(t))
	got, err := NewIssuesSource(c, "owner/repo", 5).Gather(context.Background(), nil)
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	want := "Open issues in owner/repo:\n- #7 Sensor drops offline [bug, hardware] (@alice)\n- #9 Docs typo"
	if got != want {
		t.Errorf("Gather = %q, want %q", got, want)
	}
}

func TestIssuesSource_Empty(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/owner/quiet/issues", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, "[]")
	})
	c := newTestClient(t, mux)

	got, err := NewIssuesSource(c, "owner/quiet", 0).Gather(context.Background(), nil)
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if got != "No open issues in owner/quiet." {
		t.Errorf("Gather = %q", got)
	}
}
