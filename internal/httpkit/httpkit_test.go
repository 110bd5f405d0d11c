package httpkit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewClient_Timeouts(t *testing.T) {
	if got := NewClient().Timeout; got != 30*time.Second {
		t.Errorf("default timeout = %v, want 30s", got)
	}
	if got := NewClient(WithTimeout(0)).Timeout; got != 0 {
		t.Errorf("zero timeout = %v, want 0", got)
	}
}

func TestNewClient_UserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	get := func(c *http.Client, preset string) string {
		t.Helper()
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		if preset != "" {
			req.Header.Set("User-Agent", preset)
		}
		resp, err := c.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return string(body)
	}

	if got := get(NewClient(), ""); !strings.HasPrefix(got, "daedalus/") {
		t.Errorf("default UA = %q, want daedalus/ prefix", got)
	}
	if got := get(NewClient(WithUserAgent("TestBot/1.0")), ""); got != "TestBot/1.0" {
		t.Errorf("custom UA = %q", got)
	}
	if got := get(NewClient(), "CustomBot/2.0"); got != "CustomBot/2.0" {
		t.Errorf("preset UA overwritten: %q", got)
	}
}

// scriptedRoundTripper returns the scripted outcomes in order and then
// 200 OK forever.
type scriptedRoundTripper struct {
	script []func() (*http.Response, error)
	calls  int
	bodies []string
}

func (s *scriptedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		s.bodies = append(s.bodies, string(b))
	}
	i := s.calls
	s.calls++
	if i < len(s.script) {
		return s.script[i]()
	}
	return status(http.StatusOK)()
}

func status(code int) func() (*http.Response, error) {
	return func() (*http.Response, error) {
		return &http.Response{StatusCode: code, Header: http.Header{}, Body: io.NopCloser(strings.NewReader("body"))}, nil
	}
}

func dialErr(errno syscall.Errno) func() (*http.Response, error) {
	return func() (*http.Response, error) {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errno}
	}
}

func newRetry(base http.RoundTripper, count int) *retryTransport {
	return &retryTransport{base: base, count: count, delay: time.Millisecond, logger: discardLogger()}
}

func TestRetryTransport(t *testing.T) {
	tests := []struct {
		name      string
		script    []func() (*http.Response, error)
		count     int
		wantCalls int
		wantCode  int
		wantErr   bool
	}{
		{"success", nil, 2, 1, 200, false},
		{"dial error then success", []func() (*http.Response, error){dialErr(syscall.EHOSTUNREACH)}, 2, 2, 200, false},
		{"503 then success", []func() (*http.Response, error){status(503)}, 2, 2, 200, false},
		{"429 twice", []func() (*http.Response, error){status(429), status(429)}, 2, 3, 200, false},
		{"exhausted", []func() (*http.Response, error){
			dialErr(syscall.ECONNREFUSED), dialErr(syscall.ECONNREFUSED), dialErr(syscall.ECONNREFUSED),
		}, 2, 3, 0, true},
		{"500 not retried", []func() (*http.Response, error){status(500)}, 2, 1, 500, false},
		{"reset not retried", []func() (*http.Response, error){dialErr(syscall.ECONNRESET)}, 2, 1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := &scriptedRoundTripper{script: tt.script}
			req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
			resp, err := newRetry(base, tt.count).RoundTrip(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if base.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", base.calls, tt.wantCalls)
			}
			if err == nil && resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
		})
	}
}

func TestRetryTransport_RewindsBody(t *testing.T) {
	base := &scriptedRoundTripper{script: []func() (*http.Response, error){status(503)}}
	req, _ := http.NewRequest(http.MethodPost, "http://example.com", strings.NewReader(`{"a":1}`))

	if _, err := newRetry(base, 1).RoundTrip(req); err != nil {
		t.Fatal(err)
	}
	if len(base.bodies) != 2 || base.bodies[0] != `{"a":1}` || base.bodies[1] != `{"a":1}` {
		t.Errorf("bodies = %q", base.bodies)
	}
}

func TestRetryTransport_NoRetryWithoutGetBody(t *testing.T) {
	base := &scriptedRoundTripper{script: []func() (*http.Response, error){status(503)}}
	req, _ := http.NewRequest(http.MethodPost, "http://example.com", nil)
	req.Body = io.NopCloser(strings.NewReader("once"))

	resp, err := newRetry(base, 3).RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	if base.calls != 1 || resp.StatusCode != 503 {
		t.Errorf("calls = %d status = %d, want 1 and 503", base.calls, resp.StatusCode)
	}
}

func TestRetryTransport_ContextCancel(t *testing.T) {
	base := &scriptedRoundTripper{script: []func() (*http.Response, error){status(503)}}
	rt := &retryTransport{base: base, count: 3, delay: 5 * time.Second, logger: discardLogger()}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.com", nil)

	start := time.Now()
	_, err := rt.RoundTrip(req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("retry wait ignored context cancellation")
	}
}

func TestRetryAfter(t *testing.T) {
	resp := &http.Response{Header: http.Header{"Retry-After": {"3"}}}
	if got := retryAfter(resp); got != 3*time.Second {
		t.Errorf("retryAfter = %v, want 3s", got)
	}
	resp.Header.Set("Retry-After", "soon")
	if got := retryAfter(resp); got != 0 {
		t.Errorf("retryAfter(invalid) = %v, want 0", got)
	}
}

func TestReadErrorBody(t *testing.T) {
	if got := ReadErrorBody(io.NopCloser(strings.NewReader("bad request details")), 3); got != "bad" {
		t.Errorf("ReadErrorBody = %q, want bad", got)
	}
	if got := ReadErrorBody(nil, 10); got != "" {
		t.Errorf("ReadErrorBody(nil) = %q", got)
	}
}
