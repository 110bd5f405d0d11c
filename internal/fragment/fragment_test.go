package fragment

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nugget/daedalus/internal/turn"
)

// fakeClock is a manually advanced clock for TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingSource returns "v<n>" where n is the number of gathers so far.
type countingSource struct {
	calls int
	err   error
}

func (s *countingSource) Gather(context.Context, *turn.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.calls++
	return "v" + string(rune('0'+s.calls)), nil
}

func newTestFactory(t *testing.T, clock *fakeClock) *Factory {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fac, err := NewFactory(logger, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	return fac
}

func TestNewFactory_RequiresLogger(t *testing.T) {
	if _, err := NewFactory(nil); !errors.Is(err, ErrNoLogger) {
		t.Fatalf("NewFactory(nil) error = %v, want ErrNoLogger", err)
	}
}

func TestFactoryNew_Validation(t *testing.T) {
	fac := newTestFactory(t, &fakeClock{now: time.Unix(0, 0)})

	if _, err := fac.New(Spec{}, Static("x")); err == nil {
		t.Error("New with empty key should fail")
	}
	if _, err := fac.New(Spec{Key: "a"}, nil); err == nil {
		t.Error("New with nil source should fail")
	}
	if _, err := fac.New(Spec{Key: "a", Section: "footer"}, Static("x")); err == nil {
		t.Error("New with unknown section should fail")
	}

	f, err := fac.New(Spec{Key: "a"}, Static("x"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if f.Section() != Body {
		t.Errorf("default section = %q, want body", f.Section())
	}
	if f.Name() != "a" {
		t.Errorf("default name = %q, want key", f.Name())
	}
}

func TestData_Snapshot(t *testing.T) {
	fac := newTestFactory(t, &fakeClock{now: time.Unix(0, 0)})
	f, err := fac.New(Spec{Key: "greeting", Order: 3, Section: Preamble}, Static("héllo"))
	if err != nil {
		t.Fatal(err)
	}

	snap, err := f.Data(context.Background(), nil, false)
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if snap.Key != "greeting" || snap.Content != "héllo" || snap.Section != Preamble || snap.Order != 3 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Chars != 5 {
		t.Errorf("Chars = %d, want 5", snap.Chars)
	}
	if snap.Tokens != nil {
		t.Errorf("Tokens = %v, want nil", *snap.Tokens)
	}
}

func TestData_TTLExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	fac := newTestFactory(t, clock)
	src := &countingSource{}
	f, err := fac.New(Spec{Key: "k", TTL: 10 * time.Second}, src)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	// Within one TTL window only the first access gathers.
	for i := 0; i < 5; i++ {
		snap, err := f.Data(ctx, nil, false)
		if err != nil {
			t.Fatal(err)
		}
		if snap.Content != "v1" {
			t.Fatalf("access %d content = %q, want v1", i, snap.Content)
		}
		clock.Advance(1999 * time.Millisecond)
	}
	if src.calls != 1 {
		t.Fatalf("calls after first window = %d, want 1", src.calls)
	}

	// Expiry is inclusive: now == expiresAt regathers.
	clock.now = time.Unix(1010, 0)
	snap, err := f.Data(ctx, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Content != "v2" || src.calls != 2 {
		t.Errorf("at expiry content = %q calls = %d, want v2 and 2", snap.Content, src.calls)
	}
}

func TestData_NonPositiveTTLAlwaysRegathers(t *testing.T) {
	for _, ttl := range []time.Duration{0, -time.Second} {
		fac := newTestFactory(t, &fakeClock{now: time.Unix(0, 0)})
		src := &countingSource{}
		f, err := fac.New(Spec{Key: "k", TTL: ttl}, src)
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 3; i++ {
			if _, err := f.Data(context.Background(), nil, false); err != nil {
				t.Fatal(err)
			}
		}
		if src.calls != 3 {
			t.Errorf("ttl %v: calls = %d, want 3", ttl, src.calls)
		}
	}
}

func TestData_Revalidate(t *testing.T) {
	fac := newTestFactory(t, &fakeClock{now: time.Unix(0, 0)})
	src := &countingSource{}
	f, err := fac.New(Spec{Key: "k", TTL: time.Hour}, src)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	f.Data(ctx, nil, false)
	snap, err := f.Data(ctx, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Content != "v2" {
		t.Errorf("revalidated content = %q, want v2", snap.Content)
	}
}

func TestData_GatherErrorKeepsCache(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	fac := newTestFactory(t, clock)
	src := &countingSource{}
	f, err := fac.New(Spec{Key: "k", TTL: time.Minute}, src)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := f.Data(ctx, nil, false); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	src.err = boom
	clock.Advance(2 * time.Minute)
	if _, err := f.Data(ctx, nil, false); !errors.Is(err, boom) {
		t.Fatalf("Data error = %v, want wrapped boom", err)
	}

	// The failed gather must not have touched the cache or the expiry.
	src.err = nil
	f.mu.Lock()
	content, expires := f.content, f.expiresAt
	f.mu.Unlock()
	if content != "v1" {
		t.Errorf("cached content = %q, want v1", content)
	}
	if want := time.Unix(60, 0); !expires.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", expires, want)
	}
}

func TestData_TurnContextPassedToSource(t *testing.T) {
	fac := newTestFactory(t, &fakeClock{now: time.Unix(0, 0)})
	var seen *turn.Context
	f, err := fac.New(Spec{Key: "k"}, SourceFunc(func(_ context.Context, tc *turn.Context) (string, error) {
		seen = tc
		return tc.Input, nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	tc := turn.New("test", "what time is it", nil)
	snap, err := f.Data(context.Background(), tc, false)
	if err != nil {
		t.Fatal(err)
	}
	if seen != tc {
		t.Error("source did not receive the turn context")
	}
	if snap.Content != "what time is it" {
		t.Errorf("content = %q", snap.Content)
	}
}

func TestTTLString(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	fac, err := NewFactory(logger)
	if err != nil {
		t.Fatal(err)
	}

	f, err := fac.New(Spec{Key: "five", TTLString: "5m"}, Static("x"))
	if err != nil {
		t.Fatal(err)
	}
	if f.TTL() != 5*time.Minute {
		t.Errorf("TTL = %v, want 5m", f.TTL())
	}

	f, err = fac.New(Spec{Key: "bad", TTL: time.Hour, TTLString: "soon"}, Static("x"))
	if err != nil {
		t.Fatalf("invalid ttl must not be fatal: %v", err)
	}
	if f.TTL() != 0 {
		t.Errorf("TTL = %v, want 0", f.TTL())
	}
	if !strings.Contains(logs.String(), "invalid fragment ttl") || !strings.Contains(logs.String(), "component=bad") {
		t.Errorf("expected scoped warning, got logs:\n%s", logs.String())
	}
}

func TestBuiltins(t *testing.T) {
	var logs bytes.Buffer
	fac, err := NewFactory(slog.New(slog.NewTextHandler(&logs, nil)))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	prefix := fac.SystemPrefix("You are terse.")
	if prefix.Order() != math.MinInt || prefix.Section() != Preamble || prefix.TTL() != 0 {
		t.Errorf("prefix order=%d section=%q ttl=%v", prefix.Order(), prefix.Section(), prefix.TTL())
	}
	suffix := fac.SystemSuffix("Answer in English.")
	if suffix.Order() != math.MaxInt || suffix.Section() != Preamble {
		t.Errorf("suffix order=%d section=%q", suffix.Order(), suffix.Section())
	}

	in := fac.TurnInput("", 0, "The user says: ")
	if in.Key() != "turn-input" || in.Section() != Body {
		t.Errorf("turn input key=%q section=%q", in.Key(), in.Section())
	}
	snap, err := in.Data(ctx, turn.New("cli", "hi", nil), false)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Content != "The user says: hi" {
		t.Errorf("content = %q", snap.Content)
	}

	snap, err = in.Data(ctx, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Content != "" {
		t.Errorf("content without turn = %q, want empty", snap.Content)
	}
	if !strings.Contains(logs.String(), "no turn input") {
		t.Errorf("expected warning, got logs:\n%s", logs.String())
	}
}

func TestParseSection(t *testing.T) {
	for in, want := range map[string]Section{"": Body, "body": Body, "preamble": Preamble} {
		got, err := ParseSection(in)
		if err != nil || got != want {
			t.Errorf("ParseSection(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseSection("header"); err == nil {
		t.Error("ParseSection(header) should fail")
	}
}
