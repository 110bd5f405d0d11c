package agent

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/nugget/daedalus/internal/fragment"
	"github.com/nugget/daedalus/internal/tools"
	"github.com/nugget/daedalus/internal/turn"
)

func budgetConfig(target int) Config {
	cfg := DefaultConfig()
	cfg.TargetTokens = target
	return cfg
}

func includedKeys(p *Prompt) []string {
	keys := make([]string, len(p.Included))
	for i, s := range p.Included {
		keys[i] = s.Key
	}
	return keys
}

func TestAssemble_NoGateway(t *testing.T) {
	a := newTestAgent(t, DefaultConfig())
	if _, err := a.Assemble(context.Background(), nil); !errors.Is(err, ErrNoGateway) {
		t.Errorf("err = %v, want ErrNoGateway", err)
	}
}

func TestAssemble_Scenario(t *testing.T) {
	a := newTestAgent(t, DefaultConfig())
	a.SetGateway(&fakeGateway{})
	a.AddFragment(mustFragment(t, a, fragment.Spec{Key: "sys", Order: -1, Section: fragment.Preamble}, "Be helpful."))
	a.AddFragment(mustFragment(t, a, fragment.Spec{Key: "usr", Order: 0, Section: fragment.Body}, "Hello"))
	a.AddTool(replyTool(t))

	p, err := a.Assemble(context.Background(), turn.New("test", "hi there", nil))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if p.TurnInput {
		t.Error("turn input folded in with the default config")
	}

	wantSystem := "Be helpful.\n\n" + a.Tools().Block()
	if p.System != wantSystem {
		t.Errorf("System = %q, want %q", p.System, wantSystem)
	}
	if p.User != "Hello" {
		t.Errorf("User = %q, want Hello", p.User)
	}
	if !strings.HasPrefix(a.Tools().Block(), "Available tools:\n- reply: ") {
		t.Errorf("tool block = %q", a.Tools().Block())
	}
}

func TestAssemble_OrderAndSections(t *testing.T) {
	a := newTestAgent(t, budgetConfig(1000))
	a.SetGateway(&fakeGateway{})
	a.AddFragment(a.Fragments().SystemSuffix("suffix"))
	a.AddFragment(mustFragment(t, a, fragment.Spec{Key: "b2", Order: 2}, "body two"))
	a.AddFragment(mustFragment(t, a, fragment.Spec{Key: "p1", Order: 1, Section: fragment.Preamble}, "pre one"))
	a.AddFragment(mustFragment(t, a, fragment.Spec{Key: "b1", Order: 1}, "body one"))
	a.AddFragment(a.Fragments().SystemPrefix("prefix"))

	p, err := a.Assemble(context.Background(), nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if want := "prefix\n\npre one\n\nsuffix"; p.System != want {
		t.Errorf("System = %q, want %q", p.System, want)
	}
	if want := "body one\n\nbody two"; p.User != want {
		t.Errorf("User = %q, want %q", p.User, want)
	}
	wantKeys := []string{"system_prefix", "p1", "b1", "b2", "system_suffix"}
	if got := includedKeys(p); !slices.Equal(got, wantKeys) {
		t.Errorf("included = %v, want %v", got, wantKeys)
	}
	for _, s := range p.Included {
		if s.Tokens == nil || *s.Tokens != s.Chars {
			t.Errorf("%s: tokens not filled in: %v", s.Key, s.Tokens)
		}
	}
}

func TestAssemble_FailClosedPacking(t *testing.T) {
	a := newTestAgent(t, budgetConfig(10))
	a.SetGateway(&fakeGateway{})
	a.AddFragment(mustFragment(t, a, fragment.Spec{Key: "one", Order: 1}, "aaaa"))
	a.AddFragment(mustFragment(t, a, fragment.Spec{Key: "two", Order: 2}, "bbbb"))
	a.AddFragment(mustFragment(t, a, fragment.Spec{Key: "three", Order: 3}, "cccccc"))
	a.AddFragment(mustFragment(t, a, fragment.Spec{Key: "four", Order: 4}, "d"))

	p, err := a.Assemble(context.Background(), nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if got := includedKeys(p); !slices.Equal(got, []string{"one", "two"}) {
		t.Errorf("included = %v, want [one two]", got)
	}
	if !slices.Equal(p.Omitted, []string{"three", "four"}) {
		t.Errorf("omitted = %v, want [three four]", p.Omitted)
	}
	if p.User != "aaaa\n\nbbbb" {
		t.Errorf("User = %q", p.User)
	}
}

func TestAssemble_BudgetContainment(t *testing.T) {
	sizes := []int{7, 3, 12, 1, 9, 4, 4, 20, 2}
	for budget := 0; budget <= 60; budget += 5 {
		a := newTestAgent(t, budgetConfig(budget))
		a.SetGateway(&fakeGateway{})
		for i, n := range sizes {
			a.AddFragment(mustFragment(t, a, fragment.Spec{
				Key:   string(rune('a' + i)),
				Order: i,
			}, strings.Repeat("x", n)))
		}
		a.AddTool(&tools.Tool{Name: "t", Description: "d"})

		p, err := a.Assemble(context.Background(), turn.New("test", "input", nil))
		if err != nil {
			t.Fatalf("budget %d: Assemble: %v", budget, err)
		}
		sum := 0
		for _, s := range p.Included {
			sum += *s.Tokens
		}
		if sum > p.Budget || p.Tokens() > p.Budget {
			t.Errorf("budget %d: included %d tokens, counted %d", budget, sum, p.Tokens())
		}
	}
}

func TestAssemble_ToolBlockCountsAgainstBudget(t *testing.T) {
	a := newTestAgent(t, budgetConfig(20))
	a.SetGateway(&fakeGateway{})
	a.AddFragment(mustFragment(t, a, fragment.Spec{Key: "p", Section: fragment.Preamble}, "persona"))
	a.AddTool(&tools.Tool{Name: "long", Description: strings.Repeat("z", 50)})

	p, err := a.Assemble(context.Background(), turn.New("test", "hi", nil))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if p.ToolBlock {
		t.Error("tool block should be omitted when it overflows the budget")
	}
	if p.System != "persona" {
		t.Errorf("System = %q, want persona", p.System)
	}
}

func TestAssemble_ToolBlockExempt(t *testing.T) {
	cfg := budgetConfig(20)
	cfg.ToolBudget = ToolBudgetExempt
	a := newTestAgent(t, cfg)
	a.SetGateway(&fakeGateway{})
	a.AddFragment(mustFragment(t, a, fragment.Spec{Key: "p", Section: fragment.Preamble}, "persona"))
	a.AddTool(&tools.Tool{Name: "long", Description: strings.Repeat("z", 50)})

	p, err := a.Assemble(context.Background(), nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !p.ToolBlock {
		t.Fatal("exempt tool block should always be appended")
	}
	if p.System != "persona\n\n"+a.Tools().Block() {
		t.Errorf("System = %q", p.System)
	}
	if p.Tokens() != len("persona") {
		t.Errorf("Tokens() = %d, exempt block should not be counted", p.Tokens())
	}
}

func TestAssemble_TurnInput(t *testing.T) {
	tests := []struct {
		name     string
		target   int
		wantUser string
		included bool
	}{
		{"fits", 100, "body\n\nUser input:\nhello", true},
		// "User input:\nhello" is 17 tokens; with "body" that is 21.
		{"omitted", 20, "body", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.TargetTokens = tt.target
			cfg.IncludeTurnInput = true
			a := newTestAgent(t, cfg)
			a.SetGateway(&fakeGateway{})
			a.AddFragment(mustFragment(t, a, fragment.Spec{Key: "b"}, "body"))

			p, err := a.Assemble(context.Background(), turn.New("test", "hello", nil))
			if err != nil {
				t.Fatalf("Assemble: %v", err)
			}
			if p.User != tt.wantUser {
				t.Errorf("User = %q, want %q", p.User, tt.wantUser)
			}
			if p.TurnInput != tt.included {
				t.Errorf("TurnInput = %v, want %v", p.TurnInput, tt.included)
			}
		})
	}
}

func TestAssemble_EmptyPrompt(t *testing.T) {
	a := newTestAgent(t, DefaultConfig())
	a.SetGateway(&fakeGateway{})

	if _, err := a.Assemble(context.Background(), turn.New("test", "", nil)); !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("err = %v, want ErrEmptyPrompt", err)
	}
}

func TestAssemble_RawInputFallback(t *testing.T) {
	// Budget zero leaves no room for anything but the raw input.
	a := newTestAgent(t, budgetConfig(1))
	a.SetGateway(&fakeGateway{window: 1024})
	a.AddFragment(mustFragment(t, a, fragment.Spec{Key: "big"}, "too large"))

	p, err := a.Assemble(context.Background(), turn.New("test", "hello", nil))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if p.Budget != 0 {
		t.Fatalf("Budget = %d, want 0", p.Budget)
	}
	if p.System != "" || p.User != "hello" {
		t.Errorf("System = %q, User = %q; want empty and hello", p.System, p.User)
	}
}

func TestAssemble_OmittedInputStaysOut(t *testing.T) {
	tests := []struct {
		name string
		fold bool
	}{
		{"without folding", false},
		{"with folding", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := budgetConfig(20)
			cfg.IncludeTurnInput = tt.fold
			a := newTestAgent(t, cfg)
			a.SetGateway(&fakeGateway{})
			a.AddFragment(mustFragment(t, a, fragment.Spec{Key: "p", Section: fragment.Preamble}, strings.Repeat("a", 15)))

			p, err := a.Assemble(context.Background(), turn.New("test", "hello world, this is long input", nil))
			if err != nil {
				t.Fatalf("Assemble: %v", err)
			}
			if p.User != "" {
				t.Errorf("User = %q, want empty", p.User)
			}
			if p.TurnInput {
				t.Error("TurnInput = true for input that does not fit")
			}
			if total := len(p.System) + len(p.User); total > p.Budget {
				t.Errorf("assembled prompt is %d tokens, budget %d", total, p.Budget)
			}
		})
	}
}

func TestAssemble_TurnContextReachesSources(t *testing.T) {
	a := newTestAgent(t, budgetConfig(1000))
	a.SetGateway(&fakeGateway{})

	var seen *turn.Context
	f, err := a.Fragments().New(fragment.Spec{Key: "echo"}, fragment.SourceFunc(
		func(_ context.Context, tc *turn.Context) (string, error) {
			seen = tc
			return "echo: " + tc.Input, nil
		}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.AddFragment(f)

	tc := turn.New("test", "ping", nil)
	p, err := a.Assemble(context.Background(), tc)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if seen != tc {
		t.Error("source did not receive the turn context")
	}
	if p.User != "echo: ping" {
		t.Errorf("User = %q", p.User)
	}
}

func TestAssemble_GatherErrorPropagates(t *testing.T) {
	a := newTestAgent(t, budgetConfig(1000))
	a.SetGateway(&fakeGateway{})
	boom := errors.New("source offline")
	f, err := a.Fragments().New(fragment.Spec{Key: "bad"}, fragment.SourceFunc(
		func(context.Context, *turn.Context) (string, error) { return "", boom }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.AddFragment(f)

	if _, err := a.Assemble(context.Background(), turn.New("test", "x", nil)); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped source error", err)
	}
}

func TestAssemble_TTLCaching(t *testing.T) {
	c := &clock{}
	a, err := New(budgetConfig(1000), testLogger(), fragment.WithClock(c.now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.SetGateway(&fakeGateway{})

	gathers := 0
	f, err := a.Fragments().New(fragment.Spec{Key: "n", TTLString: "1m"}, fragment.SourceFunc(
		func(context.Context, *turn.Context) (string, error) {
			gathers++
			return strings.Repeat("n", gathers), nil
		}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.AddFragment(f)

	for range 3 {
		if _, err := a.Assemble(context.Background(), nil); err != nil {
			t.Fatalf("Assemble: %v", err)
		}
	}
	if gathers != 1 {
		t.Errorf("gathers = %d within TTL, want 1", gathers)
	}
	c.advance(time.Minute)
	p, err := a.Assemble(context.Background(), nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if gathers != 2 || p.User != "nn" {
		t.Errorf("after expiry gathers = %d, user = %q", gathers, p.User)
	}
}
