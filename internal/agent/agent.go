// Package agent orchestrates a single conversational turn: it gathers
// context fragments within a token budget, declares tools to the model
// gateway, and dispatches the tool calls the model makes.
package agent

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/nugget/daedalus/internal/fragment"
	"github.com/nugget/daedalus/internal/gateway"
	"github.com/nugget/daedalus/internal/tools"
	"github.com/nugget/daedalus/internal/turn"
)

// Errors returned by [Agent.Assemble] and [Agent.Execute].
var (
	ErrNoGateway   = errors.New("agent: no gateway set")
	ErrEmptyPrompt = errors.New("agent: assembled prompt is empty and there is no turn input")
	ErrBusy        = errors.New("agent: a turn is already in flight")
)

// Tool budget modes.
const (
	// ToolBudgetSystem counts the tool block against the budget.
	ToolBudgetSystem = "system"
	// ToolBudgetExempt appends the tool block without counting it.
	ToolBudgetExempt = "exempt"
)

// Config tunes prompt assembly and the model call. Start from
// [DefaultConfig]; zero numeric fields are replaced with defaults by
// [New].
type Config struct {
	Name            string
	TargetTokens    int
	MaxOutputTokens int
	Temperature     float64
	ToolBudget      string

	IncludeTurnInput bool
	TurnInputLabel   string
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Name:             "daedalus",
		TargetTokens:     10000,
		MaxOutputTokens:  1024,
		Temperature:      0.7,
		ToolBudget:       ToolBudgetSystem,
		IncludeTurnInput: false,
		TurnInputLabel:   "User input:",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.TargetTokens <= 0 {
		c.TargetTokens = d.TargetTokens
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = d.MaxOutputTokens
	}
	if c.ToolBudget == "" {
		c.ToolBudget = d.ToolBudget
	}
	if c.TurnInputLabel == "" {
		c.TurnInputLabel = d.TurnInputLabel
	}
	return c
}

// ResultObserver is notified after every successful turn.
type ResultObserver interface {
	ObserveTurn(ctx context.Context, tc *turn.Context, res *Result) error
}

// ResultObserverFunc adapts a function to [ResultObserver].
type ResultObserverFunc func(ctx context.Context, tc *turn.Context, res *Result) error

// ObserveTurn calls f.
func (f ResultObserverFunc) ObserveTurn(ctx context.Context, tc *turn.Context, res *Result) error {
	return f(ctx, tc, res)
}

type registered struct {
	frag *fragment.Fragment
	seq  int
}

// Agent owns the fragment and tool registries, the gateway, and the
// state of the turn in flight. One turn runs at a time.
type Agent struct {
	cfg     Config
	logger  *slog.Logger
	factory *fragment.Factory

	mu        sync.RWMutex
	fragments map[string]registered
	seq       int
	tools     *tools.Registry
	gw        gateway.Gateway
	observers []ResultObserver

	turnMu  sync.Mutex
	state   State
	current *turn.Context
}

// New creates an agent. Fragments for it should be built with
// [Agent.Fragments] so they share its logger. Extra factory options
// (such as a test clock) are passed through.
func New(cfg Config, logger *slog.Logger, opts ...fragment.Option) (*Agent, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	logger = logger.With("agent", cfg.Name)

	factory, err := fragment.NewFactory(logger, opts...)
	if err != nil {
		return nil, err
	}
	return &Agent{
		cfg:       cfg,
		logger:    logger,
		factory:   factory,
		fragments: make(map[string]registered),
		tools:     tools.NewRegistry(),
	}, nil
}

// Config returns the effective configuration.
func (a *Agent) Config() Config { return a.cfg }

// Logger returns the agent's logger.
func (a *Agent) Logger() *slog.Logger { return a.logger }

// Fragments returns the factory for building fragments.
func (a *Agent) Fragments() *fragment.Factory { return a.factory }

// Tools returns the tool registry.
func (a *Agent) Tools() *tools.Registry { return a.tools }

// PutFragment registers f, replacing any fragment with the same key.
// A replacement takes a fresh registration sequence.
func (a *Agent) PutFragment(f *fragment.Fragment) (replaced bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, replaced = a.fragments[f.Key()]
	a.seq++
	a.fragments[f.Key()] = registered{frag: f, seq: a.seq}
	return replaced
}

// AddFragment registers f and warns when it replaces an existing one.
func (a *Agent) AddFragment(f *fragment.Fragment) {
	if a.PutFragment(f) {
		a.logger.Warn("fragment replaced", "key", f.Key())
	}
}

// Fragment returns the fragment registered under key, or nil.
func (a *Agent) Fragment(key string) *fragment.Fragment {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.fragments[key].frag
}

// OrderedFragments returns the registered fragments sorted by order,
// with ties in registration order.
func (a *Agent) OrderedFragments() []*fragment.Fragment {
	a.mu.RLock()
	regs := make([]registered, 0, len(a.fragments))
	for _, r := range a.fragments {
		regs = append(regs, r)
	}
	a.mu.RUnlock()

	slices.SortFunc(regs, func(x, y registered) int {
		if c := cmp.Compare(x.frag.Order(), y.frag.Order()); c != 0 {
			return c
		}
		return cmp.Compare(x.seq, y.seq)
	})

	out := make([]*fragment.Fragment, len(regs))
	for i, r := range regs {
		out[i] = r.frag
	}
	return out
}

// PutTool registers t, replacing any tool with the same name.
func (a *Agent) PutTool(t *tools.Tool) (replaced bool) {
	return a.tools.Put(t)
}

// AddTool registers t and warns when it replaces an existing one.
func (a *Agent) AddTool(t *tools.Tool) {
	if a.PutTool(t) {
		a.logger.Warn("tool replaced", "name", t.Name)
	}
}

// SetGateway sets the model gateway, replacing any previous one.
func (a *Agent) SetGateway(gw gateway.Gateway) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gw != nil && gw != nil {
		a.logger.Info("gateway replaced", "old", a.gw.Key(), "new", gw.Key())
	}
	a.gw = gw
}

// Gateway returns the current gateway, or nil.
func (a *Agent) Gateway() gateway.Gateway {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.gw
}

// Observe adds an observer notified after each successful turn.
func (a *Agent) Observe(o ResultObserver) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, o)
}

// State reports where the agent is in its turn cycle.
func (a *Agent) State() State {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()
	return a.state
}

// Turn returns the turn in flight, or nil when idle.
func (a *Agent) Turn() *turn.Context {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()
	return a.current
}
