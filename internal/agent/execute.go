package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/nugget/daedalus/internal/gateway"
	"github.com/nugget/daedalus/internal/tools"
	"github.com/nugget/daedalus/internal/turn"
)

// State is the agent's position in the turn cycle.
type State int

const (
	StateIdle State = iota
	StateAssembling
	StateAwaitingGateway
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAssembling:
		return "assembling"
	case StateAwaitingGateway:
		return "awaiting_gateway"
	case StateDispatching:
		return "dispatching"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result is the outcome of one turn.
type Result struct {
	Text     string            `json:"text,omitempty"`
	Executed []tools.Execution `json:"tools,omitempty"`
	Usage    *gateway.Usage    `json:"usage,omitempty"`

	// System and User are the prompts sent to the model.
	System string `json:"-"`
	User   string `json:"-"`

	Model    string        `json:"model,omitempty"`
	Duration time.Duration `json:"-"`
}

// Execute runs one turn: assemble, call the gateway, dispatch the
// returned tool calls. Only one turn runs at a time; a concurrent call
// returns [ErrBusy]. The agent is back to idle when Execute returns,
// whatever the outcome.
func (a *Agent) Execute(ctx context.Context, tc *turn.Context) (res *Result, err error) {
	gw := a.Gateway()
	if gw == nil {
		return nil, ErrNoGateway
	}
	if tc == nil {
		tc = turn.New("direct", "", nil)
	}

	if err := a.begin(tc); err != nil {
		return nil, err
	}
	defer func() {
		a.end()
		if r := recover(); r != nil {
			a.logger.Error("turn panicked", "turn", tc.ID, "panic", r)
			panic(r)
		}
	}()

	log := a.logger.With("turn", tc.ID, "trigger", tc.Trigger)
	log.Debug("turn started", "input_chars", len(tc.Input))

	a.mu.RLock()
	nfrag := len(a.fragments)
	a.mu.RUnlock()
	if nfrag == 0 {
		log.Warn("no fragments registered")
	}
	if a.tools.Len() == 0 {
		log.Warn("no tools registered")
	}

	prompt, err := a.Assemble(ctx, tc)
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}

	a.setState(StateAwaitingGateway)
	params := gateway.CallParams{
		Temperature:     gateway.Ptr(a.cfg.Temperature),
		MaxOutputTokens: a.cfg.MaxOutputTokens,
	}
	resp, err := gw.Process(ctx, prompt.System, prompt.User, a.tools.Declarations(), params)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: %w", gw.Key(), err)
	}

	a.setState(StateDispatching)
	executed, err := a.tools.Dispatch(turn.WithContext(ctx, tc), resp.ToolCalls)
	if err != nil {
		log.Error("tool dispatch failed", "error", err, "executed", len(executed))
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	res = &Result{
		Text:     resp.Text,
		Executed: executed,
		Usage:    resp.Usage,
		System:   prompt.System,
		User:     prompt.User,
		Model:    gw.Key(),
		Duration: time.Since(tc.Started),
	}

	attrs := []any{
		"model", res.Model,
		"tools", len(executed),
		"tool_errors", tools.Failed(executed),
		"duration", res.Duration.Round(time.Millisecond),
	}
	if res.Usage != nil {
		attrs = append(attrs, "prompt_tokens", res.Usage.PromptTokens, "completion_tokens", res.Usage.CompletionTokens)
	}
	log.Info("turn complete", attrs...)

	a.notify(ctx, tc, res)
	return res, nil
}

func (a *Agent) begin(tc *turn.Context) error {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()
	if a.state != StateIdle {
		return ErrBusy
	}
	a.state = StateAssembling
	a.current = tc
	return nil
}

func (a *Agent) end() {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()
	a.state = StateIdle
	a.current = nil
}

func (a *Agent) setState(s State) {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()
	a.state = s
}

func (a *Agent) notify(ctx context.Context, tc *turn.Context, res *Result) {
	a.mu.RLock()
	observers := append([]ResultObserver(nil), a.observers...)
	a.mu.RUnlock()

	for _, o := range observers {
		if err := o.ObserveTurn(ctx, tc, res); err != nil {
			a.logger.Warn("turn observer failed", "turn", tc.ID, "error", err)
		}
	}
}
