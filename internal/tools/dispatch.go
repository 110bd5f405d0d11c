package tools

import (
	"context"
	"errors"
	"fmt"
)

// Call is one tool invocation requested by the model.
type Call struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Execution records the outcome of one dispatched call.
type Execution struct {
	Key    string         `json:"key"`
	Args   map[string]any `json:"args,omitempty"`
	Result string         `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Dispatch runs calls sequentially in the order given.
//
// A call naming no tool, or a tool that is not registered, means the
// model and the registry disagree about what was declared. That is
// fatal for the turn: dispatch stops and returns the executions
// completed so far together with the error. A handler error is not
// fatal; it is recorded on the execution and dispatch continues.
func (r *Registry) Dispatch(ctx context.Context, calls []Call) ([]Execution, error) {
	executed := make([]Execution, 0, len(calls))
	for i, c := range calls {
		if c.Name == "" {
			return executed, fmt.Errorf("tool call %d: %w", i, ErrMissingName)
		}
		t := r.Get(c.Name)
		if t == nil {
			return executed, &UnknownToolError{Name: c.Name}
		}
		if err := ctx.Err(); err != nil {
			return executed, fmt.Errorf("dispatch %s: %w", c.Name, err)
		}

		ex := Execution{Key: c.Name, Args: c.Args}
		if t.Handler == nil {
			ex.Error = "tool has no handler"
		} else if result, err := t.Handler(ctx, c.Args); err != nil {
			ex.Error = err.Error()
		} else {
			ex.Result = result
		}
		executed = append(executed, ex)
	}
	return executed, nil
}

// Failed reports whether any execution carries an error annotation.
func Failed(executed []Execution) bool {
	for _, ex := range executed {
		if ex.Error != "" {
			return true
		}
	}
	return false
}

// IsDesync reports whether err is a dispatch resolution failure.
func IsDesync(err error) bool {
	var unknown *UnknownToolError
	return errors.Is(err, ErrMissingName) || errors.As(err, &unknown)
}
