// Package trigger starts agent turns from outside events: a direct
// call, an interactive prompt, HTTP and websocket requests, and timers.
package trigger

import (
	"context"

	"github.com/nugget/daedalus/internal/agent"
	"github.com/nugget/daedalus/internal/turn"
)

// Runner executes one turn. [agent.Agent] and [Queue] implement it.
type Runner interface {
	Execute(ctx context.Context, tc *turn.Context) (*agent.Result, error)
}

// Trigger is a long-running source of turns.
type Trigger interface {
	Key() string

	// Run blocks, starting turns as events arrive, until ctx is
	// cancelled or the trigger fails.
	Run(ctx context.Context) error
}
