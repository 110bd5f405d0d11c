// Package turn defines the per-turn context handed from a trigger to
// the agent, and from the agent to fragment sources and tool handlers.
package turn

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// Context describes one in-flight turn. It is created by a trigger and
// never mutated by the agent.
type Context struct {
	// ID uniquely identifies the turn in logs and the usage ledger.
	ID string

	// Trigger names the trigger that started the turn.
	Trigger string

	// Input is the trigger-supplied text. It may be empty for
	// triggers that only need the configured fragments.
	Input string

	// Reply receives user-facing output from tools such as reply.
	// Nil means the tool's own default writer.
	Reply io.Writer

	Started time.Time
}

// New returns a turn context with a fresh time-ordered ID.
func New(trigger, input string, reply io.Writer) *Context {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Context{
		ID:      id.String(),
		Trigger: trigger,
		Input:   input,
		Reply:   reply,
		Started: time.Now(),
	}
}

type contextKey struct{}

// WithContext attaches tc to ctx for tool handlers.
func WithContext(ctx context.Context, tc *Context) context.Context {
	if tc == nil {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext returns the turn attached by [WithContext], or nil.
func FromContext(ctx context.Context) *Context {
	tc, _ := ctx.Value(contextKey{}).(*Context)
	return tc
}
