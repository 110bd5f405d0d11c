package trigger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/nugget/daedalus/internal/agent"
	"github.com/nugget/daedalus/internal/gateway"
	"github.com/nugget/daedalus/internal/tools"
	"github.com/nugget/daedalus/internal/turn"
)

// fakeRunner echoes the input as a reply and as the result text.
type fakeRunner struct {
	mu    sync.Mutex
	turns []*turn.Context
	err   error

	// block, when set, is waited on inside Execute.
	block chan struct{}
}

func (r *fakeRunner) Execute(ctx context.Context, tc *turn.Context) (*agent.Result, error) {
	r.mu.Lock()
	r.turns = append(r.turns, tc)
	err := r.err
	block := r.block
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if tc.Reply != nil {
		fmt.Fprintln(tc.Reply, "reply: "+tc.Input)
	}
	return &agent.Result{
		Text:     "echo " + tc.Input,
		Executed: []tools.Execution{{Key: "reply", Result: "delivered"}},
		Usage:    &gateway.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	}, nil
}

func (r *fakeRunner) inputs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.turns))
	for i, tc := range r.turns {
		out[i] = tc.Input
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
