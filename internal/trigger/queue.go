package trigger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nugget/daedalus/internal/agent"
	"github.com/nugget/daedalus/internal/turn"
)

// Queue errors.
var (
	ErrQueueFull   = errors.New("trigger: turn queue full")
	ErrQueueClosed = errors.New("trigger: turn queue closed")
)

type job struct {
	ctx  context.Context
	tc   *turn.Context
	done chan jobResult
}

type jobResult struct {
	res *agent.Result
	err error
}

// Queue serializes turns from several triggers onto one runner so they
// wait their turn instead of failing with [agent.ErrBusy]. It
// implements [Runner]; [Queue.Run] must be running for turns to make
// progress.
type Queue struct {
	runner  Runner
	jobs    chan job
	stopped chan struct{}
	logger  *slog.Logger
}

// NewQueue returns a queue holding up to size pending turns.
func NewQueue(runner Runner, size int, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 16
	}
	return &Queue{
		runner:  runner,
		jobs:    make(chan job, size),
		stopped: make(chan struct{}),
		logger:  logger.With("component", "queue"),
	}
}

// Execute enqueues tc and waits for its result.
func (q *Queue) Execute(ctx context.Context, tc *turn.Context) (*agent.Result, error) {
	j := job{ctx: ctx, tc: tc, done: make(chan jobResult, 1)}

	select {
	case <-q.stopped:
		return nil, ErrQueueClosed
	default:
	}

	select {
	case q.jobs <- j:
	default:
		q.logger.Warn("turn dropped, queue full", "turn", tc.ID, "trigger", tc.Trigger)
		return nil, ErrQueueFull
	}

	select {
	case r := <-j.done:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.stopped:
		return nil, ErrQueueClosed
	}
}

// Run processes queued turns one at a time until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	defer close(q.stopped)
	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-q.jobs:
			if err := j.ctx.Err(); err != nil {
				j.done <- jobResult{err: err}
				continue
			}
			res, err := q.runner.Execute(j.ctx, j.tc)
			j.done <- jobResult{res: res, err: err}
		}
	}
}
