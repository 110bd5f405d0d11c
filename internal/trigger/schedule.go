package trigger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/daedalus/internal/turn"
)

// Entry is one scheduled turn. Exactly one of Every and At is set.
type Entry struct {
	Name  string
	Every time.Duration
	At    time.Time
	Input string
}

// next returns when e should next fire after now, or false when it
// never will.
func (e Entry) next(now time.Time) (time.Time, bool) {
	switch {
	case e.Every > 0:
		return now.Add(e.Every), true
	case !e.At.IsZero() && e.At.After(now):
		return e.At, true
	default:
		return time.Time{}, false
	}
}

// Schedule fires turns on timers.
type Schedule struct {
	runner  Runner
	entries []Entry
	reply   io.Writer
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	timers  map[string]*time.Timer
	running bool
	ctx     context.Context
	wg      sync.WaitGroup
}

// NewSchedule returns a schedule trigger for entries. Replies from
// scheduled turns go to reply, which may be nil.
func NewSchedule(runner Runner, entries []Entry, reply io.Writer, logger *slog.Logger) *Schedule {
	if logger == nil {
		logger = slog.Default()
	}
	return &Schedule{
		runner:  runner,
		entries: entries,
		reply:   reply,
		timeout: 5 * time.Minute,
		logger:  logger.With("trigger", "schedule"),
		now:     time.Now,
		timers:  make(map[string]*time.Timer),
	}
}

// Key identifies the trigger.
func (s *Schedule) Key() string { return "schedule" }

// Run arms a timer per entry and blocks until ctx is cancelled. It
// waits for any turn in progress before returning.
func (s *Schedule) Run(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	for _, e := range s.entries {
		s.arm(e)
	}
	s.logger.Info("schedule started", "entries", len(s.entries))

	<-ctx.Done()

	s.mu.Lock()
	s.running = false
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("schedule stopped")
	return nil
}

func (s *Schedule) arm(e Entry) {
	next, ok := e.next(s.now())
	if !ok {
		s.logger.Debug("scheduled entry has no future runs", "name", e.Name)
		return
	}
	delay := max(next.Sub(s.now()), 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if t, exists := s.timers[e.Name]; exists {
		t.Stop()
	}
	s.timers[e.Name] = time.AfterFunc(delay, func() { s.fire(e) })

	s.logger.Debug("entry scheduled", "name", e.Name, "next", next, "delay", delay)
}

func (s *Schedule) fire(e Entry) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	delete(s.timers, e.Name)
	parent := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	tc := turn.New("schedule:"+e.Name, e.Input, s.reply)
	if _, err := s.runner.Execute(ctx, tc); err != nil {
		s.logger.Error("scheduled turn failed", "name", e.Name, "turn", tc.ID, "error", err)
	}

	if e.Every > 0 {
		s.arm(e)
	}
}
