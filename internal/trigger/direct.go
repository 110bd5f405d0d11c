package trigger

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/nugget/daedalus/internal/agent"
	"github.com/nugget/daedalus/internal/turn"
)

// Direct starts turns from in-process calls.
type Direct struct {
	runner Runner
	reply  io.Writer
	logger *slog.Logger
}

// NewDirect returns a direct trigger whose turns write replies to
// reply.
func NewDirect(runner Runner, reply io.Writer, logger *slog.Logger) *Direct {
	if logger == nil {
		logger = slog.Default()
	}
	return &Direct{
		runner: runner,
		reply:  reply,
		logger: logger.With("trigger", "direct"),
	}
}

// Key identifies the trigger.
func (d *Direct) Key() string { return "direct" }

// Fire runs one turn with input. Errors are logged, not returned; the
// result is nil when the turn failed.
func (d *Direct) Fire(ctx context.Context, input string) *agent.Result {
	res, err := d.runner.Execute(ctx, turn.New(d.Key(), input, d.reply))
	if err != nil {
		d.logger.Error("turn failed", "error", err)
		return nil
	}
	return res
}

// REPL reads one input per line from in and runs a turn for each,
// writing replies and model text to out. "exit" or "quit" ends the
// loop, as does EOF or ctx cancellation. Turn errors are printed and
// the loop continues.
func (d *Direct) REPL(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		res, err := d.runner.Execute(ctx, turn.New("repl", line, out))
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if res.Text != "" {
			fmt.Fprintln(out, res.Text)
		}
		for _, ex := range res.Executed {
			if ex.Error != "" {
				fmt.Fprintf(out, "[%s failed: %s]\n", ex.Key, ex.Error)
			}
		}
	}
}
