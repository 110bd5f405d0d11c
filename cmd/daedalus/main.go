// Daedalus runs single-turn LLM agents.
//
// Each turn gathers context fragments into a token-budgeted prompt,
// makes one model call, and dispatches the tool calls in the reply.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	daedalus chat            Run turns interactively from stdin
//	daedalus ask <text>      Run a single turn
//	daedalus serve           Run the HTTP, schedule and MQTT triggers
//	daedalus init [dir]      Write an example config and persona
//	daedalus version         Print version and build information
//	daedalus -o json version Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/nugget/daedalus/internal/buildinfo"
	"github.com/nugget/daedalus/internal/config"
	"github.com/nugget/daedalus/internal/trigger"
)

// main builds the OS-level environment and hands off to [run], which
// keeps os.Exit and os.Args out of the code under test.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// options are the global flags.
type options struct {
	configPath string
	outputFmt  string
	verbose    bool
}

// run is the real entry point. Cancelling ctx shuts everything down.
// Arguments are parsed by hand so run has no package-level state and
// tests can call it in parallel.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var opts options
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case command != "":
			cmdArgs = append(cmdArgs, args[i])
		case args[i] == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			opts.configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			opts.outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			opts.outputFmt = strings.TrimPrefix(args[i], "-o=")
		case args[i] == "-v" || args[i] == "--verbose":
			opts.verbose = true
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if opts.outputFmt == "" {
		opts.outputFmt = "text"
	}
	if opts.outputFmt != "text" && opts.outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", opts.outputFmt)
	}

	switch command {
	case "chat":
		return runChat(ctx, stdin, stdout, stderr, opts)
	case "ask":
		if len(cmdArgs) == 0 {
			return errors.New("usage: daedalus ask <text>")
		}
		return runAsk(ctx, stdout, stderr, opts, strings.Join(cmdArgs, " "))
	case "serve":
		return runServe(ctx, stdout, stderr, opts)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, opts.outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Daedalus - single-turn LLM agent orchestrator")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: daedalus [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  chat         Run turns interactively (exit or quit to leave)")
	fmt.Fprintln(w, "  ask <text>   Run a single turn")
	fmt.Fprintln(w, "  serve        Run the HTTP, schedule and MQTT triggers")
	fmt.Fprintln(w, "  init [dir]   Write an example config and persona (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w, "  -v, --verbose     Log at debug level regardless of config")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintf(w, "  %s\n", strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// loadConfig finds, loads and validates the config file.
func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	return cfg, path, nil
}

// newLogger builds the process logger from config, raised to debug
// when verbose is set.
func newLogger(w io.Writer, cfg *config.Config, verbose bool) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if verbose && level > slog.LevelDebug {
		level = slog.LevelDebug
	}
	return config.NewLogger(w, level, cfg.LogFormat), nil
}

// setup loads config and builds the application.
func setup(ctx context.Context, stdout, stderr io.Writer, opts options) (*app, error) {
	cfg, path, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(stderr, cfg, opts.verbose)
	if err != nil {
		return nil, err
	}
	logger.Debug("config loaded", "path", path)
	return build(ctx, cfg, stdout, logger)
}

func runAsk(ctx context.Context, stdout, stderr io.Writer, opts options, input string) error {
	a, err := setup(ctx, stdout, stderr, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	res := trigger.NewDirect(a.agent, stdout, a.logger).Fire(ctx, input)
	if res == nil {
		return errors.New("ask: turn failed")
	}
	if opts.outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if res.Text != "" {
		fmt.Fprintln(stdout, res.Text)
	}
	return nil
}

func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, opts options) error {
	a, err := setup(ctx, stdout, stderr, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	return trigger.NewDirect(a.agent, stdout, a.logger).REPL(ctx, stdin, stdout)
}

// runServe starts every configured trigger behind a shared queue and
// blocks until ctx is cancelled or a trigger fails.
func runServe(ctx context.Context, stdout, stderr io.Writer, opts options) error {
	a, err := setup(ctx, stdout, stderr, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	triggers := a.triggers()
	if len(triggers) == 0 {
		return errors.New("serve: no triggers configured")
	}

	if a.announcer != nil {
		a.agent.Observe(a.announcer)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.logger.Info("daedalus starting", buildinfo.Fields()...)

	var wg sync.WaitGroup
	errCh := make(chan error, len(triggers)+1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.queue.Run(ctx); err != nil {
			errCh <- fmt.Errorf("queue: %w", err)
		}
	}()
	for _, t := range triggers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.logger.Info("trigger started", "trigger", t.Key())
			if err := t.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("trigger %s: %w", t.Key(), err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case runErr = <-errCh:
		a.logger.Error("trigger failed, shutting down", "error", runErr)
	}
	cancel()
	wg.Wait()
	return runErr
}
