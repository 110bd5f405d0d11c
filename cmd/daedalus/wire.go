package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nugget/daedalus/internal/agent"
	"github.com/nugget/daedalus/internal/config"
	"github.com/nugget/daedalus/internal/fetch"
	"github.com/nugget/daedalus/internal/forge"
	"github.com/nugget/daedalus/internal/fragment"
	"github.com/nugget/daedalus/internal/gateway"
	"github.com/nugget/daedalus/internal/httpkit"
	"github.com/nugget/daedalus/internal/mqtt"
	"github.com/nugget/daedalus/internal/notes"
	"github.com/nugget/daedalus/internal/talents"
	"github.com/nugget/daedalus/internal/tools"
	"github.com/nugget/daedalus/internal/trigger"
	"github.com/nugget/daedalus/internal/usage"
)

// queueSize bounds turns waiting behind the one in flight.
const queueSize = 16

// app is a fully wired agent plus the resources it owns.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	stdout io.Writer

	agent  *agent.Agent
	queue  *trigger.Queue
	bundle agent.Bundle

	// Built on first use.
	fetcher *fetch.Fetcher
	notes   *notes.Store
	usage   *usage.Store
	forge   *forge.Client
	mqtt    *mqtt.Client

	// announcer publishes turn summaries once the MQTT trigger is
	// connected, so only serve attaches it.
	announcer *mqtt.Announcer
}

// build wires an agent from cfg. Replies from turns without their own
// writer go to stdout.
func build(ctx context.Context, cfg *config.Config, stdout io.Writer, logger *slog.Logger) (*app, error) {
	ag, err := agent.New(agentConfig(cfg.Agent), logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, stdout: stdout, agent: ag}
	a.queue = trigger.NewQueue(ag, queueSize, logger)
	a.bundle.Name = cfg.Agent.Name

	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.agent.Load(a.bundle)
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	gw, err := buildGateway(ctx, a.cfg.Gateway, a.logger)
	if err != nil {
		return err
	}
	a.bundle.Gateway = gw

	for _, fc := range a.cfg.Fragments {
		f, err := a.buildFragment(fc)
		if err != nil {
			return fmt.Errorf("fragment %s: %w", fc.Key, err)
		}
		a.bundle.Fragments = append(a.bundle.Fragments, f)
	}

	if err := a.buildTools(); err != nil {
		return err
	}

	if a.cfg.DataDir != "" {
		ledger, err := a.usageStore()
		if err != nil {
			return err
		}
		a.agent.Observe(ledger)
	}

	return a.buildTriggers()
}

func agentConfig(c config.AgentConfig) agent.Config {
	return agent.Config{
		Name:             c.Name,
		TargetTokens:     c.TargetTokens,
		MaxOutputTokens:  c.MaxOutputTokens,
		Temperature:      c.Temperature,
		ToolBudget:       c.ToolBudget,
		IncludeTurnInput: c.TurnInput.Include,
		TurnInputLabel:   c.TurnInput.Label,
	}
}

func buildGateway(ctx context.Context, c config.GatewayConfig, logger *slog.Logger) (gateway.Gateway, error) {
	switch c.Provider {
	case "gemini":
		return gateway.NewGemini(ctx, gateway.GeminiConfig{
			APIKey:        c.APIKey,
			Model:         c.Model,
			ContextWindow: c.ContextWindow,
		}, logger)
	case "ollama":
		return gateway.NewOllama(gateway.OllamaConfig{
			URL:           c.URL,
			Model:         c.Model,
			ContextWindow: c.ContextWindow,
			Timeout:       c.Timeout,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unsupported gateway provider %q", c.Provider)
	}
}

func (a *app) buildFragment(fc config.FragmentConfig) (*fragment.Fragment, error) {
	fac := a.agent.Fragments()
	section, err := fragment.ParseSection(fc.Section)
	if err != nil {
		return nil, err
	}
	spec := fragment.Spec{
		Key:       fc.Key,
		Order:     fc.Order,
		Section:   section,
		TTLString: fc.TTL,
	}

	switch fc.Kind {
	case config.KindPrefix, config.KindSuffix, config.KindStatic:
		text, err := literal(fc)
		if err != nil {
			return nil, err
		}
		switch fc.Kind {
		case config.KindPrefix:
			return fac.SystemPrefix(text), nil
		case config.KindSuffix:
			return fac.SystemSuffix(text), nil
		}
		return fac.New(spec, fragment.Static(text))
	case config.KindTurnInput:
		return fac.TurnInput(fc.Key, fc.Order, fc.Prefix), nil
	case config.KindDocument:
		return fac.New(spec, talents.NewSource(fc.Path, fc.Tags))
	case config.KindWeb:
		return fac.New(spec, fetch.NewSource(a.fetch(), fc.URL, fc.MaxChars))
	case config.KindNotes:
		store, err := a.notesStore()
		if err != nil {
			return nil, err
		}
		return fac.New(spec, notes.NewSource(store, fc.Limit))
	case config.KindIssues:
		client, err := a.forgeClient()
		if err != nil {
			return nil, err
		}
		return fac.New(spec, forge.NewIssuesSource(client, fc.Repo, fc.Limit))
	default:
		return nil, fmt.Errorf("unknown kind %q", fc.Kind)
	}
}

// literal returns the fragment's text, read from path when text is
// empty.
func literal(fc config.FragmentConfig) (string, error) {
	if fc.Text != "" || fc.Path == "" {
		return fc.Text, nil
	}
	data, err := os.ReadFile(fc.Path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (a *app) buildTools() error {
	var built []*tools.Tool
	add := func(ts ...*tools.Tool) { built = append(built, ts...) }

	if a.cfg.Tools.Reply {
		t, err := tools.Reply(a.stdout)
		if err != nil {
			return err
		}
		add(t)
	}
	if a.cfg.Tools.Notes {
		store, err := a.notesStore()
		if err != nil {
			return err
		}
		ts, err := store.Tools()
		if err != nil {
			return err
		}
		add(ts...)
	}
	if a.cfg.Tools.Fetch {
		t, err := a.fetch().Tool()
		if err != nil {
			return err
		}
		add(t)
	}
	if a.cfg.Tools.Usage {
		store, err := a.usageStore()
		if err != nil {
			return err
		}
		t, err := store.Tool()
		if err != nil {
			return err
		}
		add(t)
	}

	a.bundle.Tools = built
	return nil
}

// buildTriggers prepares the serve-mode triggers. Nothing connects or
// listens until [app.triggers] are run.
func (a *app) buildTriggers() error {
	tc := a.cfg.Triggers
	if tc.HTTP.Configured() {
		a.bundle.Triggers = append(a.bundle.Triggers, trigger.NewHTTP(tc.HTTP.Listen, a.queue, a.logger))
	}
	if len(tc.Schedule) > 0 {
		entries := make([]trigger.Entry, 0, len(tc.Schedule))
		for _, s := range tc.Schedule {
			entries = append(entries, trigger.Entry{Name: s.Name, Every: s.Every, At: s.At, Input: s.Input})
		}
		a.bundle.Triggers = append(a.bundle.Triggers, trigger.NewSchedule(a.queue, entries, a.stdout, a.logger))
	}
	if tc.MQTT.Configured() {
		a.mqtt = mqtt.NewClient(tc.MQTT, a.logger)
		a.bundle.Triggers = append(a.bundle.Triggers, mqtt.NewTrigger(a.mqtt, a.queue, tc.MQTT.ReplyTopic, a.logger))
		if tc.MQTT.ReplyTopic != "" {
			a.announcer = mqtt.NewAnnouncer(a.mqtt, tc.MQTT.ReplyTopic, a.logger)
		}
	}
	return nil
}

// triggers returns the runnable triggers of the loaded bundle.
func (a *app) triggers() []trigger.Trigger {
	var out []trigger.Trigger
	for _, t := range a.bundle.Triggers {
		if rt, ok := t.(trigger.Trigger); ok {
			out = append(out, rt)
		}
	}
	return out
}

func (a *app) fetch() *fetch.Fetcher {
	if a.fetcher == nil {
		a.fetcher = fetch.New(a.logger)
	}
	return a.fetcher
}

func (a *app) dataPath(name string) (string, error) {
	if a.cfg.DataDir == "" {
		return "", errors.New("data_dir is required")
	}
	if err := os.MkdirAll(a.cfg.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return filepath.Join(a.cfg.DataDir, name), nil
}

func (a *app) notesStore() (*notes.Store, error) {
	if a.notes != nil {
		return a.notes, nil
	}
	path, err := a.dataPath("notes.db")
	if err != nil {
		return nil, err
	}
	if a.notes, err = notes.Open(path); err != nil {
		return nil, err
	}
	return a.notes, nil
}

func (a *app) usageStore() (*usage.Store, error) {
	if a.usage != nil {
		return a.usage, nil
	}
	path, err := a.dataPath("usage.db")
	if err != nil {
		return nil, err
	}
	if a.usage, err = usage.Open(path); err != nil {
		return nil, err
	}
	return a.usage, nil
}

func (a *app) forgeClient() (*forge.Client, error) {
	if a.forge != nil {
		return a.forge, nil
	}
	httpClient := httpkit.NewClient(
		httpkit.WithTimeout(30*time.Second),
		httpkit.WithRetry(2, 2*time.Second),
		httpkit.WithLogger(a.logger),
	)
	c, err := forge.New(httpClient, a.cfg.GitHub.Token, a.cfg.GitHub.URL, a.logger)
	if err != nil {
		return nil, err
	}
	a.forge = c
	return c, nil
}

// Close releases the stores.
func (a *app) Close() {
	if a.notes != nil {
		if err := a.notes.Close(); err != nil {
			a.logger.Warn("close notes store", "error", err)
		}
	}
	if a.usage != nil {
		if err := a.usage.Close(); err != nil {
			a.logger.Warn("close usage store", "error", err)
		}
	}
}
