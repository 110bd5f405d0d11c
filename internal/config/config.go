// Package config handles daedalus configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order:
// ./config.yaml, ~/.config/daedalus/config.yaml, /etc/daedalus/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "daedalus", "config.yaml"))
	}

	paths = append(paths, "/etc/daedalus/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise the first existing entry of [DefaultSearchPaths] wins.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all daedalus configuration.
type Config struct {
	Agent     AgentConfig      `yaml:"agent"`
	Gateway   GatewayConfig    `yaml:"gateway"`
	Fragments []FragmentConfig `yaml:"fragments"`
	Tools     ToolsConfig      `yaml:"tools"`
	Triggers  TriggersConfig   `yaml:"triggers"`
	GitHub    GitHubConfig     `yaml:"github"`
	DataDir   string           `yaml:"data_dir"`
	LogLevel  string           `yaml:"log_level"`
	LogFormat string           `yaml:"log_format"`
}

// AgentConfig controls prompt assembly and sampling for every turn.
type AgentConfig struct {
	Name            string  `yaml:"name"`
	TargetTokens    int     `yaml:"target_tokens"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
	Temperature     float64 `yaml:"temperature"`

	// ToolBudget is "system" (the tool block competes for the prompt
	// budget) or "exempt" (the tool block is always appended).
	ToolBudget string `yaml:"tool_budget"`

	TurnInput TurnInputConfig `yaml:"turn_input"`
}

// TurnInputConfig controls folding the raw trigger input into the
// user prompt.
type TurnInputConfig struct {
	Include bool   `yaml:"include"`
	Label   string `yaml:"label"`
}

// GatewayConfig selects and configures the model provider.
type GatewayConfig struct {
	Provider      string        `yaml:"provider"` // gemini | ollama
	Model         string        `yaml:"model"`
	APIKey        string        `yaml:"api_key"`
	URL           string        `yaml:"url"`
	ContextWindow int           `yaml:"context_window"`
	Timeout       time.Duration `yaml:"timeout"`
}

// FragmentConfig declares one context fragment. Which of the source
// fields apply depends on Kind.
type FragmentConfig struct {
	Key     string `yaml:"key"`
	Kind    string `yaml:"kind"`
	Order   int    `yaml:"order"`
	Section string `yaml:"section"` // preamble | body
	TTL     string `yaml:"ttl"`

	Text     string   `yaml:"text"`      // prefix, suffix, static
	Prefix   string   `yaml:"prefix"`    // turn_input
	Path     string   `yaml:"path"`      // document, or text read from a file
	Tags     []string `yaml:"tags"`      // document
	URL      string   `yaml:"url"`       // web
	MaxChars int      `yaml:"max_chars"` // web
	Repo     string   `yaml:"repo"`      // issues
	Limit    int      `yaml:"limit"`     // notes, issues
}

// Fragment kinds understood by the CLI wiring.
const (
	KindPrefix    = "prefix"
	KindSuffix    = "suffix"
	KindStatic    = "static"
	KindTurnInput = "turn_input"
	KindDocument  = "document"
	KindWeb       = "web"
	KindNotes     = "notes"
	KindIssues    = "issues"
)

// ToolsConfig toggles the built-in tools.
type ToolsConfig struct {
	Reply bool `yaml:"reply"`
	Notes bool `yaml:"notes"`
	Fetch bool `yaml:"fetch"`
	Usage bool `yaml:"usage"`
}

// TriggersConfig holds the triggers started by the serve command.
type TriggersConfig struct {
	HTTP     HTTPConfig       `yaml:"http"`
	Schedule []ScheduleConfig `yaml:"schedule"`
	MQTT     MQTTConfig       `yaml:"mqtt"`
}

// HTTPConfig configures the webhook and websocket listener.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// Configured reports whether the HTTP trigger should start.
func (c HTTPConfig) Configured() bool { return c.Listen != "" }

// ScheduleConfig fires a fixed input either periodically or once.
type ScheduleConfig struct {
	Name  string        `yaml:"name"`
	Every time.Duration `yaml:"every"`
	At    time.Time     `yaml:"at"`
	Input string        `yaml:"input"`
}

// MQTTConfig configures the MQTT trigger and turn announcer.
type MQTTConfig struct {
	Broker     string `yaml:"broker"`
	Topic      string `yaml:"topic"`
	ReplyTopic string `yaml:"reply_topic"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	ClientID   string `yaml:"client_id"`
}

// Configured reports whether the MQTT trigger should start.
func (c MQTTConfig) Configured() bool { return c.Broker != "" && c.Topic != "" }

// GitHubConfig holds credentials for the issues fragment source.
type GitHubConfig struct {
	Token string `yaml:"token"`
	URL   string `yaml:"url"` // GitHub Enterprise base URL; empty for github.com
}

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded before parsing and unset fields keep the
// values from [Default].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:            "daedalus",
			TargetTokens:    10000,
			MaxOutputTokens: 1024,
			Temperature:     0.7,
			ToolBudget:      "system",
			TurnInput: TurnInputConfig{
				Include: false,
				Label:   "User input:",
			},
		},
		Gateway: GatewayConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
			Timeout:  2 * time.Minute,
		},
		Tools:     ToolsConfig{Reply: true},
		DataDir:   "./db",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Validate checks cross-field constraints that YAML decoding cannot.
func (c *Config) Validate() error {
	var errs []error

	switch c.Gateway.Provider {
	case "gemini", "ollama":
	default:
		errs = append(errs, fmt.Errorf("gateway.provider: unsupported provider %q", c.Gateway.Provider))
	}
	if c.Gateway.Model == "" {
		errs = append(errs, errors.New("gateway.model: required"))
	}

	switch c.Agent.ToolBudget {
	case "system", "exempt":
	default:
		errs = append(errs, fmt.Errorf("agent.tool_budget: must be system or exempt, got %q", c.Agent.ToolBudget))
	}
	if c.Agent.TargetTokens <= 0 {
		errs = append(errs, fmt.Errorf("agent.target_tokens: must be positive, got %d", c.Agent.TargetTokens))
	}
	if c.Agent.MaxOutputTokens <= 0 {
		errs = append(errs, fmt.Errorf("agent.max_output_tokens: must be positive, got %d", c.Agent.MaxOutputTokens))
	}

	seen := make(map[string]bool, len(c.Fragments))
	for i, f := range c.Fragments {
		if f.Key == "" {
			errs = append(errs, fmt.Errorf("fragments[%d]: key required", i))
			continue
		}
		if seen[f.Key] {
			errs = append(errs, fmt.Errorf("fragments[%d]: duplicate key %q", i, f.Key))
		}
		seen[f.Key] = true

		switch f.Kind {
		case KindPrefix, KindSuffix, KindStatic, KindTurnInput, KindNotes:
		case KindDocument:
			if f.Path == "" {
				errs = append(errs, fmt.Errorf("fragments[%d] %q: path required for document", i, f.Key))
			}
		case KindWeb:
			if f.URL == "" {
				errs = append(errs, fmt.Errorf("fragments[%d] %q: url required for web", i, f.Key))
			}
		case KindIssues:
			if f.Repo == "" {
				errs = append(errs, fmt.Errorf("fragments[%d] %q: repo required for issues", i, f.Key))
			}
		default:
			errs = append(errs, fmt.Errorf("fragments[%d] %q: unknown kind %q", i, f.Key, f.Kind))
		}

		switch f.Section {
		case "", "preamble", "body":
		default:
			errs = append(errs, fmt.Errorf("fragments[%d] %q: section must be preamble or body, got %q", i, f.Key, f.Section))
		}
	}

	for i, s := range c.Triggers.Schedule {
		if (s.Every > 0) == !s.At.IsZero() {
			errs = append(errs, fmt.Errorf("triggers.schedule[%d] %q: exactly one of every or at is required", i, s.Name))
		}
		if s.Input == "" {
			errs = append(errs, fmt.Errorf("triggers.schedule[%d] %q: input required", i, s.Name))
		}
	}

	if m := c.Triggers.MQTT; m.Broker != "" && m.Topic == "" {
		errs = append(errs, errors.New("triggers.mqtt.topic: required when broker is set"))
	}

	return errors.Join(errs...)
}
