package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/daedalus/internal/agent"
	"github.com/nugget/daedalus/internal/gateway"
	"github.com/nugget/daedalus/internal/turn"
)

// TurnSummary is the payload published after each turn.
type TurnSummary struct {
	ID         string         `json:"id"`
	Trigger    string         `json:"trigger"`
	Model      string         `json:"model,omitempty"`
	Text       string         `json:"text,omitempty"`
	Tools      []string       `json:"tools,omitempty"`
	ToolErrors int            `json:"tool_errors,omitempty"`
	Usage      *gateway.Usage `json:"usage,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

// Announcer publishes a [TurnSummary] to <base>/turns after every
// turn. It implements [agent.ResultObserver].
type Announcer struct {
	pub    publisher
	topic  string
	logger *slog.Logger
}

// NewAnnouncer returns an announcer publishing through client under
// base.
func NewAnnouncer(client *Client, base string, logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{pub: client, topic: base + "/turns", logger: logger}
}

// Topic returns the topic summaries are published to.
func (a *Announcer) Topic() string { return a.topic }

// ObserveTurn publishes the summary for res.
func (a *Announcer) ObserveTurn(ctx context.Context, tc *turn.Context, res *agent.Result) error {
	s := TurnSummary{
		ID:         tc.ID,
		Trigger:    tc.Trigger,
		Model:      res.Model,
		Text:       res.Text,
		Usage:      res.Usage,
		DurationMS: res.Duration.Milliseconds(),
	}
	for _, ex := range res.Executed {
		s.Tools = append(s.Tools, ex.Key)
		if ex.Error != "" {
			s.ToolErrors++
		}
	}

	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal turn summary: %w", err)
	}
	if _, err := a.pub.Publish(ctx, &paho.Publish{
		Topic:   a.topic,
		Payload: payload,
		QoS:     0,
	}); err != nil {
		return fmt.Errorf("publish turn summary: %w", err)
	}
	a.logger.Debug("turn announced", "topic", a.topic, "turn", tc.ID)
	return nil
}
