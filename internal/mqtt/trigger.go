package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/daedalus/internal/trigger"
	"github.com/nugget/daedalus/internal/turn"
)

// Trigger starts one turn per message received on the subscribed
// topic. Reply tool output is published to the reply topic.
type Trigger struct {
	client     *Client
	pub        publisher
	runner     trigger.Runner
	replyTopic string
	logger     *slog.Logger
	inbox      chan []byte
}

// NewTrigger returns an MQTT trigger using client.
func NewTrigger(client *Client, runner trigger.Runner, replyTopic string, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{
		client:     client,
		pub:        client,
		runner:     runner,
		replyTopic: replyTopic,
		logger:     logger.With("trigger", "mqtt"),
		inbox:      make(chan []byte, 16),
	}
}

// Key identifies the trigger.
func (t *Trigger) Key() string { return "mqtt" }

// Run connects and handles messages one at a time until ctx is
// cancelled. Messages arriving while the inbox is full are dropped.
func (t *Trigger) Run(ctx context.Context) error {
	if err := t.client.Connect(ctx, t.enqueue); err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := t.client.Disconnect(dctx); err != nil {
			t.logger.Debug("mqtt disconnect", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-t.inbox:
			t.handle(ctx, payload)
		}
	}
}

func (t *Trigger) enqueue(topic string, payload []byte) {
	select {
	case t.inbox <- payload:
	default:
		t.logger.Warn("mqtt message dropped, inbox full", "topic", topic, "payload_size", len(payload))
	}
}

// handle runs one turn for payload and publishes any replies.
func (t *Trigger) handle(ctx context.Context, payload []byte) {
	input := parseInput(payload)
	if input == "" {
		t.logger.Debug("ignoring empty mqtt message")
		return
	}

	var replies bytes.Buffer
	tc := turn.New(t.Key(), input, &replies)
	if _, err := t.runner.Execute(ctx, tc); err != nil {
		t.logger.Error("turn failed", "turn", tc.ID, "error", err)
		return
	}

	if t.replyTopic == "" || replies.Len() == 0 {
		return
	}
	if _, err := t.pub.Publish(ctx, &paho.Publish{
		Topic:   t.replyTopic,
		Payload: bytes.TrimRight(replies.Bytes(), "\n"),
		QoS:     1,
	}); err != nil {
		t.logger.Warn("mqtt reply publish failed", "topic", t.replyTopic, "error", err)
	}
}

// parseInput accepts either {"input": "..."} or a plain text payload.
func parseInput(payload []byte) string {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var req trigger.TurnRequest
		if err := json.Unmarshal(trimmed, &req); err == nil {
			return strings.TrimSpace(req.Input)
		}
	}
	return string(trimmed)
}
