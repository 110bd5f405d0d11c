package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/daedalus/internal/httpkit"
	"github.com/nugget/daedalus/internal/tools"
)

// Ollama defaults.
const (
	DefaultOllamaURL           = "http://localhost:11434"
	DefaultOllamaContextWindow = 8192
)

// OllamaConfig configures an [Ollama] gateway.
type OllamaConfig struct {
	URL           string
	Model         string
	ContextWindow int
	Timeout       time.Duration
}

// Ollama is a [Gateway] backed by a local Ollama server's /api/chat.
type Ollama struct {
	baseURL       string
	model         string
	contextWindow int
	httpClient    *http.Client
	logger        *slog.Logger
}

// NewOllama creates an Ollama gateway.
func NewOllama(cfg OllamaConfig, logger *slog.Logger) *Ollama {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" {
		cfg.URL = DefaultOllamaURL
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = DefaultOllamaContextWindow
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	logger = logger.With("provider", "ollama", "model", cfg.Model)
	return &Ollama{
		baseURL:       strings.TrimRight(cfg.URL, "/"),
		model:         cfg.Model,
		contextWindow: cfg.ContextWindow,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(cfg.Timeout),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// Key returns the model name.
func (o *Ollama) Key() string { return o.model }

// Name returns a display name.
func (o *Ollama) Name() string { return "Ollama (" + o.model + ")" }

// ContextWindowTokens returns the configured window, which is also sent
// to the server as num_ctx.
func (o *Ollama) ContextWindowTokens() int { return o.contextWindow }

// Tokenize estimates tokens as one per four characters, rounded up.
// Ollama exposes no token counting endpoint.
func (o *Ollama) Tokenize(_ context.Context, text string) (int, error) {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4, nil
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

type ollamaOptions struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	TopK             *int     `json:"top_k,omitempty"`
	NumPredict       int      `json:"num_predict,omitempty"`
	NumCtx           int      `json:"num_ctx,omitempty"`
	Stop             []string `json:"stop,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	Seed             *int     `json:"seed,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

// Process sends a non-streaming chat request.
func (o *Ollama) Process(ctx context.Context, system, user string, decls []tools.Declaration, params CallParams) (*Response, error) {
	req := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Options: ollamaOptions{
			Temperature:      params.Temperature,
			TopP:             params.TopP,
			TopK:             params.TopK,
			NumPredict:       params.MaxOutputTokens,
			NumCtx:           o.contextWindow,
			Stop:             params.StopSequences,
			PresencePenalty:  params.PresencePenalty,
			FrequencyPenalty: params.FrequencyPenalty,
			Seed:             params.Seed,
		},
	}
	if system != "" {
		req.Messages = append(req.Messages, ollamaMessage{Role: "system", Content: system})
	}
	req.Messages = append(req.Messages, ollamaMessage{Role: "user", Content: user})
	for _, d := range decls {
		var ps any = map[string]any{"type": "object", "properties": map[string]any{}}
		if d.Parameters != nil {
			ps = d.Parameters
		}
		req.Tools = append(req.Tools, ollamaTool{
			Type: "function",
			Function: ollamaToolFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  ps,
			},
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}
	o.logger.Log(ctx, levelTrace, "request payload", "json", string(body))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 2048))
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var chat ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}

	calls := chat.Message.ToolCalls
	text := chat.Message.Content
	if len(calls) == 0 && text != "" {
		if parsed := parseTextToolCalls(text); len(parsed) > 0 {
			calls = parsed
			text = ""
		}
	}

	out := &Response{
		Text: text,
		Raw:  &chat,
		Usage: &Usage{
			PromptTokens:     chat.PromptEvalCount,
			CompletionTokens: chat.EvalCount,
			TotalTokens:      chat.PromptEvalCount + chat.EvalCount,
		},
	}
	for _, c := range calls {
		out.ToolCalls = append(out.ToolCalls, tools.Call{
			Name: c.Function.Name,
			Args: c.Function.Arguments,
		})
	}

	o.logger.Debug("ollama response",
		"text_chars", len(out.Text),
		"tool_calls", len(out.ToolCalls),
		"done_reason", chat.DoneReason,
	)
	return out, nil
}

// parseTextToolCalls recovers tool calls that smaller models emit as
// JSON in the message content instead of the tool_calls field. It
// accepts a bare object, an array of objects, or either wrapped in
// <tool_call> tags.
func parseTextToolCalls(content string) []ollamaToolCall {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "<tool_call>"); start != -1 {
		content = content[start+len("<tool_call>"):]
		if end := strings.Index(content, "</tool_call>"); end != -1 {
			content = content[:end]
		}
		content = strings.TrimSpace(content)
	}
	if content == "" || (content[0] != '{' && content[0] != '[') {
		return nil
	}

	type textCall struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	var many []textCall
	if err := json.Unmarshal([]byte(content), &many); err != nil {
		var one textCall
		if err := json.Unmarshal([]byte(content), &one); err != nil {
			return nil
		}
		many = []textCall{one}
	}

	var calls []ollamaToolCall
	for _, c := range many {
		if c.Name == "" {
			continue
		}
		var tc ollamaToolCall
		tc.Function.Name = c.Name
		tc.Function.Arguments = c.Arguments
		calls = append(calls, tc)
	}
	return calls
}
