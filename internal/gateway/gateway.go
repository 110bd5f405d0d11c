// Package gateway abstracts model providers behind a single interface:
// a tokenizer, a context window size, and a process call that sends the
// assembled prompts and tool declarations to the model.
package gateway

import (
	"context"
	"log/slog"

	"github.com/nugget/daedalus/internal/tools"
)

// levelTrace is below Debug and used for wire-level payload logging.
const levelTrace = slog.Level(-8)

// Gateway is implemented once per model provider.
type Gateway interface {
	// Key identifies the model, e.g. "gemini-2.5-flash".
	Key() string

	// Name is a human-readable label.
	Name() string

	// ContextWindowTokens is the model's total context size. The
	// assembled prompt plus the reserved output budget must fit in it.
	ContextWindowTokens() int

	// Tokenize counts the tokens text occupies for this model.
	Tokenize(ctx context.Context, text string) (int, error)

	// Process sends one request and returns the model's answer,
	// including any tool calls it wants made. It never runs tools.
	Process(ctx context.Context, system, user string, decls []tools.Declaration, params CallParams) (*Response, error)
}

// CallParams carries optional sampling controls. Nil or zero fields are
// left to the provider's defaults.
type CallParams struct {
	Temperature      *float64
	TopP             *float64
	TopK             *int
	CandidateCount   int
	MaxOutputTokens  int
	StopSequences    []string
	PresencePenalty  *float64
	FrequencyPenalty *float64
	Seed             *int
}

// Response is the provider-neutral result of [Gateway.Process].
type Response struct {
	Text      string
	ToolCalls []tools.Call
	Usage     *Usage

	// Raw holds the provider's own response value for debugging.
	Raw any
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Ptr returns a pointer to v, for filling [CallParams].
func Ptr[T any](v T) *T { return &v }
