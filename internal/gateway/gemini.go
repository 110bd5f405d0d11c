package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/genai"

	"github.com/nugget/daedalus/internal/schema"
	"github.com/nugget/daedalus/internal/tools"
)

// Gemini defaults.
const (
	DefaultGeminiModel         = "gemini-2.5-flash"
	DefaultGeminiContextWindow = 1048576
)

// generativeModels is the subset of *genai.Models the gateway uses.
type generativeModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	CountTokens(ctx context.Context, model string, contents []*genai.Content, config *genai.CountTokensConfig) (*genai.CountTokensResponse, error)
}

// GeminiConfig configures a [Gemini] gateway.
type GeminiConfig struct {
	APIKey        string
	Model         string
	ContextWindow int

	// Components resolves "#/components/schemas/..." references in
	// tool parameter schemas.
	Components map[string]*jsonschema.Schema
}

// Gemini is a [Gateway] backed by the Google Gen AI SDK.
type Gemini struct {
	models        generativeModels
	model         string
	contextWindow int
	converter     schema.Converter
	logger        *slog.Logger
}

// NewGemini creates a Gemini gateway using the Gemini API backend.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return newGemini(client.Models, cfg, logger), nil
}

func newGemini(models generativeModels, cfg GeminiConfig, logger *slog.Logger) *Gemini {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = DefaultGeminiContextWindow
	}
	logger = logger.With("provider", "gemini", "model", cfg.Model)
	return &Gemini{
		models:        models,
		model:         cfg.Model,
		contextWindow: cfg.ContextWindow,
		converter:     schema.Converter{Components: cfg.Components, Logger: logger},
		logger:        logger,
	}
}

// Key returns the model name.
func (g *Gemini) Key() string { return g.model }

// Name returns a display name.
func (g *Gemini) Name() string { return "Gemini (" + g.model + ")" }

// ContextWindowTokens returns the configured window.
func (g *Gemini) ContextWindowTokens() int { return g.contextWindow }

// Tokenize counts tokens with the models.countTokens endpoint.
func (g *Gemini) Tokenize(ctx context.Context, text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	resp, err := g.models.CountTokens(ctx, g.model, []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("gemini: count tokens: %w", err)
	}
	if resp == nil || resp.TotalTokens == 0 {
		return 0, errors.New("gemini: count tokens: response has no total")
	}
	return int(resp.TotalTokens), nil
}

// Process sends the prompts and tool declarations to generateContent.
// generateContent rejects an empty user turn, so a prompt with only
// system content is sent as the user turn instead.
func (g *Gemini) Process(ctx context.Context, system, user string, decls []tools.Declaration, params CallParams) (*Response, error) {
	if user == "" {
		system, user = "", system
	}
	cfg, err := g.buildConfig(system, decls, params)
	if err != nil {
		return nil, err
	}
	contents := []*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}

	if g.logger.Enabled(ctx, levelTrace) {
		payload, _ := json.Marshal(map[string]any{"contents": contents, "config": cfg})
		g.logger.Log(ctx, levelTrace, "request payload", "json", string(payload))
	}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	return g.convertResponse(resp)
}

func (g *Gemini) buildConfig(system string, decls []tools.Declaration, params CallParams) (*genai.GenerateContentConfig, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:      float32Ptr(params.Temperature),
		TopP:             float32Ptr(params.TopP),
		PresencePenalty:  float32Ptr(params.PresencePenalty),
		FrequencyPenalty: float32Ptr(params.FrequencyPenalty),
		CandidateCount:   int32(params.CandidateCount),
		MaxOutputTokens:  int32(params.MaxOutputTokens),
		StopSequences:    params.StopSequences,
	}
	if params.TopK != nil {
		cfg.TopK = genai.Ptr(float32(*params.TopK))
	}
	if params.Seed != nil {
		cfg.Seed = genai.Ptr(int32(*params.Seed))
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(system)}}
	}

	if len(decls) > 0 {
		fds := make([]*genai.FunctionDeclaration, 0, len(decls))
		for _, d := range decls {
			ps, err := g.converter.Convert(d.Parameters)
			if err != nil {
				return nil, fmt.Errorf("gemini: tool %s parameters: %w", d.Name, err)
			}
			fds = append(fds, &genai.FunctionDeclaration{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  ps,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: fds}}
	}
	return cfg, nil
}

func (g *Gemini) convertResponse(resp *genai.GenerateContentResponse) (*Response, error) {
	if resp == nil {
		return nil, errors.New("gemini: empty response")
	}
	if len(resp.Candidates) == 0 {
		if pf := resp.PromptFeedback; pf != nil && pf.BlockReason != "" {
			return nil, fmt.Errorf("gemini: prompt blocked: %s", pf.BlockReason)
		}
		return nil, errors.New("gemini: response has no candidates")
	}

	out := &Response{Raw: resp}
	var text strings.Builder
	if c := resp.Candidates[0].Content; c != nil {
		for _, p := range c.Parts {
			if p == nil || p.Thought {
				continue
			}
			if p.Text != "" {
				text.WriteString(p.Text)
			}
			if fc := p.FunctionCall; fc != nil {
				out.ToolCalls = append(out.ToolCalls, tools.Call{
					ID:   fc.ID,
					Name: fc.Name,
					Args: fc.Args,
				})
			}
		}
	}
	out.Text = text.String()

	if u := resp.UsageMetadata; u != nil {
		out.Usage = &Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}

	g.logger.Debug("gemini response",
		"text_chars", len(out.Text),
		"tool_calls", len(out.ToolCalls),
		"finish_reason", resp.Candidates[0].FinishReason,
	)
	return out, nil
}

func float32Ptr(p *float64) *float32 {
	if p == nil {
		return nil
	}
	return genai.Ptr(float32(*p))
}
