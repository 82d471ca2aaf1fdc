package gen

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"content-pipeline-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.GenerationAdapter = (*GeminiAdapter)(nil)

type GeminiAdapter struct {
	client       *genai.Client
	defaultModel string
}

// NewGeminiAdapter creates a Gemini adapter using the official SDK.
func NewGeminiAdapter(ctx context.Context, apiKey, baseURL, defaultModel string) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{client: c, defaultModel: defaultModel}, nil
}

func (g *GeminiAdapter) Name() string { return "gemini" }

func (g *GeminiAdapter) Generate(ctx context.Context, req adapter.GenerationRequest) (adapter.GenerationResult, error) {
	model := req.Model
	if model == "" {
		model = g.defaultModel
	}

	contents := []*genai.Content{
		{Role: genai.RoleUser, Parts: []*genai.Part{{Text: req.Prompt}}},
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: stageInstruction(req.StageKey)}},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return adapter.GenerationResult{}, fmt.Errorf("gemini generate: %w", err)
	}

	text := ""
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil && len(resp.Candidates[0].Content.Parts) > 0 {
		text = resp.Candidates[0].Content.Parts[0].Text
	}
	if text == "" {
		return adapter.GenerationResult{}, errors.New("gemini: empty candidate")
	}

	out := adapter.GenerationResult{Content: text}
	if resp.UsageMetadata != nil {
		out.TokensIn = int(resp.UsageMetadata.PromptTokenCount)
		out.TokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}
