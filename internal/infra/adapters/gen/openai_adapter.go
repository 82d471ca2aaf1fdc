package gen

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"content-pipeline-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.GenerationAdapter = (*OpenAIAdapter)(nil)

// OpenAIAdapter generates stage content through the Chat Completions API.
type OpenAIAdapter struct {
	client       openai.Client
	defaultModel string
}

func NewOpenAIAdapter(apiKey, defaultModel string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai: empty api key")
	}
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	return &OpenAIAdapter{
		client:       openai.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: defaultModel,
	}, nil
}

func (o *OpenAIAdapter) Name() string { return "openai" }

func (o *OpenAIAdapter) Generate(ctx context.Context, req adapter.GenerationRequest) (adapter.GenerationResult, error) {
	model := req.Model
	if model == "" {
		model = o.defaultModel
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(stageInstruction(req.StageKey)),
			openai.UserMessage(req.Prompt),
		},
	})
	if err != nil {
		return adapter.GenerationResult{}, fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return adapter.GenerationResult{}, errors.New("openai: empty completion")
	}

	return adapter.GenerationResult{
		Content:   resp.Choices[0].Message.Content,
		TokensIn:  int(resp.Usage.PromptTokens),
		TokensOut: int(resp.Usage.CompletionTokens),
	}, nil
}
