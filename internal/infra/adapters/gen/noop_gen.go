package gen

import (
	"context"
	"fmt"
	"time"

	"content-pipeline-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.GenerationAdapter = (*NoopAdapter)(nil)

// NoopAdapter fabricates deterministic content for local/dev runs so
// the pipeline can be exercised without provider credentials.
type NoopAdapter struct {
	delay time.Duration
}

func NewNoopAdapter(delay time.Duration) *NoopAdapter {
	return &NoopAdapter{delay: delay}
}

func (a *NoopAdapter) Name() string { return "noop" }

func (a *NoopAdapter) Generate(ctx context.Context, req adapter.GenerationRequest) (adapter.GenerationResult, error) {
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return adapter.GenerationResult{}, ctx.Err()
		}
	}
	content := fmt.Sprintf("[noop:%s] %s", req.StageKey, req.Prompt)
	return adapter.GenerationResult{
		Content:   content,
		TokensIn:  len(req.Prompt) / 4,
		TokensOut: len(content) / 4,
	}, nil
}
