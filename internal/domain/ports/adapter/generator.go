package adapter

import "context"

// GenerationRequest is one external generation call for a stage unit.
type GenerationRequest struct {
	JobID      string `json:"job_id"`
	UnitID     string `json:"unit_id"`
	StageKey   string `json:"stage_key"`
	Model      string `json:"model"`
	Prompt     string `json:"prompt"`
	ProjectRef string `json:"project_ref"`
}

// GenerationResult carries the produced artifact and provider usage.
type GenerationResult struct {
	Content   string
	OutputRef string
	TokensIn  int
	TokensOut int
}

// GenerationAdapter is the port for the external content-generation
// provider. Implementations make exactly one provider call per Generate
// invocation and never retry internally; at-least-once semantics are the
// caller's concern.
type GenerationAdapter interface {
	Name() string
	Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error)
}
