package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"content-pipeline-orchestrator/internal/domain"
	"content-pipeline-orchestrator/internal/domain/model"
	"content-pipeline-orchestrator/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

// ItemResult is the outcome of one executor invocation for one item.
// Requeue means the item made progress but has pending chunks left and
// should return to the queue without counting as a failure.
type ItemResult struct {
	Status    model.ItemStatus
	OutputRef string
	Err       string
	Requeue   bool
}

// Validator checks a generated artifact before it is accepted. Returning
// domain.ErrValidation (wrapped or not) maps to failed_validation.
type Validator func(stage model.StageKey, content string) error

// DefaultValidator rejects empty output.
func DefaultValidator(stage model.StageKey, content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: empty output for stage %s", domain.ErrValidation, stage)
	}
	return nil
}

// StepExecutor invokes exactly one external generation call per unit of
// work. It is safe under at-least-once re-invocation: items already done
// are returned as-is without a provider call. It never retries
// internally; retry discipline belongs to the claim/lease layer above.
type StepExecutor struct {
	gen         adapter.GenerationAdapter
	chunks      *ChunkUseCase
	validate    Validator
	model       string
	timeout     time.Duration
	tokenBudget int
	countTokens TokenCounter
	log         *zerolog.Logger
}

func NewStepExecutor(
	gen adapter.GenerationAdapter,
	chunks *ChunkUseCase,
	validate Validator,
	genModel string,
	timeout time.Duration,
	tokenBudget int,
	countTokens TokenCounter,
	logger *zerolog.Logger,
) *StepExecutor {
	if validate == nil {
		validate = DefaultValidator
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	execLog := logger.With().Str("component", "StepExecutor").Logger()
	return &StepExecutor{
		gen:         gen,
		chunks:      chunks,
		validate:    validate,
		model:       genModel,
		timeout:     timeout,
		tokenBudget: tokenBudget,
		countTokens: countTokens,
		log:         &execLog,
	}
}

// Execute runs the generation call for item and maps the outcome onto an
// item status. Oversized prompts are routed through the chunk tracker so
// a partial failure costs only the chunks that need re-running.
func (e *StepExecutor) Execute(ctx context.Context, job *model.Job, item *model.Item) ItemResult {
	if item.Status == model.ItemStatusDone {
		return ItemResult{Status: model.ItemStatusDone, OutputRef: item.OutputRef}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if e.oversized(item.Prompt) && e.chunks != nil {
		return e.executeChunked(ctx, job, item)
	}

	res, err := e.gen.Generate(ctx, adapter.GenerationRequest{
		JobID:      job.ID,
		UnitID:     item.ID,
		StageKey:   string(item.StageKey),
		Model:      e.model,
		Prompt:     item.Prompt,
		ProjectRef: job.ProjectRef,
	})
	if err != nil {
		e.log.Error().Err(err).Str("item_id", item.ID).Str("stage", string(item.StageKey)).Msg("generation call failed")
		return ItemResult{Status: model.ItemStatusFailed, Err: err.Error()}
	}
	if err := e.validate(item.StageKey, res.Content); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return ItemResult{Status: model.ItemStatusFailedValidation, Err: err.Error()}
		}
		return ItemResult{Status: model.ItemStatusFailed, Err: err.Error()}
	}
	ref := res.OutputRef
	if ref == "" {
		ref = artifactRef(job.ID, item)
	}
	return ItemResult{Status: model.ItemStatusDone, OutputRef: ref}
}

func (e *StepExecutor) oversized(prompt string) bool {
	if e.tokenBudget <= 0 || e.countTokens == nil {
		return false
	}
	return e.countTokens(prompt) > e.tokenBudget
}

// executeChunked drives the item through the chunk sub-job tracker.
// Chunks already done are never re-run.
func (e *StepExecutor) executeChunked(ctx context.Context, job *model.Job, item *model.Item) ItemResult {
	docID, verID := item.ID, chunkVersionRef
	group, err := e.chunks.EnsureGroup(ctx, docID, verID, item.Prompt)
	if err != nil {
		return ItemResult{Status: model.ItemStatusFailed, Err: err.Error()}
	}

	outcome, err := e.chunks.ProcessQueued(ctx, job, item, group)
	if err != nil {
		return ItemResult{Status: model.ItemStatusFailed, Err: err.Error()}
	}

	group, err = e.chunks.Status(ctx, docID, verID)
	if err != nil {
		return ItemResult{Status: model.ItemStatusFailed, Err: err.Error()}
	}
	switch {
	case group.Complete():
		return ItemResult{Status: model.ItemStatusDone, OutputRef: artifactRef(job.ID, item)}
	case outcome.Exhausted:
		return ItemResult{
			Status: chunkFailureStatus(group),
			Err:    fmt.Sprintf("%d of %d chunks missing after retry budget", len(group.MissingIndices()), len(group.Chunks)),
		}
	default:
		// More chunks to run or another caller holds some leases.
		return ItemResult{Requeue: true}
	}
}

// chunkFailureStatus maps an exhausted group onto an item status. Any
// chunk the validator rejected makes it failed_validation; a group that
// only hit provider errors is a plain failure.
func chunkFailureStatus(group *model.ChunkGroup) model.ItemStatus {
	for _, c := range group.Chunks {
		switch c.Status {
		case model.ChunkStatusFailedValidation, model.ChunkStatusNeedsRegen:
			return model.ItemStatusFailedValidation
		}
	}
	return model.ItemStatusFailed
}

// chunkVersionRef is the version key the executor writes chunk groups
// under. Targeted regeneration of other versions goes through the regen
// API directly.
const chunkVersionRef = "v1"

func artifactRef(jobID string, item *model.Item) string {
	return fmt.Sprintf("artifact://%s/%s/%d", jobID, item.StageKey, item.Index)
}
