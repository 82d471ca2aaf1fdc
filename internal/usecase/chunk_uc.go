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
	"content-pipeline-orchestrator/internal/domain/ports/repository"
	"content-pipeline-orchestrator/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// TokenCounter reports the provider token count of a text. Implementations
// may be approximate; the count only gates chunk splitting.
type TokenCounter func(text string) int

// ChunkOutcome summarizes one ProcessQueued pass.
type ChunkOutcome struct {
	Ran       int
	Exhausted bool
}

// ChunkUseCase splits an oversized unit into independently retryable
// chunks and tracks them. Chunks already done are never re-run, which
// bounds the blast radius of a partial failure to exactly the chunks
// that need it.
type ChunkUseCase struct {
	repo        repository.ChunkRepository
	claims      repository.ClaimStore
	gen         adapter.GenerationAdapter
	validate    Validator
	countTokens TokenCounter
	tokenBudget int
	claimTTL    time.Duration
	maxAttempts int
	now         func() time.Time
	log         *zerolog.Logger
}

func NewChunkUseCase(
	repo repository.ChunkRepository,
	claims repository.ClaimStore,
	gen adapter.GenerationAdapter,
	validate Validator,
	countTokens TokenCounter,
	tokenBudget int,
	claimTTL time.Duration,
	maxAttempts int,
	logger *zerolog.Logger,
) *ChunkUseCase {
	if validate == nil {
		validate = DefaultValidator
	}
	if tokenBudget <= 0 {
		tokenBudget = 2048
	}
	if claimTTL <= 0 {
		claimTTL = 30 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	chunkLog := logger.With().Str("component", "ChunkUseCase").Logger()
	return &ChunkUseCase{
		repo:        repo,
		claims:      claims,
		gen:         gen,
		validate:    validate,
		countTokens: countTokens,
		tokenBudget: tokenBudget,
		claimTTL:    claimTTL,
		maxAttempts: maxAttempts,
		now:         time.Now,
		log:         &chunkLog,
	}
}

// Status returns the chunk group for a document version.
func (uc *ChunkUseCase) Status(ctx context.Context, documentID, versionID string) (*model.ChunkGroup, error) {
	return uc.repo.FindGroup(ctx, nil, documentID, versionID)
}

// EnsureGroup returns the existing group or lazily creates one by
// splitting text under the token budget.
func (uc *ChunkUseCase) EnsureGroup(ctx context.Context, documentID, versionID, text string) (*model.ChunkGroup, error) {
	group, err := uc.repo.FindGroup(ctx, nil, documentID, versionID)
	if err == nil {
		return group, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	group = &model.ChunkGroup{
		DocumentID: documentID,
		VersionID:  versionID,
		Chunks:     uc.split(documentID, versionID, text),
	}
	if err := uc.repo.SaveGroup(ctx, nil, group); err != nil {
		return nil, err
	}
	uc.log.Info().Str("document_id", documentID).Str("version_id", versionID).
		Int("chunks", len(group.Chunks)).Msg("chunk group created")
	return group, nil
}

// RegenerateMissing enqueues exactly the chunks in {failed,
// failed_validation, needs_regen} and returns their indices.
func (uc *ChunkUseCase) RegenerateMissing(ctx context.Context, documentID, versionID string) ([]int, error) {
	group, err := uc.repo.FindGroup(ctx, nil, documentID, versionID)
	if err != nil {
		return nil, err
	}
	missing := group.MissingIndices()
	if len(missing) == 0 {
		return nil, nil
	}
	if err := uc.repo.RequeueIndices(ctx, nil, documentID, versionID, missing); err != nil {
		return nil, err
	}
	metrics.IncChunkRegens(len(missing))
	uc.log.Info().Str("document_id", documentID).Str("version_id", versionID).
		Ints("indices", missing).Msg("missing chunks requeued")
	return missing, nil
}

// ProcessQueued runs every claimable non-done chunk of the group once.
// The same lease-plus-bounded-attempts discipline used for items applies
// per chunk: a failed chunk is retried until its attempt budget runs
// out, and a chunk whose lease is held by another caller is skipped.
func (uc *ChunkUseCase) ProcessQueued(ctx context.Context, job *model.Job, item *model.Item, group *model.ChunkGroup) (ChunkOutcome, error) {
	var out ChunkOutcome
	for _, c := range group.Chunks {
		if c.Status == model.ChunkStatusDone {
			continue
		}
		if c.Attempts >= uc.maxAttempts {
			out.Exhausted = true
			continue
		}

		unitID := chunkUnitID(group.DocumentID, group.VersionID, c.Index)
		token, ok, err := uc.claims.Acquire(ctx, unitID, uc.claimTTL)
		if err != nil {
			return out, err
		}
		if !ok {
			metrics.IncClaimConflicts()
			continue
		}

		uc.runChunk(ctx, job, item, group, c)
		out.Ran++
		_ = uc.claims.Release(ctx, unitID, token)
	}
	return out, nil
}

func (uc *ChunkUseCase) runChunk(ctx context.Context, job *model.Job, item *model.Item, group *model.ChunkGroup, c model.Chunk) {
	if err := uc.repo.MarkStatus(ctx, nil, group.DocumentID, group.VersionID, c.Index,
		model.ChunkStatusRunning, "", uc.now()); err != nil {
		uc.log.Error().Err(err).Int("chunk", c.Index).Msg("mark chunk running failed")
		return
	}

	res, err := uc.gen.Generate(ctx, adapter.GenerationRequest{
		JobID:      job.ID,
		UnitID:     chunkUnitID(group.DocumentID, group.VersionID, c.Index),
		StageKey:   string(item.StageKey),
		Prompt:     c.Text,
		ProjectRef: job.ProjectRef,
	})

	status := model.ChunkStatusDone
	msg := ""
	switch {
	case err != nil:
		status, msg = model.ChunkStatusFailed, err.Error()
	default:
		if verr := uc.validate(item.StageKey, res.Content); verr != nil {
			if errors.Is(verr, domain.ErrValidation) {
				status, msg = model.ChunkStatusFailedValidation, verr.Error()
			} else {
				status, msg = model.ChunkStatusFailed, verr.Error()
			}
		}
	}

	metrics.IncChunkRuns(string(status))
	if err := uc.repo.MarkStatus(ctx, nil, group.DocumentID, group.VersionID, c.Index, status, msg, uc.now()); err != nil {
		uc.log.Error().Err(err).Int("chunk", c.Index).Msg("mark chunk result failed")
	}
}

// split breaks text into paragraph-aligned chunks under the token budget.
// Indices are contiguous 0..N-1.
func (uc *ChunkUseCase) split(documentID, versionID, text string) []model.Chunk {
	paras := strings.Split(text, "\n\n")
	var chunks []model.Chunk
	var buf strings.Builder
	bufTokens := 0

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		idx := len(chunks)
		chunks = append(chunks, model.Chunk{
			DocumentID: documentID,
			VersionID:  versionID,
			Index:      idx,
			Key:        fmt.Sprintf("c%04d", idx),
			Status:     model.ChunkStatusQueued,
			CharCount:  buf.Len(),
			TokenCount: bufTokens,
			Text:       buf.String(),
		})
		buf.Reset()
		bufTokens = 0
	}

	for _, p := range paras {
		if strings.TrimSpace(p) == "" {
			continue
		}
		t := uc.tokens(p)
		if bufTokens > 0 && bufTokens+t > uc.tokenBudget {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(p)
		bufTokens += t
	}
	flush()

	if len(chunks) == 0 {
		chunks = append(chunks, model.Chunk{
			DocumentID: documentID,
			VersionID:  versionID,
			Index:      0,
			Key:        "c0000",
			Status:     model.ChunkStatusQueued,
			CharCount:  len(text),
			TokenCount: uc.tokens(text),
			Text:       text,
		})
	}
	return chunks
}

func (uc *ChunkUseCase) tokens(text string) int {
	if uc.countTokens == nil {
		// Rough heuristic when no tokenizer is wired.
		return len(text) / 4
	}
	return uc.countTokens(text)
}

func chunkUnitID(documentID, versionID string, index int) string {
	return fmt.Sprintf("chunk:%s:%s:%d", documentID, versionID, index)
}
