package usecase

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"content-pipeline-orchestrator/internal/domain"
	"content-pipeline-orchestrator/internal/domain/model"
	"content-pipeline-orchestrator/internal/domain/ports/repository"
	"content-pipeline-orchestrator/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// StartParams describes a job to materialize.
type StartParams struct {
	Kind       model.JobKind
	Format     string
	ProjectRef string
	Policy     model.JobPolicy
	// Count is the unit count for batch kinds (episodes, clips); ignored
	// for autorun, whose items come from the stage ladder.
	Count int
	// Prompts optionally seeds per-item prompts; index-aligned, padded
	// with the stage key when short.
	Prompts []string
}

// JobStatusView is the resume-on-reload snapshot for callers.
type JobStatusView struct {
	Job      *model.Job
	Items    []*model.Item
	Progress ProgressReport
}

// PipelineUseCase owns job lifecycle operations. Every mutation is an
// atomic conditional write, so duplicate requests from concurrent
// callers settle deterministically.
type PipelineUseCase struct {
	jobs  repository.JobRepository
	items repository.ItemRepository
	tm    repository.TransactionManager
	now   func() time.Time
	log   *zerolog.Logger
}

func NewPipelineUseCase(
	jobs repository.JobRepository,
	items repository.ItemRepository,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *PipelineUseCase {
	pipeLog := logger.With().Str("component", "PipelineUseCase").Logger()
	return &PipelineUseCase{
		jobs:  jobs,
		items: items,
		tm:    tm,
		now:   time.Now,
		log:   &pipeLog,
	}
}

// Start materializes a job and its items from the stage ladder and
// returns the created records.
func (uc *PipelineUseCase) Start(ctx context.Context, p StartParams) (*model.Job, []*model.Item, error) {
	if p.Kind == "" {
		return nil, nil, fmt.Errorf("%w: kind is required", domain.ErrInvalidArgument)
	}
	if p.Format == "" {
		p.Format = model.DefaultFormat
	}
	now := uc.now()

	job := &model.Job{
		ID:         ulid.MustNew(ulid.Timestamp(now), rand.New(rand.NewSource(now.UnixNano()))).String(),
		Kind:       p.Kind,
		Format:     p.Format,
		ProjectRef: p.ProjectRef,
		Status:     model.JobStatusQueued,
		Policy:     p.Policy.Normalize(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	items, err := uc.materialize(job, p, now)
	if err != nil {
		return nil, nil, err
	}
	job.TotalCount = len(items)

	err = uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.jobs.Save(ctx, tx, job); err != nil {
			return err
		}
		return uc.items.CreateBatch(ctx, tx, items)
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.IncJobStarted(string(p.Kind))
	uc.log.Info().Str("job_id", job.ID).Str("kind", string(p.Kind)).
		Str("format", p.Format).Int("total", job.TotalCount).Msg("job started")
	return job, items, nil
}

// materialize builds the item set: one item per ladder stage for
// autorun, Count items at the kind's single stage for batch kinds.
func (uc *PipelineUseCase) materialize(job *model.Job, p StartParams, now time.Time) ([]*model.Item, error) {
	var stages []model.StageKey
	switch p.Kind {
	case model.JobKindAutorun:
		stages = model.LadderFor(p.Format)
	case model.JobKindEpisodeBatch, model.JobKindClipQueue, model.JobKindAudioQueue, model.JobKindRenderQueue:
		if p.Count <= 0 {
			return nil, fmt.Errorf("%w: count must be positive for %s", domain.ErrInvalidArgument, p.Kind)
		}
		stage := batchStage(p.Kind)
		stages = make([]model.StageKey, p.Count)
		for i := range stages {
			stages[i] = stage
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidArgument, p.Kind)
	}

	items := make([]*model.Item, len(stages))
	for i, stage := range stages {
		prompt := string(stage)
		if i < len(p.Prompts) && p.Prompts[i] != "" {
			prompt = p.Prompts[i]
		}
		items[i] = &model.Item{
			ID:        uuid.NewString(),
			JobID:     job.ID,
			Index:     i,
			StageKey:  stage,
			Status:    model.ItemStatusQueued,
			Prompt:    prompt,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return items, nil
}

func batchStage(kind model.JobKind) model.StageKey {
	switch kind {
	case model.JobKindEpisodeBatch:
		return model.StageEpisode
	case model.JobKindClipQueue:
		return model.StageClip
	case model.JobKindAudioQueue:
		return model.StageAudio
	default:
		return model.StageRender
	}
}

// Status returns the job, its items, and a derived progress estimate.
func (uc *PipelineUseCase) Status(ctx context.Context, jobID string) (*JobStatusView, error) {
	job, err := uc.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	items, err := uc.items.ListByJob(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	return &JobStatusView{
		Job:      job,
		Items:    items,
		Progress: Estimate(job, items, uc.now()),
	}, nil
}

// Pause persists paused before any local loop flag is consulted, so
// state survives the driving process exiting right after.
func (uc *PipelineUseCase) Pause(ctx context.Context, jobID string) error {
	return uc.transition(ctx, jobID, model.JobStatusPaused,
		model.JobStatusQueued, model.JobStatusRunning)
}

// Resume restarts ticking from current progress; no re-execution happens
// because ticks skip items already done.
func (uc *PipelineUseCase) Resume(ctx context.Context, jobID string) error {
	return uc.transition(ctx, jobID, model.JobStatusRunning, model.JobStatusPaused)
}

// Stop is a terminal cancel; in-flight executor calls are not
// interrupted, they simply find the job stopped on the next tick.
func (uc *PipelineUseCase) Stop(ctx context.Context, jobID string) error {
	return uc.transition(ctx, jobID, model.JobStatusStopped,
		model.JobStatusQueued, model.JobStatusRunning, model.JobStatusPaused)
}

// Retry flips a failed job back to running without resetting completed
// items. Failed items return to the queue with a fresh attempt budget;
// an explicit human retry re-arms the bounded-attempts discipline.
func (uc *PipelineUseCase) Retry(ctx context.Context, jobID string) error {
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.jobs.SetStatus(ctx, tx, jobID, model.JobStatusRunning, model.JobStatusFailed); err != nil {
			return err
		}
		items, err := uc.items.ListByJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if it.Status == model.ItemStatusFailed {
				if err := uc.items.Requeue(ctx, tx, it.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err == nil {
		metrics.IncJobTransition(string(model.JobStatusRunning))
		uc.log.Info().Str("job_id", jobID).Msg("job retried")
	}
	return err
}

func (uc *PipelineUseCase) transition(ctx context.Context, jobID string, to model.JobStatus, from ...model.JobStatus) error {
	if err := uc.jobs.SetStatus(ctx, nil, jobID, to, from...); err != nil {
		return err
	}
	metrics.IncJobTransition(string(to))
	uc.log.Info().Str("job_id", jobID).Str("status", string(to)).Msg("job transition")
	return nil
}
