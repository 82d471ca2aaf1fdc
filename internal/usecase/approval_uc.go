package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"content-pipeline-orchestrator/internal/domain"
	"content-pipeline-orchestrator/internal/domain/model"
	"content-pipeline-orchestrator/internal/domain/ports/repository"
	"content-pipeline-orchestrator/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// ApprovalUseCase resolves human decision checkpoints. Approving pins
// the reviewed artifact onto the job so later stages reference a stable
// input; rejecting marks the gated item needs_regen (or pauses the job,
// per policy) and demands a fresh proposal before the gate can be
// requested again.
type ApprovalUseCase struct {
	jobs      repository.JobRepository
	items     repository.ItemRepository
	approvals repository.ApprovalRepository
	tm        repository.TransactionManager
	now       func() time.Time
	log       *zerolog.Logger
}

func NewApprovalUseCase(
	jobs repository.JobRepository,
	items repository.ItemRepository,
	approvals repository.ApprovalRepository,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *ApprovalUseCase {
	apprLog := logger.With().Str("component", "ApprovalUseCase").Logger()
	return &ApprovalUseCase{
		jobs:      jobs,
		items:     items,
		approvals: approvals,
		tm:        tm,
		now:       time.Now,
		log:       &apprLog,
	}
}

// Decide records the decision for the open checkpoint at (job, stage).
// Deciding a stage that is not awaiting a decision is ErrStaleDecision.
func (uc *ApprovalUseCase) Decide(ctx context.Context, jobID string, stage model.StageKey, approved bool, note string) error {
	cp, err := uc.approvals.FindOpen(ctx, nil, jobID, stage)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: no open checkpoint for stage %s", domain.ErrStaleDecision, stage)
		}
		return err
	}

	at := uc.now()
	cp.DecidedAt = &at
	cp.Note = note
	if approved {
		cp.Decision = model.ApprovalApproved
	} else {
		cp.Decision = model.ApprovalRejected
	}

	err = uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.approvals.Save(ctx, tx, cp); err != nil {
			return err
		}
		if err := uc.jobs.SetAwaitingApproval(ctx, tx, jobID, false, ""); err != nil {
			return err
		}
		if approved {
			return uc.jobs.SetPendingArtifact(ctx, tx, jobID, cp.PendingArtifactRef)
		}
		return uc.reject(ctx, tx, jobID, stage)
	})
	if err != nil {
		return err
	}

	metrics.IncApprovalDecision(string(cp.Decision))
	uc.log.Info().Str("job_id", jobID).Str("stage", string(stage)).
		Str("decision", string(cp.Decision)).Msg("approval decided")
	return nil
}

// reject marks the gated item needs_regen, or pauses the whole job when
// the policy prefers a hard stop on rejection.
func (uc *ApprovalUseCase) reject(ctx context.Context, tx repository.Tx, jobID string, stage model.StageKey) error {
	job, err := uc.jobs.FindByID(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if job.Policy.PauseOnReject {
		err := uc.jobs.SetStatus(ctx, tx, jobID, model.JobStatusPaused, model.JobStatusRunning, model.JobStatusQueued)
		if err != nil && !errors.Is(err, domain.ErrJobNotRunnable) {
			return err
		}
		return nil
	}

	gated, err := uc.gatedItem(ctx, tx, jobID, stage)
	if err != nil {
		return err
	}
	return uc.items.MarkResult(ctx, tx, gated.ID, model.ItemStatusNeedsRegen, gated.OutputRef, "rejected at approval gate", uc.now())
}

// Repropose requeues a gated stage so a fresh artifact can be produced
// and the gate requested again. Any regenerable item qualifies: a
// rejected proposal, a validation failure, or an item whose attempt
// budget ran out while the gate blocked the stages behind it. Neither
// rejection nor exhaustion is a terminal job state.
func (uc *ApprovalUseCase) Repropose(ctx context.Context, jobID string, stage model.StageKey) error {
	gated, err := uc.gatedItem(ctx, nil, jobID, stage)
	if err != nil {
		return err
	}
	if !gated.Status.Regenerable() {
		if _, err := uc.approvals.FindOpen(ctx, nil, jobID, stage); err == nil {
			return fmt.Errorf("%w: stage %s has an undecided checkpoint", domain.ErrApprovalRequired, stage)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: item at stage %s is %s", domain.ErrNoProposal, stage, gated.Status)
	}
	if err := uc.items.Requeue(ctx, nil, gated.ID); err != nil {
		return err
	}
	uc.log.Info().Str("job_id", jobID).Str("stage", string(stage)).Msg("stage reproposed")
	return nil
}

func (uc *ApprovalUseCase) gatedItem(ctx context.Context, tx repository.Tx, jobID string, stage model.StageKey) (*model.Item, error) {
	items, err := uc.items.ListByJob(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if it.StageKey == stage {
			return it, nil
		}
	}
	return nil, fmt.Errorf("%w: no item at stage %s", domain.ErrNotFound, stage)
}
