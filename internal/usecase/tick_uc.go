package usecase

import (
	"context"
	"errors"
	"sort"
	"time"

	"content-pipeline-orchestrator/internal/domain"
	"content-pipeline-orchestrator/internal/domain/model"
	"content-pipeline-orchestrator/internal/domain/ports/repository"
	"content-pipeline-orchestrator/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TickResult reports one bounded execution of pending work for a job.
// Done is true iff the job status is terminal for the run loop
// (completed, failed, paused, stopped).
type TickResult struct {
	Done      bool
	Processed int
	Job       *model.Job
}

// TickUseCase is the tick controller: it claims and executes at most
// maxItems pending units, recomputes job counters from item state, and
// reports whether the job is done or blocked. It holds no state between
// calls, so any number of concurrent callers may tick the same job; the
// claim store keeps their item sets disjoint.
type TickUseCase struct {
	jobs      repository.JobRepository
	items     repository.ItemRepository
	approvals repository.ApprovalRepository
	claims    repository.ClaimStore
	exec      *StepExecutor
	claimTTL  time.Duration
	now       func() time.Time
	log       *zerolog.Logger
}

func NewTickUseCase(
	jobs repository.JobRepository,
	items repository.ItemRepository,
	approvals repository.ApprovalRepository,
	claims repository.ClaimStore,
	exec *StepExecutor,
	claimTTL time.Duration,
	logger *zerolog.Logger,
) *TickUseCase {
	if claimTTL <= 0 {
		claimTTL = 30 * time.Second
	}
	tickLog := logger.With().Str("component", "TickUseCase").Logger()
	return &TickUseCase{
		jobs:      jobs,
		items:     items,
		approvals: approvals,
		claims:    claims,
		exec:      exec,
		claimTTL:  claimTTL,
		now:       time.Now,
		log:       &tickLog,
	}
}

// Tick claims and executes up to maxItems queued units of the job.
// maxItems <= 0 falls back to the job policy. Paused and stopped jobs
// return immediately with Done=true and no side effects.
func (uc *TickUseCase) Tick(ctx context.Context, jobID string, maxItems int) (TickResult, error) {
	start := uc.now()
	res, err := uc.tick(ctx, jobID, maxItems)
	switch {
	case err != nil:
		metrics.ObserveTick("error", uc.now().Sub(start))
	case res.Done:
		metrics.ObserveTick("done", uc.now().Sub(start))
	default:
		metrics.ObserveTick("progress", uc.now().Sub(start))
	}
	return res, err
}

func (uc *TickUseCase) tick(ctx context.Context, jobID string, maxItems int) (TickResult, error) {
	job, err := uc.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		return TickResult{}, err
	}
	if job.Status.Terminal() {
		return TickResult{Done: true, Job: job}, nil
	}

	policy := job.Policy.Normalize()
	if maxItems <= 0 {
		maxItems = policy.MaxItemsPerTick
	}

	if job.Status == model.JobStatusQueued {
		err := uc.jobs.SetStatus(ctx, nil, job.ID, model.JobStatusRunning, model.JobStatusQueued)
		switch {
		case errors.Is(err, domain.ErrJobNotRunnable):
			// A concurrent caller moved the job first; follow its lead.
			if job, err = uc.jobs.FindByID(ctx, nil, jobID); err != nil {
				return TickResult{}, err
			}
			if job.Status.Terminal() {
				return TickResult{Done: true, Job: job}, nil
			}
		case err != nil:
			return TickResult{}, err
		default:
			job.Status = model.JobStatusRunning
		}
	}

	// Approval fast path: a still-open checkpoint blocks the whole tick.
	if job.AwaitingApproval && job.ApprovalStageKey != "" {
		_, err := uc.approvals.FindOpen(ctx, nil, job.ID, model.StageKey(job.ApprovalStageKey))
		if err == nil {
			return TickResult{Done: false, Job: job}, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return TickResult{}, err
		}
	}

	gate, err := uc.evalGate(ctx, job)
	if err != nil {
		return TickResult{}, err
	}

	staleBefore := uc.now().Add(-uc.claimTTL)
	runnable, err := uc.items.ListRunnable(ctx, nil, job.ID, staleBefore, maxItems)
	if err != nil {
		return TickResult{}, err
	}

	processed := 0
	for _, it := range runnable {
		if gate != nil && it.Index > gate.item.Index {
			// The gated stage may have completed earlier in this very
			// tick; re-evaluate before halting.
			gate, err = uc.evalGate(ctx, job)
			if err != nil {
				return TickResult{}, err
			}
			if gate != nil && it.Index > gate.item.Index {
				if err := uc.requestGate(ctx, job, gate); err != nil {
					return TickResult{}, err
				}
				break
			}
		}

		ran, failed, err := uc.runItem(ctx, job, policy, it)
		if err != nil {
			return TickResult{}, err
		}
		if ran {
			processed++
		}
		if failed && policy.StopOnFirstFail {
			if err := uc.jobs.SetStatus(ctx, nil, job.ID, model.JobStatusFailed, model.JobStatusRunning); err != nil {
				return TickResult{}, err
			}
			return uc.finish(ctx, job.ID, processed, false)
		}
	}

	// The gate may sit on the final item, with nothing beyond it to
	// trip the in-loop halt. Re-evaluate and request it here so the
	// checkpoint is recorded as soon as its artifact exists.
	if gate != nil {
		gate, err = uc.evalGate(ctx, job)
		if err != nil {
			return TickResult{}, err
		}
		if gate != nil {
			if err := uc.requestGate(ctx, job, gate); err != nil {
				return TickResult{}, err
			}
		}
	}

	return uc.finish(ctx, job.ID, processed, gate == nil)
}

// runItem claims and executes one unit. A lost claim is an expected
// skip, never an error.
func (uc *TickUseCase) runItem(ctx context.Context, job *model.Job, policy model.JobPolicy, it *model.Item) (ran, failed bool, err error) {
	unitID := "item:" + it.ID
	token, ok, err := uc.claims.Acquire(ctx, unitID, uc.claimTTL)
	if err != nil {
		return false, false, err
	}
	if !ok {
		metrics.IncClaimConflicts()
		return false, false, nil
	}
	defer func() { _ = uc.claims.Release(ctx, unitID, token) }()

	// Re-read under the claim: another caller may have finished it
	// before our claim landed.
	cur, err := uc.items.FindByID(ctx, nil, it.ID)
	if err != nil {
		return false, false, err
	}
	if cur.Status == model.ItemStatusDone {
		return false, false, nil
	}

	if cur.Attempts >= policy.MaxAttempts {
		if err := uc.items.MarkResult(ctx, nil, cur.ID, model.ItemStatusFailed, "", "retry budget exhausted", uc.now()); err != nil {
			return false, false, err
		}
		metrics.IncItemProcessed(string(model.ItemStatusFailed))
		return true, true, nil
	}

	if err := uc.items.MarkRunning(ctx, nil, cur.ID, uc.now()); err != nil {
		return false, false, err
	}

	res := uc.exec.Execute(ctx, job, cur)
	if res.Requeue {
		if err := uc.items.Requeue(ctx, nil, cur.ID); err != nil {
			return false, false, err
		}
		return true, false, nil
	}

	if err := uc.items.MarkResult(ctx, nil, cur.ID, res.Status, res.OutputRef, res.Err, uc.now()); err != nil {
		return false, false, err
	}
	metrics.IncItemProcessed(string(res.Status))

	failed = res.Status == model.ItemStatusFailed || res.Status == model.ItemStatusFailedValidation
	if failed {
		uc.log.Warn().Str("job_id", job.ID).Str("item_id", cur.ID).
			Str("stage", string(cur.StageKey)).Str("status", string(res.Status)).
			Str("error", res.Err).Msg("item execution failed")
	}
	return true, failed, nil
}

// finish recomputes counters from item state and settles terminal status.
func (uc *TickUseCase) finish(ctx context.Context, jobID string, processed int, mayComplete bool) (TickResult, error) {
	counts, err := uc.items.Counts(ctx, nil, jobID)
	if err != nil {
		return TickResult{}, err
	}

	var finishedAt *time.Time
	complete := mayComplete && counts.AllTerminal
	if complete {
		at := uc.now()
		finishedAt = &at
	}
	if err := uc.jobs.ApplyCounts(ctx, nil, jobID, counts, finishedAt); err != nil {
		return TickResult{}, err
	}
	if complete {
		if err := uc.jobs.SetStatus(ctx, nil, jobID, model.JobStatusCompleted, model.JobStatusRunning); err != nil &&
			!errors.Is(err, domain.ErrJobNotRunnable) {
			return TickResult{}, err
		}
	}

	job, err := uc.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		return TickResult{}, err
	}
	return TickResult{Done: job.Status.Terminal(), Processed: processed, Job: job}, nil
}

// gateState marks the first approval-gated item lacking an approved
// decision. Nothing with a greater index may execute until it has one.
type gateState struct {
	item        *model.Item
	needRequest bool
}

// evalGate walks the ladder in index order. A gated stage blocks once
// its own item is done and the latest checkpoint is not an approval; a
// rejection reopens only after a fresh proposal (item re-finished after
// the decision).
func (uc *TickUseCase) evalGate(ctx context.Context, job *model.Job) (*gateState, error) {
	if job.Policy.AutoApprove {
		return nil, nil
	}
	all, err := uc.items.ListByJob(ctx, nil, job.ID)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Index < all[j].Index })

	for _, it := range all {
		if !model.StageRequiresApproval(job.Format, it.StageKey) {
			continue
		}
		cp, err := uc.approvals.FindLatest(ctx, nil, job.ID, it.StageKey)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if cp != nil && cp.Decision == model.ApprovalApproved {
			continue
		}
		if it.Status != model.ItemStatusDone {
			// No artifact to review yet; the gated stage itself may
			// still run, everything beyond it may not.
			return &gateState{item: it}, nil
		}
		open := cp != nil && !cp.Decided()
		fresh := cp == nil ||
			(cp.Decision == model.ApprovalRejected && it.FinishedAt != nil &&
				cp.DecidedAt != nil && it.FinishedAt.After(*cp.DecidedAt))
		return &gateState{item: it, needRequest: fresh && !open}, nil
	}
	return nil, nil
}

// requestGate records the checkpoint (when a fresh proposal exists) and
// flips the job into awaiting_approval. A gate whose own item has not
// produced an artifact yet blocks by position alone; there is nothing to
// review, so no checkpoint and no flag.
func (uc *TickUseCase) requestGate(ctx context.Context, job *model.Job, gate *gateState) error {
	if gate.item.Status != model.ItemStatusDone {
		return nil
	}
	if gate.needRequest {
		cp := &model.ApprovalCheckpoint{
			ID:                 uuid.NewString(),
			JobID:              job.ID,
			StageKey:           gate.item.StageKey,
			PendingArtifactRef: gate.item.OutputRef,
			RequestedAt:        uc.now(),
		}
		if err := uc.approvals.Save(ctx, nil, cp); err != nil {
			return err
		}
		metrics.IncApprovalRequested()
		uc.log.Info().Str("job_id", job.ID).Str("stage", string(gate.item.StageKey)).
			Str("artifact", gate.item.OutputRef).Msg("approval requested")
	}
	return uc.jobs.SetAwaitingApproval(ctx, nil, job.ID, true, gate.item.StageKey)
}
