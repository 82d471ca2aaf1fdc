package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"content-pipeline-orchestrator/internal/domain"
	"content-pipeline-orchestrator/internal/domain/model"
)

type approvalEnv struct {
	jobs      *memJobRepo
	items     *memItemRepo
	approvals *memApprovalRepo
	uc        *ApprovalUseCase
}

func newApprovalEnv(t *testing.T, job *model.Job, items []*model.Item) *approvalEnv {
	t.Helper()
	ctx := context.Background()
	env := &approvalEnv{
		jobs:      newMemJobRepo(),
		items:     newMemItemRepo(),
		approvals: newMemApprovalRepo(),
	}
	env.uc = NewApprovalUseCase(env.jobs, env.items, env.approvals, nopTxManager{}, newTestLogger())
	if err := env.jobs.Save(ctx, nil, job); err != nil {
		t.Fatalf("save job: %v", err)
	}
	if err := env.items.CreateBatch(ctx, nil, items); err != nil {
		t.Fatalf("create items: %v", err)
	}
	return env
}

func openCheckpoint(t *testing.T, env *approvalEnv, jobID string, stage model.StageKey, artifact string) {
	t.Helper()
	err := env.approvals.Save(context.Background(), nil, &model.ApprovalCheckpoint{
		ID:                 "cp-" + string(stage),
		JobID:              jobID,
		StageKey:           stage,
		PendingArtifactRef: artifact,
		RequestedAt:        time.Now(),
	})
	if err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}
}

func TestApprovalDecide(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("approve pins the artifact and clears the block", func(t *testing.T) {
		t.Parallel()
		job := makeJob("appr-1", "film", model.JobPolicy{})
		job.Status = model.JobStatusRunning
		job.AwaitingApproval = true
		job.ApprovalStageKey = string(model.StageTreatment)
		items := makeItems(job.ID, model.StageLogline, model.StageSynopsis, model.StageTreatment)
		items[2].Status = model.ItemStatusDone
		items[2].OutputRef = "artifact://appr-1/treatment/2"
		env := newApprovalEnv(t, job, items)
		openCheckpoint(t, env, job.ID, model.StageTreatment, items[2].OutputRef)

		if err := env.uc.Decide(ctx, job.ID, model.StageTreatment, true, "ship it"); err != nil {
			t.Fatalf("decide: %v", err)
		}

		got, _ := env.jobs.FindByID(ctx, nil, job.ID)
		if got.AwaitingApproval {
			t.Fatal("job still awaiting approval")
		}
		if got.PendingArtifactRef != items[2].OutputRef {
			t.Fatalf("pinned artifact = %q, want %q", got.PendingArtifactRef, items[2].OutputRef)
		}
		cp, _ := env.approvals.FindLatest(ctx, nil, job.ID, model.StageTreatment)
		if cp.Decision != model.ApprovalApproved || cp.Note != "ship it" || cp.DecidedAt == nil {
			t.Fatalf("checkpoint = %+v", cp)
		}
	})

	t.Run("reject marks the gated item needs_regen", func(t *testing.T) {
		t.Parallel()
		job := makeJob("appr-2", "film", model.JobPolicy{})
		job.Status = model.JobStatusRunning
		items := makeItems(job.ID, model.StageTreatment)
		items[0].Status = model.ItemStatusDone
		items[0].OutputRef = "artifact://appr-2/treatment/0"
		env := newApprovalEnv(t, job, items)
		openCheckpoint(t, env, job.ID, model.StageTreatment, items[0].OutputRef)

		if err := env.uc.Decide(ctx, job.ID, model.StageTreatment, false, "too thin"); err != nil {
			t.Fatalf("decide: %v", err)
		}

		it, _ := env.items.FindByID(ctx, nil, items[0].ID)
		if it.Status != model.ItemStatusNeedsRegen {
			t.Fatalf("item status = %s, want needs_regen", it.Status)
		}
		// The rejected artifact stays referenced for the re-proposal UI.
		if it.OutputRef != items[0].OutputRef {
			t.Fatalf("output ref cleared: %q", it.OutputRef)
		}
		got, _ := env.jobs.FindByID(ctx, nil, job.ID)
		if got.Status != model.JobStatusRunning {
			t.Fatalf("job status = %s, want running", got.Status)
		}
	})

	t.Run("reject pauses the job when the policy says so", func(t *testing.T) {
		t.Parallel()
		job := makeJob("appr-3", "film", model.JobPolicy{PauseOnReject: true})
		job.Status = model.JobStatusRunning
		items := makeItems(job.ID, model.StageTreatment)
		items[0].Status = model.ItemStatusDone
		env := newApprovalEnv(t, job, items)
		openCheckpoint(t, env, job.ID, model.StageTreatment, "art")

		if err := env.uc.Decide(ctx, job.ID, model.StageTreatment, false, ""); err != nil {
			t.Fatalf("decide: %v", err)
		}
		got, _ := env.jobs.FindByID(ctx, nil, job.ID)
		if got.Status != model.JobStatusPaused {
			t.Fatalf("job status = %s, want paused", got.Status)
		}
	})

	t.Run("deciding without an open checkpoint is stale", func(t *testing.T) {
		t.Parallel()
		job := makeJob("appr-4", "film", model.JobPolicy{})
		env := newApprovalEnv(t, job, nil)

		err := env.uc.Decide(ctx, job.ID, model.StageTreatment, true, "")
		if !errors.Is(err, domain.ErrStaleDecision) {
			t.Fatalf("err = %v, want ErrStaleDecision", err)
		}
	})

	t.Run("double decision is stale", func(t *testing.T) {
		t.Parallel()
		job := makeJob("appr-5", "film", model.JobPolicy{})
		job.Status = model.JobStatusRunning
		items := makeItems(job.ID, model.StageTreatment)
		items[0].Status = model.ItemStatusDone
		env := newApprovalEnv(t, job, items)
		openCheckpoint(t, env, job.ID, model.StageTreatment, "art")

		if err := env.uc.Decide(ctx, job.ID, model.StageTreatment, true, ""); err != nil {
			t.Fatalf("first decide: %v", err)
		}
		err := env.uc.Decide(ctx, job.ID, model.StageTreatment, false, "")
		if !errors.Is(err, domain.ErrStaleDecision) {
			t.Fatalf("err = %v, want ErrStaleDecision", err)
		}
	})
}

func TestApprovalRepropose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("requeues the rejected item", func(t *testing.T) {
		t.Parallel()
		job := makeJob("rep-1", "film", model.JobPolicy{})
		job.Status = model.JobStatusRunning
		items := makeItems(job.ID, model.StageTreatment)
		items[0].Status = model.ItemStatusDone
		env := newApprovalEnv(t, job, items)
		openCheckpoint(t, env, job.ID, model.StageTreatment, "art")
		if err := env.uc.Decide(ctx, job.ID, model.StageTreatment, false, ""); err != nil {
			t.Fatalf("reject: %v", err)
		}

		if err := env.uc.Repropose(ctx, job.ID, model.StageTreatment); err != nil {
			t.Fatalf("repropose: %v", err)
		}
		it, _ := env.items.FindByID(ctx, nil, items[0].ID)
		if it.Status != model.ItemStatusQueued || it.Attempts != 0 {
			t.Fatalf("item = %s attempts=%d, want queued with fresh budget", it.Status, it.Attempts)
		}
	})

	t.Run("rejects when the stage was not rejected", func(t *testing.T) {
		t.Parallel()
		job := makeJob("rep-2", "film", model.JobPolicy{})
		job.Status = model.JobStatusRunning
		items := makeItems(job.ID, model.StageTreatment)
		items[0].Status = model.ItemStatusDone
		env := newApprovalEnv(t, job, items)
		openCheckpoint(t, env, job.ID, model.StageTreatment, "art")
		if err := env.uc.Decide(ctx, job.ID, model.StageTreatment, true, ""); err != nil {
			t.Fatalf("approve: %v", err)
		}

		err := env.uc.Repropose(ctx, job.ID, model.StageTreatment)
		if !errors.Is(err, domain.ErrNoProposal) {
			t.Fatalf("err = %v, want ErrNoProposal", err)
		}
	})

	t.Run("requeues a gated item that burned its attempt budget", func(t *testing.T) {
		t.Parallel()
		job := makeJob("rep-4", "film", model.JobPolicy{MaxAttempts: 1})
		job.Status = model.JobStatusRunning
		items := makeItems(job.ID, model.StageTreatment)
		items[0].Status = model.ItemStatusFailed
		items[0].Attempts = 1
		env := newApprovalEnv(t, job, items)

		// No checkpoint was ever opened; the stage never produced an
		// artifact to review. Re-proposal is still the recovery path.
		if err := env.uc.Repropose(ctx, job.ID, model.StageTreatment); err != nil {
			t.Fatalf("repropose: %v", err)
		}
		it, _ := env.items.FindByID(ctx, nil, items[0].ID)
		if it.Status != model.ItemStatusQueued || it.Attempts != 0 {
			t.Fatalf("item = %s attempts=%d, want queued with fresh budget", it.Status, it.Attempts)
		}
	})

	t.Run("demands a decision while the checkpoint is open", func(t *testing.T) {
		t.Parallel()
		job := makeJob("rep-5", "film", model.JobPolicy{})
		job.Status = model.JobStatusRunning
		items := makeItems(job.ID, model.StageTreatment)
		items[0].Status = model.ItemStatusDone
		env := newApprovalEnv(t, job, items)
		openCheckpoint(t, env, job.ID, model.StageTreatment, "art")

		err := env.uc.Repropose(ctx, job.ID, model.StageTreatment)
		if !errors.Is(err, domain.ErrApprovalRequired) {
			t.Fatalf("err = %v, want ErrApprovalRequired", err)
		}
	})

	t.Run("rejects when the stage has no item", func(t *testing.T) {
		t.Parallel()
		job := makeJob("rep-3", "film", model.JobPolicy{})
		env := newApprovalEnv(t, job, nil)
		err := env.uc.Repropose(ctx, job.ID, model.StageTreatment)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}
