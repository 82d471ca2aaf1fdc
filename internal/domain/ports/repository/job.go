package repository

import (
	"context"
	"time"

	"content-pipeline-orchestrator/internal/domain/model"
)

// JobCounts is the aggregate the tick controller recomputes after every
// tick. It is derived from item state, never drifted incrementally.
type JobCounts struct {
	Total             int
	Completed         int
	Errors            int
	CurrentStageIndex int
	AllTerminal       bool
}

type JobRepository interface {
	Save(ctx context.Context, tx Tx, job *model.Job) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Job, error)

	// SetStatus is a conditional write: it succeeds only when the job is
	// currently in one of the listed from-states, and returns
	// domain.ErrJobNotRunnable otherwise. This is the atomic primitive
	// pause/resume/stop lean on under concurrent callers.
	SetStatus(ctx context.Context, tx Tx, id string, to model.JobStatus, from ...model.JobStatus) error

	// SetAwaitingApproval flips the approval block flag and the gated
	// stage key in one write.
	SetAwaitingApproval(ctx context.Context, tx Tx, id string, awaiting bool, stageKey model.StageKey) error

	// SetPendingArtifact pins an approved artifact version onto the job.
	SetPendingArtifact(ctx context.Context, tx Tx, id, artifactRef string) error

	// ApplyCounts persists a recomputed JobCounts snapshot.
	ApplyCounts(ctx context.Context, tx Tx, id string, c JobCounts, finishedAt *time.Time) error
}
