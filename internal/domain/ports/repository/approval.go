package repository

import (
	"context"

	"content-pipeline-orchestrator/internal/domain/model"
)

type ApprovalRepository interface {
	Save(ctx context.Context, tx Tx, cp *model.ApprovalCheckpoint) error

	// FindOpen returns the undecided checkpoint for (job, stage), or
	// domain.ErrNotFound when none is pending.
	FindOpen(ctx context.Context, tx Tx, jobID string, stage model.StageKey) (*model.ApprovalCheckpoint, error)

	// FindLatest returns the most recent checkpoint for (job, stage)
	// regardless of decision state.
	FindLatest(ctx context.Context, tx Tx, jobID string, stage model.StageKey) (*model.ApprovalCheckpoint, error)

	ListByJob(ctx context.Context, tx Tx, jobID string) ([]*model.ApprovalCheckpoint, error)
}
