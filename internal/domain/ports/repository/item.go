package repository

import (
	"context"
	"time"

	"content-pipeline-orchestrator/internal/domain/model"
)

type ItemRepository interface {
	CreateBatch(ctx context.Context, tx Tx, items []*model.Item) error
	ListByJob(ctx context.Context, tx Tx, jobID string) ([]*model.Item, error)
	FindByID(ctx context.Context, tx Tx, id string) (*model.Item, error)

	// ListRunnable returns, in index order and up to limit, the items a
	// tick may claim: queued items plus running items whose last update
	// predates staleBefore (an abandoned lease).
	ListRunnable(ctx context.Context, tx Tx, jobID string, staleBefore time.Time, limit int) ([]*model.Item, error)

	// MarkRunning transitions queued (or stale-running) -> running and
	// bumps attempts. Conditional on the item not being done.
	MarkRunning(ctx context.Context, tx Tx, id string, at time.Time) error

	// MarkResult records a terminal execution result.
	MarkResult(ctx context.Context, tx Tx, id string, status model.ItemStatus, outputRef, lastError string, at time.Time) error

	// Requeue returns an item to queued and re-arms its attempt budget.
	// Used by explicit retry/re-proposal and by chunked continuation;
	// the automated crash-loop bound comes from MarkRunning's counter.
	Requeue(ctx context.Context, tx Tx, id string) error

	// ListStaleRunning returns items across all jobs stuck in running
	// since before staleBefore; the lease sweeper feeds on it.
	ListStaleRunning(ctx context.Context, tx Tx, staleBefore time.Time, limit int) ([]*model.Item, error)

	// ResetStale flips one stale running item back to queued and
	// reports whether a row changed. The attempt counter survives so
	// a crash loop stays bounded.
	ResetStale(ctx context.Context, tx Tx, id string, staleBefore time.Time) (bool, error)

	// Counts aggregates item state for the owning job.
	Counts(ctx context.Context, tx Tx, jobID string) (JobCounts, error)
}
