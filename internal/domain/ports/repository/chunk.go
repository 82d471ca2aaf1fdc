package repository

import (
	"context"
	"time"

	"content-pipeline-orchestrator/internal/domain/model"
)

type ChunkRepository interface {
	// SaveGroup inserts or replaces the chunk set for a document version.
	SaveGroup(ctx context.Context, tx Tx, group *model.ChunkGroup) error

	FindGroup(ctx context.Context, tx Tx, documentID, versionID string) (*model.ChunkGroup, error)

	// MarkStatus records one chunk's transition; attempts bump only on
	// the move into running.
	MarkStatus(ctx context.Context, tx Tx, documentID, versionID string, index int, status model.ChunkStatus, lastError string, at time.Time) error

	// RequeueIndices flips the listed chunks back to queued and re-arms
	// their attempt budget.
	RequeueIndices(ctx context.Context, tx Tx, documentID, versionID string, indices []int) error
}
