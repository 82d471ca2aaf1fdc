package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"content-pipeline-orchestrator/internal/domain"
	"content-pipeline-orchestrator/internal/domain/model"
	"content-pipeline-orchestrator/internal/domain/ports/repository"
)

var _ repository.ApprovalRepository = (*approvalRepo)(nil)

type approvalRepo struct {
	pool *pgxpool.Pool
}

func NewApprovalRepo(pool *pgxpool.Pool) *approvalRepo {
	return &approvalRepo{pool: pool}
}

const approvalColumns = `
id, job_id, stage_key, pending_artifact_ref, requested_at, decision, decided_at, note`

func (r *approvalRepo) Save(ctx context.Context, tx repository.Tx, cp *model.ApprovalCheckpoint) error {
	const q = `
INSERT INTO approval_checkpoints (` + approvalColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  decision = EXCLUDED.decision,
  decided_at = EXCLUDED.decided_at,
  note = EXCLUDED.note;`
	_, err := execSQL(ctx, r.pool, tx, q,
		cp.ID, cp.JobID, string(cp.StageKey), cp.PendingArtifactRef,
		cp.RequestedAt, string(cp.Decision), cp.DecidedAt, cp.Note)
	return err
}

func (r *approvalRepo) FindOpen(ctx context.Context, tx repository.Tx, jobID string, stage model.StageKey) (*model.ApprovalCheckpoint, error) {
	const q = `
SELECT ` + approvalColumns + `
  FROM approval_checkpoints
 WHERE job_id = $1 AND stage_key = $2 AND decision = ''
 ORDER BY requested_at DESC
 LIMIT 1;`
	return r.findOne(ctx, tx, q, jobID, string(stage))
}

func (r *approvalRepo) FindLatest(ctx context.Context, tx repository.Tx, jobID string, stage model.StageKey) (*model.ApprovalCheckpoint, error) {
	const q = `
SELECT ` + approvalColumns + `
  FROM approval_checkpoints
 WHERE job_id = $1 AND stage_key = $2
 ORDER BY requested_at DESC
 LIMIT 1;`
	return r.findOne(ctx, tx, q, jobID, string(stage))
}

func (r *approvalRepo) ListByJob(ctx context.Context, tx repository.Tx, jobID string) ([]*model.ApprovalCheckpoint, error) {
	const q = `
SELECT ` + approvalColumns + `
  FROM approval_checkpoints
 WHERE job_id = $1
 ORDER BY requested_at;`
	rows, err := pickRows(ctx, r.pool, tx, q, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.ApprovalCheckpoint
	for rows.Next() {
		cp, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (r *approvalRepo) findOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.ApprovalCheckpoint, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanApproval(row)
}

func scanApproval(row pgx.Row) (*model.ApprovalCheckpoint, error) {
	var cp model.ApprovalCheckpoint
	var stage, decision string
	err := row.Scan(&cp.ID, &cp.JobID, &stage, &cp.PendingArtifactRef,
		&cp.RequestedAt, &decision, &cp.DecidedAt, &cp.Note)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	cp.StageKey = model.StageKey(stage)
	cp.Decision = model.ApprovalDecision(decision)
	return &cp, nil
}
