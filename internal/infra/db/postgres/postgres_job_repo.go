package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"content-pipeline-orchestrator/internal/domain"
	"content-pipeline-orchestrator/internal/domain/model"
	"content-pipeline-orchestrator/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

const jobColumns = `
id, kind, format, project_ref, status,
auto_approve, stop_on_first_fail, pause_on_reject, max_items_per_tick, max_attempts,
total_count, completed_count, error_count, current_stage_index,
awaiting_approval, approval_stage_key, pending_artifact_ref,
created_at, updated_at, started_at, finished_at`

func (r *jobRepo) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	job.UpdatedAt = time.Now()
	const q = `
INSERT INTO pipeline_jobs (` + jobColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  completed_count = EXCLUDED.completed_count,
  error_count = EXCLUDED.error_count,
  current_stage_index = EXCLUDED.current_stage_index,
  awaiting_approval = EXCLUDED.awaiting_approval,
  approval_stage_key = EXCLUDED.approval_stage_key,
  pending_artifact_ref = EXCLUDED.pending_artifact_ref,
  updated_at = EXCLUDED.updated_at,
  started_at = EXCLUDED.started_at,
  finished_at = EXCLUDED.finished_at;`

	_, err := execSQL(ctx, r.pool, tx, q,
		job.ID, job.Kind, job.Format, job.ProjectRef, job.Status,
		job.Policy.AutoApprove, job.Policy.StopOnFirstFail, job.Policy.PauseOnReject,
		job.Policy.MaxItemsPerTick, job.Policy.MaxAttempts,
		job.TotalCount, job.CompletedCount, job.ErrorCount, job.CurrentStageIndex,
		job.AwaitingApproval, job.ApprovalStageKey, job.PendingArtifactRef,
		job.CreatedAt, job.UpdatedAt, job.StartedAt, job.FinishedAt)
	return err
}

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM pipeline_jobs WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var kind, status string
	err := row.Scan(
		&j.ID, &kind, &j.Format, &j.ProjectRef, &status,
		&j.Policy.AutoApprove, &j.Policy.StopOnFirstFail, &j.Policy.PauseOnReject,
		&j.Policy.MaxItemsPerTick, &j.Policy.MaxAttempts,
		&j.TotalCount, &j.CompletedCount, &j.ErrorCount, &j.CurrentStageIndex,
		&j.AwaitingApproval, &j.ApprovalStageKey, &j.PendingArtifactRef,
		&j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	j.Kind = model.JobKind(kind)
	j.Status = model.JobStatus(status)
	return &j, nil
}

// SetStatus succeeds only from one of the listed states. Zero affected
// rows means the job moved concurrently: ErrJobNotRunnable.
func (r *jobRepo) SetStatus(ctx context.Context, tx repository.Tx, id string, to model.JobStatus, from ...model.JobStatus) error {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	const q = `
UPDATE pipeline_jobs
   SET status = $2,
       updated_at = $3,
       started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN $3 ELSE started_at END
 WHERE id = $1 AND status = ANY($4);`

	tag, err := execSQL(ctx, r.pool, tx, q, id, string(to), time.Now(), states)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotRunnable
	}
	return nil
}

func (r *jobRepo) SetAwaitingApproval(ctx context.Context, tx repository.Tx, id string, awaiting bool, stageKey model.StageKey) error {
	const q = `
UPDATE pipeline_jobs
   SET awaiting_approval = $2, approval_stage_key = $3, updated_at = $4
 WHERE id = $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, awaiting, string(stageKey), time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *jobRepo) SetPendingArtifact(ctx context.Context, tx repository.Tx, id, artifactRef string) error {
	const q = `
UPDATE pipeline_jobs SET pending_artifact_ref = $2, updated_at = $3 WHERE id = $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, artifactRef, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *jobRepo) ApplyCounts(ctx context.Context, tx repository.Tx, id string, c repository.JobCounts, finishedAt *time.Time) error {
	const q = `
UPDATE pipeline_jobs
   SET completed_count = $2,
       error_count = $3,
       current_stage_index = $4,
       finished_at = COALESCE($5, finished_at),
       updated_at = $6
 WHERE id = $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, c.Completed, c.Errors, c.CurrentStageIndex, finishedAt, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
