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

var _ repository.ItemRepository = (*itemRepo)(nil)

type itemRepo struct {
	pool *pgxpool.Pool
}

func NewItemRepo(pool *pgxpool.Pool) *itemRepo {
	return &itemRepo{pool: pool}
}

const itemColumns = `
id, job_id, idx, stage_key, status, attempts, last_error, prompt, output_ref,
created_at, updated_at, started_at, finished_at`

func (r *itemRepo) CreateBatch(ctx context.Context, tx repository.Tx, items []*model.Item) error {
	const q = `
INSERT INTO pipeline_items (` + itemColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13);`
	for _, it := range items {
		if _, err := execSQL(ctx, r.pool, tx, q,
			it.ID, it.JobID, it.Index, string(it.StageKey), string(it.Status),
			it.Attempts, it.LastError, it.Prompt, it.OutputRef,
			it.CreatedAt, it.UpdatedAt, it.StartedAt, it.FinishedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r *itemRepo) ListByJob(ctx context.Context, tx repository.Tx, jobID string) ([]*model.Item, error) {
	const q = `SELECT ` + itemColumns + ` FROM pipeline_items WHERE job_id=$1 ORDER BY idx;`
	rows, err := pickRows(ctx, r.pool, tx, q, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

func (r *itemRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Item, error) {
	const q = `SELECT ` + itemColumns + ` FROM pipeline_items WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanItem(row)
}

// ListRunnable returns queued items plus running items whose lease has
// gone stale, in index order. The claim store still arbitrates actual
// ownership; this query only proposes candidates.
func (r *itemRepo) ListRunnable(ctx context.Context, tx repository.Tx, jobID string, staleBefore time.Time, limit int) ([]*model.Item, error) {
	const q = `
SELECT ` + itemColumns + `
  FROM pipeline_items
 WHERE job_id = $1
   AND (status = 'queued' OR (status = 'running' AND updated_at < $2))
 ORDER BY idx
 LIMIT $3;`
	rows, err := pickRows(ctx, r.pool, tx, q, jobID, staleBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

func (r *itemRepo) MarkRunning(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	const q = `
UPDATE pipeline_items
   SET status = 'running',
       attempts = attempts + 1,
       started_at = COALESCE(started_at, $2),
       updated_at = $2
 WHERE id = $1 AND status <> 'done';`
	tag, err := execSQL(ctx, r.pool, tx, q, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *itemRepo) MarkResult(ctx context.Context, tx repository.Tx, id string, status model.ItemStatus, outputRef, lastError string, at time.Time) error {
	const q = `
UPDATE pipeline_items
   SET status = $2,
       output_ref = $3,
       last_error = $4,
       finished_at = $5,
       updated_at = $5
 WHERE id = $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, string(status), outputRef, lastError, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *itemRepo) Requeue(ctx context.Context, tx repository.Tx, id string) error {
	const q = `
UPDATE pipeline_items
   SET status = 'queued', attempts = 0, last_error = '', finished_at = NULL, updated_at = $2
 WHERE id = $1 AND status <> 'done';`
	tag, err := execSQL(ctx, r.pool, tx, q, id, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *itemRepo) ListStaleRunning(ctx context.Context, tx repository.Tx, staleBefore time.Time, limit int) ([]*model.Item, error) {
	const q = `
SELECT ` + itemColumns + `
  FROM pipeline_items
 WHERE status = 'running' AND updated_at < $1
 ORDER BY updated_at
 LIMIT $2;`
	rows, err := pickRows(ctx, r.pool, tx, q, staleBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

func (r *itemRepo) ResetStale(ctx context.Context, tx repository.Tx, id string, staleBefore time.Time) (bool, error) {
	const q = `
UPDATE pipeline_items
   SET status = 'queued', updated_at = $3
 WHERE id = $1 AND status = 'running' AND updated_at < $2;`
	ct, err := execSQL(ctx, r.pool, tx, q, id, staleBefore, time.Now())
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (r *itemRepo) Counts(ctx context.Context, tx repository.Tx, jobID string) (repository.JobCounts, error) {
	const q = `
SELECT count(*),
       count(*) FILTER (WHERE status = 'done'),
       count(*) FILTER (WHERE status IN ('failed','failed_validation','needs_regen')),
       count(*) FILTER (WHERE status IN ('done','failed','failed_validation','needs_regen','skipped')),
       COALESCE(min(idx) FILTER (WHERE status NOT IN ('done','skipped')), count(*))
  FROM pipeline_items
 WHERE job_id = $1;`

	var c repository.JobCounts
	var terminal int
	row, err := pickRow(ctx, r.pool, tx, q, jobID)
	if err != nil {
		return c, err
	}
	if err := row.Scan(&c.Total, &c.Completed, &c.Errors, &terminal, &c.CurrentStageIndex); err != nil {
		return c, domain.ErrReadDatabaseRow
	}
	c.AllTerminal = c.Total > 0 && terminal == c.Total
	return c, nil
}

func scanItems(rows pgx.Rows) ([]*model.Item, error) {
	var out []*model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func scanItem(row pgx.Row) (*model.Item, error) {
	var it model.Item
	var stage, status string
	err := row.Scan(&it.ID, &it.JobID, &it.Index, &stage, &status, &it.Attempts,
		&it.LastError, &it.Prompt, &it.OutputRef,
		&it.CreatedAt, &it.UpdatedAt, &it.StartedAt, &it.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	it.StageKey = model.StageKey(stage)
	it.Status = model.ItemStatus(status)
	return &it, nil
}
