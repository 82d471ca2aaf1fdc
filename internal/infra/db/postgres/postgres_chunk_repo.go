package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"content-pipeline-orchestrator/internal/domain"
	"content-pipeline-orchestrator/internal/domain/model"
	"content-pipeline-orchestrator/internal/domain/ports/repository"
)

var _ repository.ChunkRepository = (*chunkRepo)(nil)

type chunkRepo struct {
	pool *pgxpool.Pool
}

func NewChunkRepo(pool *pgxpool.Pool) *chunkRepo {
	return &chunkRepo{pool: pool}
}

func (r *chunkRepo) SaveGroup(ctx context.Context, tx repository.Tx, group *model.ChunkGroup) error {
	const del = `DELETE FROM document_chunks WHERE document_id=$1 AND version_id=$2;`
	if _, err := execSQL(ctx, r.pool, tx, del, group.DocumentID, group.VersionID); err != nil {
		return err
	}

	const ins = `
INSERT INTO document_chunks
  (document_id, version_id, idx, key, status, attempts, char_count, token_count, body, last_error, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11);`
	now := time.Now()
	for _, c := range group.Chunks {
		if _, err := execSQL(ctx, r.pool, tx, ins,
			group.DocumentID, group.VersionID, c.Index, c.Key, string(c.Status),
			c.Attempts, c.CharCount, c.TokenCount, c.Text, c.LastError, now); err != nil {
			return err
		}
	}
	return nil
}

func (r *chunkRepo) FindGroup(ctx context.Context, tx repository.Tx, documentID, versionID string) (*model.ChunkGroup, error) {
	const q = `
SELECT idx, key, status, attempts, char_count, token_count, body, last_error, updated_at
  FROM document_chunks
 WHERE document_id = $1 AND version_id = $2
 ORDER BY idx;`
	rows, err := pickRows(ctx, r.pool, tx, q, documentID, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	group := &model.ChunkGroup{DocumentID: documentID, VersionID: versionID}
	for rows.Next() {
		var c model.Chunk
		var status string
		if err := rows.Scan(&c.Index, &c.Key, &status, &c.Attempts,
			&c.CharCount, &c.TokenCount, &c.Text, &c.LastError, &c.UpdatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		c.DocumentID = documentID
		c.VersionID = versionID
		c.Status = model.ChunkStatus(status)
		group.Chunks = append(group.Chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(group.Chunks) == 0 {
		return nil, domain.ErrNotFound
	}
	return group, nil
}

func (r *chunkRepo) MarkStatus(ctx context.Context, tx repository.Tx, documentID, versionID string, index int, status model.ChunkStatus, lastError string, at time.Time) error {
	const q = `
UPDATE document_chunks
   SET status = $4,
       last_error = $5,
       updated_at = $6,
       attempts = attempts + CASE WHEN $4 = 'running' THEN 1 ELSE 0 END
 WHERE document_id = $1 AND version_id = $2 AND idx = $3;`
	tag, err := execSQL(ctx, r.pool, tx, q, documentID, versionID, index, string(status), lastError, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *chunkRepo) RequeueIndices(ctx context.Context, tx repository.Tx, documentID, versionID string, indices []int) error {
	idx := make([]int32, len(indices))
	for i, v := range indices {
		idx[i] = int32(v)
	}
	const q = `
UPDATE document_chunks
   SET status = 'queued', attempts = 0, last_error = '', updated_at = $4
 WHERE document_id = $1 AND version_id = $2 AND idx = ANY($3);`
	_, err := execSQL(ctx, r.pool, tx, q, documentID, versionID, idx, time.Now())
	return err
}
