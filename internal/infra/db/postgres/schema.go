package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
)

// schemaDDL is idempotent; EnsureSchema runs it at startup so a fresh
// database needs no external migration step.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS pipeline_jobs (
	id                   TEXT PRIMARY KEY,
	kind                 TEXT NOT NULL,
	format               TEXT NOT NULL,
	project_ref          TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL,
	auto_approve         BOOLEAN NOT NULL DEFAULT FALSE,
	stop_on_first_fail   BOOLEAN NOT NULL DEFAULT FALSE,
	pause_on_reject      BOOLEAN NOT NULL DEFAULT FALSE,
	max_items_per_tick   INT NOT NULL DEFAULT 1,
	max_attempts         INT NOT NULL DEFAULT 3,
	total_count          INT NOT NULL DEFAULT 0,
	completed_count      INT NOT NULL DEFAULT 0,
	error_count          INT NOT NULL DEFAULT 0,
	current_stage_index  INT NOT NULL DEFAULT 0,
	awaiting_approval    BOOLEAN NOT NULL DEFAULT FALSE,
	approval_stage_key   TEXT NOT NULL DEFAULT '',
	pending_artifact_ref TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL,
	started_at           TIMESTAMPTZ,
	finished_at          TIMESTAMPTZ
);`,
	`CREATE TABLE IF NOT EXISTS pipeline_items (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL REFERENCES pipeline_jobs(id),
	idx         INT NOT NULL,
	stage_key   TEXT NOT NULL,
	status      TEXT NOT NULL,
	attempts    INT NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	prompt      TEXT NOT NULL DEFAULT '',
	output_ref  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	UNIQUE (job_id, idx)
);`,
	`CREATE INDEX IF NOT EXISTS pipeline_items_runnable
	ON pipeline_items (job_id, idx)
	WHERE status IN ('queued', 'running');`,
	`CREATE TABLE IF NOT EXISTS approval_checkpoints (
	id                   TEXT PRIMARY KEY,
	job_id               TEXT NOT NULL REFERENCES pipeline_jobs(id),
	stage_key            TEXT NOT NULL,
	pending_artifact_ref TEXT NOT NULL DEFAULT '',
	requested_at         TIMESTAMPTZ NOT NULL,
	decision             TEXT NOT NULL DEFAULT '',
	decided_at           TIMESTAMPTZ,
	note                 TEXT NOT NULL DEFAULT ''
);`,
	`CREATE INDEX IF NOT EXISTS approval_checkpoints_job_stage
	ON approval_checkpoints (job_id, stage_key, requested_at DESC);`,
	`CREATE TABLE IF NOT EXISTS document_chunks (
	document_id TEXT NOT NULL,
	version_id  TEXT NOT NULL,
	idx         INT NOT NULL,
	key         TEXT NOT NULL,
	status      TEXT NOT NULL,
	attempts    INT NOT NULL DEFAULT 0,
	char_count  INT NOT NULL DEFAULT 0,
	token_count INT NOT NULL DEFAULT 0,
	body        TEXT NOT NULL DEFAULT '',
	last_error  TEXT NOT NULL DEFAULT '',
	updated_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (document_id, version_id, idx)
);`,
}

// EnsureSchema creates the orchestrator tables when missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaDDL {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
