package model

import "time"

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusStopped   JobStatus = "stopped"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

type JobKind string

const (
	JobKindAutorun      JobKind = "autorun"
	JobKindEpisodeBatch JobKind = "episode_batch"
	JobKindClipQueue    JobKind = "clip_queue"
	JobKindAudioQueue   JobKind = "audio_queue"
	JobKindRenderQueue  JobKind = "render_queue"
)

// JobPolicy controls how ticks drive a job.
type JobPolicy struct {
	AutoApprove     bool `json:"auto_approve"`
	StopOnFirstFail bool `json:"stop_on_first_fail"`
	PauseOnReject   bool `json:"pause_on_reject"`
	MaxItemsPerTick int  `json:"max_items_per_tick"`
	MaxAttempts     int  `json:"max_attempts"`
}

// Job is one pipeline run. All progress state lives here and on its items;
// the orchestrator keeps nothing in memory between ticks.
type Job struct {
	ID                 string
	Kind               JobKind
	Format             string
	ProjectRef         string
	Status             JobStatus
	Policy             JobPolicy
	TotalCount         int
	CompletedCount     int
	ErrorCount         int
	CurrentStageIndex  int
	AwaitingApproval   bool
	ApprovalStageKey   string
	PendingArtifactRef string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	StartedAt          *time.Time
	FinishedAt         *time.Time
}

// Terminal reports whether no further ticks can change the job
// without an explicit resume or retry.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusPaused, JobStatusStopped, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// CanTransition enforces the monotone status machine. The only backward
// moves allowed are paused->running (resume) and failed->running (retry).
func (s JobStatus) CanTransition(to JobStatus) bool {
	if s == to {
		return true
	}
	switch s {
	case JobStatusQueued:
		return to == JobStatusRunning || to == JobStatusStopped
	case JobStatusRunning:
		return to == JobStatusPaused || to == JobStatusStopped ||
			to == JobStatusCompleted || to == JobStatusFailed
	case JobStatusPaused:
		return to == JobStatusRunning || to == JobStatusStopped
	case JobStatusFailed:
		return to == JobStatusRunning
	}
	return false
}

func (p JobPolicy) Normalize() JobPolicy {
	if p.MaxItemsPerTick <= 0 {
		p.MaxItemsPerTick = 1
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	return p
}
