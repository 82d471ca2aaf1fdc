package model

import "time"

type ApprovalDecision string

const (
	ApprovalUndecided ApprovalDecision = ""
	ApprovalApproved  ApprovalDecision = "approved"
	ApprovalRejected  ApprovalDecision = "rejected"
)

// ApprovalCheckpoint records a human decision gate reached by a job.
// One checkpoint exists per (job, stage) reach; a rejected checkpoint
// stays on record and a fresh proposal opens a new one.
type ApprovalCheckpoint struct {
	ID                 string
	JobID              string
	StageKey           StageKey
	PendingArtifactRef string
	RequestedAt        time.Time
	Decision           ApprovalDecision
	DecidedAt          *time.Time
	Note               string
}

func (c *ApprovalCheckpoint) Decided() bool {
	return c.Decision != ApprovalUndecided
}
