package model

import "time"

type ChunkStatus string

const (
	ChunkStatusQueued           ChunkStatus = "queued"
	ChunkStatusRunning          ChunkStatus = "running"
	ChunkStatusDone             ChunkStatus = "done"
	ChunkStatusFailed           ChunkStatus = "failed"
	ChunkStatusFailedValidation ChunkStatus = "failed_validation"
	ChunkStatusNeedsRegen       ChunkStatus = "needs_regen"
)

// Chunk is an independently generated, independently retryable sub-unit
// of an oversized document stage.
type Chunk struct {
	DocumentID string
	VersionID  string
	Index      int
	Key        string
	Status     ChunkStatus
	Attempts   int
	CharCount  int
	TokenCount int
	Text       string
	LastError  string
	UpdatedAt  time.Time
}

// ChunkGroup is the full chunk set for one document version. Indices are
// contiguous 0..N-1.
type ChunkGroup struct {
	DocumentID string
	VersionID  string
	Chunks     []Chunk
}

// Complete reports whether every chunk is done.
func (g *ChunkGroup) Complete() bool {
	if len(g.Chunks) == 0 {
		return false
	}
	for _, c := range g.Chunks {
		if c.Status != ChunkStatusDone {
			return false
		}
	}
	return true
}

// MissingIndices returns the indices eligible for regeneration.
func (g *ChunkGroup) MissingIndices() []int {
	var out []int
	for _, c := range g.Chunks {
		switch c.Status {
		case ChunkStatusFailed, ChunkStatusFailedValidation, ChunkStatusNeedsRegen:
			out = append(out, c.Index)
		}
	}
	return out
}
