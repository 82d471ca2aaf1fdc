package model

import "time"

type ItemStatus string

const (
	ItemStatusQueued           ItemStatus = "queued"
	ItemStatusRunning          ItemStatus = "running"
	ItemStatusDone             ItemStatus = "done"
	ItemStatusFailed           ItemStatus = "failed"
	ItemStatusFailedValidation ItemStatus = "failed_validation"
	ItemStatusNeedsRegen       ItemStatus = "needs_regen"
	ItemStatusSkipped          ItemStatus = "skipped"
)

// Item is a single unit of generation work inside a job. Index order
// defines execution order for a single caller's sequence of ticks.
type Item struct {
	ID         string
	JobID      string
	Index      int
	StageKey   StageKey
	Status     ItemStatus
	Attempts   int
	LastError  string
	Prompt     string
	OutputRef  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Terminal reports whether the item needs no further execution.
// failed_validation and needs_regen are terminal for the tick loop but
// remain actionable through targeted regeneration.
func (s ItemStatus) Terminal() bool {
	switch s {
	case ItemStatusDone, ItemStatusFailed, ItemStatusFailedValidation,
		ItemStatusNeedsRegen, ItemStatusSkipped:
		return true
	}
	return false
}

// Regenerable reports whether a targeted regen may re-enqueue the item.
func (s ItemStatus) Regenerable() bool {
	switch s {
	case ItemStatusFailed, ItemStatusFailedValidation, ItemStatusNeedsRegen:
		return true
	}
	return false
}
