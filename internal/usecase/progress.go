package usecase

import (
	"sort"
	"time"

	"content-pipeline-orchestrator/internal/domain/model"
)

// ProgressReport is a read-only derivation from item timestamps. It has
// no side effects and is safe to recompute on every observation.
type ProgressReport struct {
	TotalSteps     int           `json:"total_steps"`
	CompletedSteps int           `json:"completed_steps"`
	Percent        float64       `json:"percent"`
	Elapsed        time.Duration `json:"elapsed"`
	AvgStep        time.Duration `json:"avg_step"`
	ETA            time.Duration `json:"eta"`
	// HasETA is false below two completed samples to avoid
	// single-sample noise.
	HasETA bool `json:"has_eta"`
}

// Estimate derives progress from the job and item timestamps. Average
// step duration comes from consecutive completed-item finish times,
// falling back to elapsed/steps below two samples.
func Estimate(job *model.Job, items []*model.Item, now time.Time) ProgressReport {
	r := ProgressReport{TotalSteps: len(items)}
	if job == nil || len(items) == 0 {
		return r
	}
	r.Elapsed = now.Sub(job.CreatedAt)

	var finishes []time.Time
	for _, it := range items {
		if it.Status == model.ItemStatusDone && it.FinishedAt != nil {
			finishes = append(finishes, *it.FinishedAt)
		}
	}
	r.CompletedSteps = len(finishes)
	r.Percent = float64(r.CompletedSteps) / float64(r.TotalSteps) * 100

	remaining := r.TotalSteps - r.CompletedSteps
	if len(finishes) >= 2 {
		sort.Slice(finishes, func(i, j int) bool { return finishes[i].Before(finishes[j]) })
		span := finishes[len(finishes)-1].Sub(finishes[0])
		r.AvgStep = span / time.Duration(len(finishes)-1)
		r.ETA = r.AvgStep * time.Duration(remaining)
		r.HasETA = true
	} else if r.TotalSteps > 0 {
		r.AvgStep = r.Elapsed / time.Duration(r.TotalSteps)
	}
	return r
}
