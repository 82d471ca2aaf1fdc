//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"content-pipeline-orchestrator/internal/domain/model"
)

func seedItems(t *testing.T, jobID string, stages ...model.StageKey) []*model.Item {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	items := make([]*model.Item, len(stages))
	for i, s := range stages {
		items[i] = &model.Item{
			ID:        fmt.Sprintf("%s-item-%d", jobID, i),
			JobID:     jobID,
			Index:     i,
			StageKey:  s,
			Status:    model.ItemStatusQueued,
			Prompt:    "write " + string(s),
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	if err := NewItemRepo(testPool).CreateBatch(context.Background(), nil, items); err != nil {
		t.Fatalf("seed items: %v", err)
	}
	return items
}

func TestItemRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	repo := NewItemRepo(testPool)
	ctx := context.Background()

	t.Run("ListRunnable returns queued and stale running items in index order", func(t *testing.T) {
		cleanup(t)

		job := seedJob(t, "it-run", model.JobStatusRunning)
		items := seedItems(t, job.ID, model.StageLogline, model.StageSynopsis, model.StageTreatment)
		now := time.Now().UTC()

		// Item 0 holds a live lease, item 1 an abandoned one.
		if err := repo.MarkRunning(ctx, nil, items[0].ID, now); err != nil {
			t.Fatalf("MarkRunning: %v", err)
		}
		if err := repo.MarkRunning(ctx, nil, items[1].ID, now.Add(-2*time.Minute)); err != nil {
			t.Fatalf("MarkRunning: %v", err)
		}

		runnable, err := repo.ListRunnable(ctx, nil, job.ID, now.Add(-time.Minute), 10)
		if err != nil {
			t.Fatalf("ListRunnable: %v", err)
		}
		if len(runnable) != 2 {
			t.Fatalf("runnable = %d, want 2 (stale running + queued)", len(runnable))
		}
		if runnable[0].ID != items[1].ID || runnable[1].ID != items[2].ID {
			t.Errorf("order = %s, %s", runnable[0].ID, runnable[1].ID)
		}

		limited, _ := repo.ListRunnable(ctx, nil, job.ID, now.Add(-time.Minute), 1)
		if len(limited) != 1 {
			t.Errorf("limit ignored: got %d", len(limited))
		}
	})

	t.Run("MarkRunning bumps attempts and refuses done items", func(t *testing.T) {
		cleanup(t)

		job := seedJob(t, "it-mark", model.JobStatusRunning)
		items := seedItems(t, job.ID, model.StageLogline)
		now := time.Now().UTC()

		if err := repo.MarkRunning(ctx, nil, items[0].ID, now); err != nil {
			t.Fatalf("MarkRunning: %v", err)
		}
		found, _ := repo.FindByID(ctx, nil, items[0].ID)
		if found.Attempts != 1 || found.Status != model.ItemStatusRunning {
			t.Fatalf("item = %s attempts=%d", found.Status, found.Attempts)
		}

		if err := repo.MarkResult(ctx, nil, items[0].ID, model.ItemStatusDone, "artifact://x", "", now); err != nil {
			t.Fatalf("MarkResult: %v", err)
		}
		found, _ = repo.FindByID(ctx, nil, items[0].ID)
		if found.Status != model.ItemStatusDone || found.FinishedAt == nil {
			t.Fatalf("item = %s finished=%v", found.Status, found.FinishedAt)
		}

		// A done item must be immune to a late claimant.
		if err := repo.MarkRunning(ctx, nil, items[0].ID, now.Add(time.Second)); err == nil {
			t.Fatal("MarkRunning succeeded on a done item")
		}
	})

	t.Run("Requeue re-arms the attempt budget", func(t *testing.T) {
		cleanup(t)

		job := seedJob(t, "it-requeue", model.JobStatusRunning)
		items := seedItems(t, job.ID, model.StageLogline)
		now := time.Now().UTC()

		_ = repo.MarkRunning(ctx, nil, items[0].ID, now)
		_ = repo.MarkResult(ctx, nil, items[0].ID, model.ItemStatusFailed, "", "provider down", now)

		if err := repo.Requeue(ctx, nil, items[0].ID); err != nil {
			t.Fatalf("Requeue: %v", err)
		}
		found, _ := repo.FindByID(ctx, nil, items[0].ID)
		if found.Status != model.ItemStatusQueued || found.Attempts != 0 {
			t.Errorf("item = %s attempts=%d, want queued/0", found.Status, found.Attempts)
		}
		if found.FinishedAt != nil {
			t.Error("finished_at survived a requeue")
		}
	})

	t.Run("ResetStale only touches leases older than the cutoff", func(t *testing.T) {
		cleanup(t)

		job := seedJob(t, "it-stale", model.JobStatusRunning)
		items := seedItems(t, job.ID, model.StageLogline, model.StageSynopsis)
		now := time.Now().UTC()

		_ = repo.MarkRunning(ctx, nil, items[0].ID, now.Add(-2*time.Minute))
		_ = repo.MarkRunning(ctx, nil, items[1].ID, now)

		stale, err := repo.ListStaleRunning(ctx, nil, now.Add(-time.Minute), 10)
		if err != nil {
			t.Fatalf("ListStaleRunning: %v", err)
		}
		if len(stale) != 1 || stale[0].ID != items[0].ID {
			t.Fatalf("stale = %v", stale)
		}

		reset, err := repo.ResetStale(ctx, nil, items[0].ID, now.Add(-time.Minute))
		if err != nil || !reset {
			t.Fatalf("ResetStale = %v/%v, want true/nil", reset, err)
		}
		found, _ := repo.FindByID(ctx, nil, items[0].ID)
		if found.Status != model.ItemStatusQueued || found.Attempts != 1 {
			t.Errorf("item = %s attempts=%d, attempts must survive a sweep", found.Status, found.Attempts)
		}

		// The fresh lease stays put.
		reset, err = repo.ResetStale(ctx, nil, items[1].ID, now.Add(-time.Minute))
		if err != nil || reset {
			t.Fatalf("ResetStale touched a live lease: %v/%v", reset, err)
		}
	})

	t.Run("Counts aggregates item state for the job", func(t *testing.T) {
		cleanup(t)

		job := seedJob(t, "it-counts", model.JobStatusRunning)
		items := seedItems(t, job.ID, model.StageLogline, model.StageSynopsis, model.StageTreatment, model.StageOutline)
		now := time.Now().UTC()

		_ = repo.MarkResult(ctx, nil, items[0].ID, model.ItemStatusDone, "a", "", now)
		_ = repo.MarkResult(ctx, nil, items[1].ID, model.ItemStatusFailed, "", "x", now)
		_ = repo.MarkResult(ctx, nil, items[2].ID, model.ItemStatusNeedsRegen, "", "rejected", now)

		counts, err := repo.Counts(ctx, nil, job.ID)
		if err != nil {
			t.Fatalf("Counts: %v", err)
		}
		if counts.Total != 4 || counts.Completed != 1 || counts.Errors != 2 {
			t.Errorf("counts = %+v", counts)
		}
		if counts.AllTerminal {
			t.Error("one item is still queued")
		}
		if counts.CurrentStageIndex != 1 {
			t.Errorf("stage index = %d, want first not-done index", counts.CurrentStageIndex)
		}

		_ = repo.MarkResult(ctx, nil, items[3].ID, model.ItemStatusDone, "b", "", now)
		counts, _ = repo.Counts(ctx, nil, job.ID)
		if !counts.AllTerminal {
			t.Error("all items terminal but AllTerminal is false")
		}
	})
}
