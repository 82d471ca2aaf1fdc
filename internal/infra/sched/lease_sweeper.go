package sched

import (
	"context"
	"time"

	"content-pipeline-orchestrator/internal/domain/ports/repository"
	"content-pipeline-orchestrator/internal/infra/metrics"

	"github.com/rs/zerolog"
)

const sweepBatchSize = 50

// LeaseSweeper periodically requeues items left in running by a
// crashed worker. An item is only reset when its claim lease has
// also expired, so a slow but live worker keeps its item.
type LeaseSweeper struct {
	interval time.Duration
	staleTTL time.Duration
	items    repository.ItemRepository
	claims   repository.ClaimStore
	log      *zerolog.Logger
}

func NewLeaseSweeper(interval, staleTTL time.Duration, items repository.ItemRepository, claims repository.ClaimStore, logger *zerolog.Logger) *LeaseSweeper {
	sweepLog := logger.With().Str("component", "LeaseSweeper").Logger()
	return &LeaseSweeper{
		interval: interval,
		staleTTL: staleTTL,
		items:    items,
		claims:   claims,
		log:      &sweepLog,
	}
}

func (w *LeaseSweeper) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting lease sweeper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping lease sweeper")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.Sweep(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("lease sweep error")
			}
			if n > 0 {
				metrics.IncLeasesSwept(n)
				w.log.Info().Int("count", n).Msg("stale items requeued")
			}
		}
	}
}

// Sweep resets one batch of stale running items and reports how many
// were actually requeued.
func (w *LeaseSweeper) Sweep(ctx context.Context) (int, error) {
	staleBefore := time.Now().Add(-w.staleTTL)
	stale, err := w.items.ListStaleRunning(ctx, nil, staleBefore, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, it := range stale {
		// Check the claim: if we can take it, the original holder is gone.
		token, ok, err := w.claims.Acquire(ctx, "item:"+it.ID, w.staleTTL)
		if err != nil {
			w.log.Warn().Err(err).Str("item_id", it.ID).Msg("claim check failed")
			continue
		}
		if !ok {
			continue
		}
		reset, err := w.items.ResetStale(ctx, nil, it.ID, staleBefore)
		if rerr := w.claims.Release(ctx, "item:"+it.ID, token); rerr != nil {
			w.log.Warn().Err(rerr).Str("item_id", it.ID).Msg("claim release failed")
		}
		if err != nil {
			w.log.Warn().Err(err).Str("item_id", it.ID).Msg("stale reset failed")
			continue
		}
		if reset {
			swept++
		}
	}
	return swept, nil
}
