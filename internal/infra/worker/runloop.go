package worker

import (
	"context"
	"sync/atomic"
	"time"

	"content-pipeline-orchestrator/internal/domain/model"
	"content-pipeline-orchestrator/internal/usecase"

	"github.com/rs/zerolog"
)

// LoopState mirrors the persisted job status for a single driving loop.
type LoopState string

const (
	LoopIdle     LoopState = "idle"
	LoopRunning  LoopState = "running"
	LoopPaused   LoopState = "paused"
	LoopComplete LoopState = "complete"
	LoopFailed   LoopState = "failed"
)

// TickInvoker is the slice of the tick controller the loop needs.
type TickInvoker interface {
	Tick(ctx context.Context, jobID string, maxItems int) (usecase.TickResult, error)
}

// Pauser persists a pause before the loop consults its local flag.
type Pauser interface {
	Pause(ctx context.Context, jobID string) error
}

// RunLoop drives one job to a terminal status by repeated bounded
// ticks. Transient tick errors are retried after a fixed delay and
// never terminate the loop; only an authoritative terminal job status
// does. Backoff grows on no-progress ticks and resets on progress.
type RunLoop struct {
	ticker TickInvoker
	pauser Pauser

	backoffBase time.Duration
	backoffMax  time.Duration
	retryDelay  time.Duration

	state atomic.Value // LoopState
	abort atomic.Bool
	log   *zerolog.Logger
}

func NewRunLoop(ticker TickInvoker, pauser Pauser, backoffBase, backoffMax, retryDelay time.Duration, logger *zerolog.Logger) *RunLoop {
	if backoffBase <= 0 {
		backoffBase = 2 * time.Second
	}
	if backoffMax < backoffBase {
		backoffMax = 30 * time.Second
	}
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	loopLog := logger.With().Str("component", "RunLoop").Logger()
	l := &RunLoop{
		ticker:      ticker,
		pauser:      pauser,
		backoffBase: backoffBase,
		backoffMax:  backoffMax,
		retryDelay:  retryDelay,
		log:         &loopLog,
	}
	l.state.Store(LoopIdle)
	return l
}

func (l *RunLoop) State() LoopState {
	return l.state.Load().(LoopState)
}

// Pause persists the paused status first, then flips the local abort
// flag, so state is correct even if this process exits immediately
// after.
func (l *RunLoop) Pause(ctx context.Context, jobID string) error {
	if err := l.pauser.Pause(ctx, jobID); err != nil {
		return err
	}
	l.abort.Store(true)
	return nil
}

// Run ticks the job until terminal. Cancellation is cooperative: an
// in-flight tick finishes, then the loop observes ctx and returns.
func (l *RunLoop) Run(ctx context.Context, jobID string, maxItems int) (model.JobStatus, error) {
	l.state.Store(LoopRunning)
	backoff := l.backoffBase

	for {
		if err := ctx.Err(); err != nil {
			l.state.Store(LoopIdle)
			return "", err
		}
		if l.abort.Load() {
			l.state.Store(LoopPaused)
			return model.JobStatusPaused, nil
		}

		res, err := l.ticker.Tick(ctx, jobID, maxItems)
		if err != nil {
			// Transient infra failure: never terminal for the loop.
			l.log.Warn().Err(err).Str("job_id", jobID).Msg("tick failed, retrying")
			if !l.sleep(ctx, l.retryDelay) {
				l.state.Store(LoopIdle)
				return "", ctx.Err()
			}
			continue
		}

		if res.Done {
			status := res.Job.Status
			switch status {
			case model.JobStatusCompleted:
				l.state.Store(LoopComplete)
			case model.JobStatusFailed:
				l.state.Store(LoopFailed)
			case model.JobStatusPaused:
				l.state.Store(LoopPaused)
			default:
				l.state.Store(LoopIdle)
			}
			l.log.Info().Str("job_id", jobID).Str("status", string(status)).Msg("run loop finished")
			return status, nil
		}

		if res.Processed > 0 {
			backoff = l.backoffBase
		} else {
			backoff *= 2
			if backoff > l.backoffMax {
				backoff = l.backoffMax
			}
		}
		if !l.sleep(ctx, backoff) {
			l.state.Store(LoopIdle)
			return "", ctx.Err()
		}
	}
}

func (l *RunLoop) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
