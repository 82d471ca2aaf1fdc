package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"content-pipeline-orchestrator/internal/domain"
)

// Runner drives jobs to completion on the shared pool. Each job gets
// one RunLoop; a job already being driven is not launched twice in
// this process. Cross-process overlap is harmless since ticks claim
// items individually.
type Runner struct {
	pool     *Pool
	ticker   TickInvoker
	pauser   Pauser
	maxItems int

	backoffBase time.Duration
	backoffMax  time.Duration
	retryDelay  time.Duration

	mu     sync.Mutex
	active map[string]*RunLoop
	log    *zerolog.Logger
}

func NewRunner(pool *Pool, ticker TickInvoker, pauser Pauser, maxItems int, backoffBase, backoffMax, retryDelay time.Duration, logger *zerolog.Logger) *Runner {
	runLog := logger.With().Str("component", "Runner").Logger()
	return &Runner{
		pool:        pool,
		ticker:      ticker,
		pauser:      pauser,
		maxItems:    maxItems,
		backoffBase: backoffBase,
		backoffMax:  backoffMax,
		retryDelay:  retryDelay,
		active:      make(map[string]*RunLoop),
		log:         &runLog,
	}
}

// Launch submits a run loop for the job. Returns ErrAlreadyExists when
// this process is already driving it.
func (r *Runner) Launch(jobID string) error {
	r.mu.Lock()
	if _, ok := r.active[jobID]; ok {
		r.mu.Unlock()
		return domain.ErrAlreadyExists
	}
	loop := NewRunLoop(r.ticker, r.pauser, r.backoffBase, r.backoffMax, r.retryDelay, r.log)
	r.active[jobID] = loop
	r.mu.Unlock()

	err := r.pool.Submit(func(ctx context.Context) error {
		defer func() {
			r.mu.Lock()
			delete(r.active, jobID)
			r.mu.Unlock()
		}()
		_, err := loop.Run(ctx, jobID, r.maxItems)
		return err
	})
	if err != nil {
		r.mu.Lock()
		delete(r.active, jobID)
		r.mu.Unlock()
	}
	return err
}

// Driving reports whether this process currently runs a loop for the job.
func (r *Runner) Driving(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[jobID]
	return ok
}
