package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"content-pipeline-orchestrator/internal/domain/model"
	"content-pipeline-orchestrator/internal/infra/redis"
	"content-pipeline-orchestrator/internal/usecase"
)

// PipelineService is the job lifecycle surface the handlers need.
type PipelineService interface {
	Start(ctx context.Context, p usecase.StartParams) (*model.Job, []*model.Item, error)
	Status(ctx context.Context, jobID string) (*usecase.JobStatusView, error)
	Pause(ctx context.Context, jobID string) error
	Resume(ctx context.Context, jobID string) error
	Stop(ctx context.Context, jobID string) error
	Retry(ctx context.Context, jobID string) error
}

type TickService interface {
	Tick(ctx context.Context, jobID string, maxItems int) (usecase.TickResult, error)
}

type ApprovalService interface {
	Decide(ctx context.Context, jobID string, stage model.StageKey, approved bool, note string) error
	Repropose(ctx context.Context, jobID string, stage model.StageKey) error
}

type ChunkService interface {
	Status(ctx context.Context, documentID, versionID string) (*model.ChunkGroup, error)
	RegenerateMissing(ctx context.Context, documentID, versionID string) ([]int, error)
}

// RunnerService launches background run loops that tick a job to a
// terminal status without further client calls.
type RunnerService interface {
	Launch(jobID string) error
	Driving(jobID string) bool
}

type Server struct {
	pipeline  PipelineService
	ticks     TickService
	approvals ApprovalService
	chunks    ChunkService
	runner    RunnerService

	apiKey     string
	limiter    *redis.RateLimiter
	rateLimit  int
	rateWindow time.Duration
	log        *zerolog.Logger
}

func NewServer(
	pipeline PipelineService,
	ticks TickService,
	approvals ApprovalService,
	chunks ChunkService,
	runner RunnerService,
	apiKey string,
	limiter *redis.RateLimiter,
	rateLimit int,
	rateWindow time.Duration,
	logger *zerolog.Logger,
) *Server {
	srvLog := logger.With().Str("component", "WebServer").Logger()
	return &Server{
		pipeline:   pipeline,
		ticks:      ticks,
		approvals:  approvals,
		chunks:     chunks,
		runner:     runner,
		apiKey:     apiKey,
		limiter:    limiter,
		rateLimit:  rateLimit,
		rateWindow: rateWindow,
		log:        &srvLog,
	}
}

// Router assembles the full route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(s.authMiddleware)

		api.Route("/jobs", func(jr chi.Router) {
			jr.With(s.rateLimitMiddleware).Post("/", s.jobStartHandler())
			jr.Get("/{jobID}", s.jobStatusHandler())
			jr.Post("/{jobID}/tick", s.jobTickHandler())
			jr.Post("/{jobID}/run", s.jobRunHandler())
			jr.Post("/{jobID}/pause", s.jobTransitionHandler("pause", s.pipeline.Pause))
			jr.Post("/{jobID}/resume", s.jobTransitionHandler("resume", s.pipeline.Resume))
			jr.Post("/{jobID}/stop", s.jobTransitionHandler("stop", s.pipeline.Stop))
			jr.Post("/{jobID}/retry", s.jobTransitionHandler("retry", s.pipeline.Retry))
			jr.Post("/{jobID}/decision", s.decisionHandler())
		})

		api.Route("/documents/{docID}/versions/{versionID}", func(dr chi.Router) {
			dr.Get("/chunks", s.chunkStatusHandler())
			dr.With(s.rateLimitMiddleware).Post("/regen", s.chunkRegenHandler())
		})
	})

	return r
}

// authMiddleware provides simple Bearer token authentication for the API.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" {
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}

		if tokenParts[1] != s.apiKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware throttles mutating routes per caller address.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil || s.rateLimit <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		caller := r.RemoteAddr
		if i := strings.LastIndex(caller, ":"); i > 0 {
			caller = caller[:i]
		}
		key := redis.CallerRouteKey(caller, r.URL.Path)
		ok, err := s.limiter.Allow(r.Context(), key, s.rateLimit, s.rateWindow)
		if err != nil {
			// A broken limiter should not take the API down.
			s.log.Warn().Err(err).Msg("rate limiter unavailable")
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
