package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"content-pipeline-orchestrator/internal/config"
	"content-pipeline-orchestrator/internal/domain/ports/adapter"
	genAdapters "content-pipeline-orchestrator/internal/infra/adapters/gen"
	pg "content-pipeline-orchestrator/internal/infra/db/postgres"
	"content-pipeline-orchestrator/internal/infra/logging"
	"content-pipeline-orchestrator/internal/infra/metrics"
	red "content-pipeline-orchestrator/internal/infra/redis"
	"content-pipeline-orchestrator/internal/infra/sched"
	"content-pipeline-orchestrator/internal/infra/web"
	"content-pipeline-orchestrator/internal/infra/worker"
	"content-pipeline-orchestrator/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (relaxed auth, noop generation fallback)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	if err := pg.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("schema")
	}

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	claims := red.NewClaimStore(redisClient)
	rateLimiter := red.NewRateLimiter(redisClient)

	// ---- Repositories ----
	jobRepo := pg.NewJobRepo(pool)
	itemRepo := pg.NewItemRepo(pool)
	approvalRepo := pg.NewApprovalRepo(pool)
	chunkRepo := pg.NewChunkRepo(pool)
	tm := pg.NewTxManager(pool)

	// ---- Generation adapter (OpenAI -> Gemini -> Noop in dev) ----
	var gen adapter.GenerationAdapter
	switch {
	case cfg.Generation.OpenAIKey != "":
		gen, err = genAdapters.NewOpenAIAdapter(cfg.Generation.OpenAIKey, cfg.Generation.DefaultModel)
		if err != nil {
			logger.Fatal().Err(err).Msg("openai adapter")
		}
	case cfg.Generation.GeminiKey != "":
		gen, err = genAdapters.NewGeminiAdapter(ctx, cfg.Generation.GeminiKey, cfg.Generation.GeminiURL, cfg.Generation.DefaultModel)
		if err != nil {
			logger.Fatal().Err(err).Msg("gemini adapter")
		}
	case cfg.Runtime.Dev:
		gen = genAdapters.NewNoopAdapter(100 * time.Millisecond)
	default:
		logger.Fatal().Msgf("no generation provider configured: set generation.openai_key or generation.gemini_key in %s", *cfgPath)
	}
	logger.Info().Str("provider", gen.Name()).Str("model", cfg.Generation.DefaultModel).Msg("generation adapter ready")

	countTokens := genAdapters.NewTokenCounter()

	// ---- Use cases ----
	orch := cfg.Orchestrator
	chunkUC := usecase.NewChunkUseCase(
		chunkRepo, claims, gen, nil, countTokens,
		orch.ChunkTokenBudget, orch.ClaimTTL, orch.MaxAttempts, logger,
	)
	exec := usecase.NewStepExecutor(
		gen, chunkUC, nil, cfg.Generation.DefaultModel,
		orch.ItemTimeout, orch.ChunkTokenBudget, countTokens, logger,
	)
	pipelineUC := usecase.NewPipelineUseCase(jobRepo, itemRepo, tm, logger)
	tickUC := usecase.NewTickUseCase(jobRepo, itemRepo, approvalRepo, claims, exec, orch.ClaimTTL, logger)
	approvalUC := usecase.NewApprovalUseCase(jobRepo, itemRepo, approvalRepo, tm, logger)

	// ---- Background run loops ----
	workerPool := worker.NewPool(cfg.Orchestrator.Workers, logger)
	workerPool.Start(ctx)
	defer workerPool.Stop()
	runner := worker.NewRunner(
		workerPool, tickUC, pipelineUC, orch.MaxItemsPerTick,
		orch.BackoffBase, orch.BackoffMax, orch.RetryDelay, logger,
	)

	// ---- Lease sweeper ----
	sweeper := sched.NewLeaseSweeper(orch.SweepInterval, orch.ClaimTTL, itemRepo, claims, logger)
	go func() { _ = sweeper.Run(ctx) }()

	// ---- HTTP API ----
	srv := web.NewServer(
		pipelineUC, tickUC, approvalUC, chunkUC, runner,
		cfg.Server.APIKey, rateLimiter, cfg.Server.RateLimit, cfg.Server.RateLimitWindow,
		logger,
	)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}
