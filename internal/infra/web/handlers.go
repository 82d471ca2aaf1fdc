package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"content-pipeline-orchestrator/internal/domain"
	"content-pipeline-orchestrator/internal/domain/model"
	"content-pipeline-orchestrator/internal/usecase"
)

type jobStartRequest struct {
	Kind       string   `json:"kind"`
	Format     string   `json:"format"`
	ProjectRef string   `json:"project_ref"`
	Count      int      `json:"count"`
	Prompts    []string `json:"prompts"`
	Policy     struct {
		AutoApprove     bool `json:"auto_approve"`
		StopOnFirstFail bool `json:"stop_on_first_fail"`
		PauseOnReject   bool `json:"pause_on_reject"`
		MaxItemsPerTick int  `json:"max_items_per_tick"`
		MaxAttempts     int  `json:"max_attempts"`
	} `json:"policy"`
}

func (s *Server) jobStartHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req jobStartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		job, items, err := s.pipeline.Start(ctx, usecase.StartParams{
			Kind:       model.JobKind(req.Kind),
			Format:     req.Format,
			ProjectRef: req.ProjectRef,
			Count:      req.Count,
			Prompts:    req.Prompts,
			Policy: model.JobPolicy{
				AutoApprove:     req.Policy.AutoApprove,
				StopOnFirstFail: req.Policy.StopOnFirstFail,
				PauseOnReject:   req.Policy.PauseOnReject,
				MaxItemsPerTick: req.Policy.MaxItemsPerTick,
				MaxAttempts:     req.Policy.MaxAttempts,
			},
		})
		if err != nil {
			writeDomainError(w, err, "Failed to start job")
			return
		}

		response := struct {
			Job   *model.Job    `json:"job"`
			Items []*model.Item `json:"items"`
		}{Job: job, Items: items}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(response)
	}
}

func (s *Server) jobStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		jobID := chi.URLParam(r, "jobID")

		view, err := s.pipeline.Status(ctx, jobID)
		if err != nil {
			writeDomainError(w, err, "Failed to get job")
			return
		}

		response := struct {
			Job      *model.Job             `json:"job"`
			Items    []*model.Item          `json:"items"`
			Progress usecase.ProgressReport `json:"progress"`
		}{Job: view.Job, Items: view.Items, Progress: view.Progress}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}
}

func (s *Server) jobTickHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		jobID := chi.URLParam(r, "jobID")

		maxItems, _ := strconv.Atoi(r.URL.Query().Get("max_items"))

		res, err := s.ticks.Tick(ctx, jobID, maxItems)
		if err != nil {
			writeDomainError(w, err, "Tick failed")
			return
		}

		response := struct {
			Done      bool       `json:"done"`
			Processed int        `json:"processed"`
			Job       *model.Job `json:"job"`
		}{Done: res.Done, Processed: res.Processed, Job: res.Job}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}
}

func (s *Server) jobRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")

		// Verify the job exists before committing a worker slot.
		if _, err := s.pipeline.Status(r.Context(), jobID); err != nil {
			writeDomainError(w, err, "Failed to get job")
			return
		}

		if err := s.runner.Launch(jobID); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				w.WriteHeader(http.StatusAccepted)
				return
			}
			http.Error(w, "Failed to launch run loop", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) jobTransitionHandler(name string, fn func(ctx context.Context, jobID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		jobID := chi.URLParam(r, "jobID")

		if err := fn(ctx, jobID); err != nil {
			writeDomainError(w, err, "Failed to "+name+" job")
			return
		}

		view, err := s.pipeline.Status(ctx, jobID)
		if err != nil {
			writeDomainError(w, err, "Failed to get job")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(view.Job)
	}
}

type decisionRequest struct {
	Stage     string `json:"stage"`
	Approved  bool   `json:"approved"`
	Note      string `json:"note"`
	Repropose bool   `json:"repropose"`
}

func (s *Server) decisionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		jobID := chi.URLParam(r, "jobID")

		var req decisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.Stage == "" {
			http.Error(w, "Stage is required", http.StatusBadRequest)
			return
		}

		var err error
		if req.Repropose {
			err = s.approvals.Repropose(ctx, jobID, model.StageKey(req.Stage))
		} else {
			err = s.approvals.Decide(ctx, jobID, model.StageKey(req.Stage), req.Approved, req.Note)
		}
		if err != nil {
			writeDomainError(w, err, "Failed to record decision")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) chunkStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		docID := chi.URLParam(r, "docID")
		versionID := chi.URLParam(r, "versionID")

		group, err := s.chunks.Status(ctx, docID, versionID)
		if err != nil {
			writeDomainError(w, err, "Failed to get chunks")
			return
		}

		response := struct {
			DocumentID string        `json:"document_id"`
			VersionID  string        `json:"version_id"`
			Complete   bool          `json:"complete"`
			Missing    []int         `json:"missing"`
			Chunks     []model.Chunk `json:"chunks"`
		}{
			DocumentID: docID,
			VersionID:  versionID,
			Complete:   group.Complete(),
			Missing:    group.MissingIndices(),
			Chunks:     group.Chunks,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}
}

func (s *Server) chunkRegenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		docID := chi.URLParam(r, "docID")
		versionID := chi.URLParam(r, "versionID")

		indices, err := s.chunks.RegenerateMissing(ctx, docID, versionID)
		if err != nil {
			writeDomainError(w, err, "Failed to requeue chunks")
			return
		}

		response := struct {
			Requeued []int `json:"requeued"`
		}{Requeued: indices}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(response)
	}
}

// writeDomainError maps domain sentinels onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrUnknownFormat):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrJobNotRunnable),
		errors.Is(err, domain.ErrStaleDecision),
		errors.Is(err, domain.ErrNoProposal),
		errors.Is(err, domain.ErrApprovalPending),
		errors.Is(err, domain.ErrApprovalRequired):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, fallback, http.StatusInternalServerError)
	}
}
