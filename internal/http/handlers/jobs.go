package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"relight/internal/domain"
	"relight/internal/middleware"
	"relight/internal/normalize"
)

const defaultMaxBodyBytes = 64 << 20

type jobResponse struct {
	ID     string            `json:"id"`
	Status domain.JobStatus  `json:"status"`
	Output *domain.JobResult `json:"output,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// RunSync validates and executes a job inline, answering with its result.
func (a *App) RunSync(w http.ResponseWriter, r *http.Request) {
	raw, ok := a.decodeJob(w, r)
	if !ok {
		return
	}
	jobID := uuid.NewString()
	if _, err := normalize.ValidateInput(raw); err != nil {
		a.json(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "validation_error", JobID: jobID})
		return
	}

	result := a.Runner.Run(r.Context(), jobID, raw)
	resp := jobResponse{ID: jobID, Status: domain.JobStatusCompleted, Output: &result}
	if result.Failed() {
		resp.Status = domain.JobStatusFailed
		resp.Error = result.Error
	}
	a.Log().Info().
		Str("job_id", jobID).
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Str("status", string(resp.Status)).
		Msg("runsync: finished")
	a.json(w, http.StatusOK, resp)
}

// Run validates a job and queues it for the worker.
func (a *App) Run(w http.ResponseWriter, r *http.Request) {
	if a.Jobs == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "async jobs require a database")
		return
	}
	raw, ok := a.decodeJob(w, r)
	if !ok {
		return
	}
	jobID := uuid.NewString()
	if _, err := normalize.ValidateInput(raw); err != nil {
		a.json(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "validation_error", JobID: jobID})
		return
	}
	payload, err := normalize.EncodeInput(raw)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.Jobs.Create(r.Context(), &domain.Job{ID: jobID, Status: domain.JobStatusQueued, InputJSON: payload}); err != nil {
		a.Log().Error().Err(err).Str("job_id", jobID).Msg("run: enqueue failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		return
	}
	a.json(w, http.StatusAccepted, jobResponse{ID: jobID, Status: domain.JobStatusQueued})
}

// Status reports the state and, once finished, the output of a queued job.
func (a *App) Status(w http.ResponseWriter, r *http.Request) {
	if a.Jobs == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "async jobs require a database")
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	job, err := a.Jobs.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Log().Error().Err(err).Str("job_id", id).Msg("status: lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	resp := jobResponse{ID: job.ID, Status: job.Status, Error: job.ErrorMessage}
	if len(job.OutputJSON) > 0 {
		var out domain.JobResult
		if err := json.Unmarshal(job.OutputJSON, &out); err == nil {
			resp.Output = &out
		}
	}
	a.json(w, http.StatusOK, resp)
}

func (a *App) decodeJob(w http.ResponseWriter, r *http.Request) (domain.JobInput, bool) {
	limit := a.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
			return nil, false
		}
		a.error(w, http.StatusBadRequest, "bad_request", "failed to read body")
		return nil, false
	}
	raw, err := normalize.DecodeRequest(body)
	if err != nil {
		if domain.IsValidation(err) {
			a.error(w, http.StatusBadRequest, "validation_error", err.Error())
			return nil, false
		}
		a.error(w, http.StatusBadRequest, "bad_request", "invalid JSON payload")
		return nil, false
	}
	return raw, true
}
