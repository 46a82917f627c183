package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"relight/internal/domain"
	"relight/internal/infra"
)

// JobRunner executes one relight job synchronously.
type JobRunner interface {
	Run(ctx context.Context, jobID string, raw domain.JobInput) domain.JobResult
}

// Pinger reports whether the processing backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// App holds handler dependencies. Jobs is nil when no database is configured;
// the async endpoints then answer 503.
type App struct {
	Runner       JobRunner
	Jobs         domain.JobRepository
	Backend      Pinger
	Logger       *infra.Logger
	MaxBodyBytes int64
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	JobID string `json:"id,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorResponse{Error: message, Code: code})
}

var discardLogger = zerolog.New(io.Discard)

// Log returns the configured logger, or a discard logger when none is set.
func (a *App) Log() *infra.Logger {
	if a.Logger == nil {
		return &discardLogger
	}
	return a.Logger
}
