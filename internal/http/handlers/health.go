package handlers

import (
	"context"
	"net/http"
	"time"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	if a.Backend == nil || r.URL.Query().Get("deep") == "" {
		a.json(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := a.Backend.Ping(ctx); err != nil {
		a.Log().Warn().Err(err).Msg("health: backend unreachable")
		a.json(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "backend": "unreachable"})
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok", "backend": "ok"})
}
