package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"relight/internal/http/handlers"
	"relight/internal/middleware"
)

// NewRouter wires the job endpoints. rateLimitPerMin <= 0 disables limiting.
func NewRouter(app *handlers.App, rateLimitPerMin int) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer, middleware.Logger(*app.Log()))

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		if rateLimitPerMin > 0 {
			r.Use(middleware.RateLimit(rateLimitPerMin, time.Minute))
		}
		r.Post("/v1/runsync", app.RunSync)
		r.Post("/v1/run", app.Run)
		r.Get("/v1/status/{id}", app.Status)
	})

	return r
}
