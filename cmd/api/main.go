package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"relight/internal/adapter/repo"
	httpapi "relight/internal/http"
	"relight/internal/http/handlers"
	"relight/internal/infra"
	"relight/internal/job"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	runner, backend, err := job.Build(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure runner")
	}

	app := &handlers.App{
		Runner:  runner,
		Backend: backend,
		Logger:  &logger,
	}

	// Async endpoints need the job table; without a database only runsync is served.
	if cfg.HasDatabase() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			cancel()
			logger.Fatal().Err(err).Msg("api: failed to connect database")
		}
		defer pool.Close()

		jobs := repo.NewJobRepository(infra.NewSQLRunner(pool, logger))
		if err := jobs.EnsureSchema(ctx); err != nil {
			cancel()
			logger.Fatal().Err(err).Msg("api: failed to prepare job table")
		}
		cancel()
		app.Jobs = jobs
	} else {
		logger.Warn().Msg("api: DATABASE_URL not set, async endpoints disabled")
	}

	router := httpapi.NewRouter(app, cfg.RateLimitPerMin)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("backend", backend.BaseURL()).Msgf("API listening on %s", server.Addr())
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
