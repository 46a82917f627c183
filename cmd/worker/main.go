package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"relight/internal/adapter/repo"
	"relight/internal/domain"
	"relight/internal/infra"
	"relight/internal/job"
	"relight/internal/normalize"
)

type jobRunner interface {
	Run(ctx context.Context, jobID string, raw domain.JobInput) domain.JobResult
}

type jobWorker struct {
	ctx          context.Context
	jobs         domain.JobRepository
	runner       jobRunner
	logger       infra.Logger
	pollInterval time.Duration
	lease        time.Duration
}

// finalizeTimeout bounds status writes made after shutdown began.
const finalizeTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	jobs := repo.NewJobRepository(infra.NewSQLRunner(pool, logger))
	if err := jobs.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to prepare job table")
	}

	runner, _, err := job.Build(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure runner")
	}

	worker := &jobWorker{
		ctx:          ctx,
		jobs:         jobs,
		runner:       runner,
		logger:       logger,
		pollInterval: cfg.WorkerPollInterval,
		lease:        cfg.JobLease,
	}

	if err := worker.Run(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

// Run claims and executes jobs until the context is canceled.
func (w *jobWorker) Run() error {
	w.logger.Info().Dur("poll_interval", w.pollInterval).Msg("worker: started")
	for {
		select {
		case <-w.ctx.Done():
			return w.ctx.Err()
		default:
		}

		j, err := w.jobs.Claim(w.ctx, w.lease)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) && w.ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("worker: failed to claim job")
			}
			w.sleep()
			continue
		}

		w.handleJob(j)
	}
}

func (w *jobWorker) sleep() {
	t := time.NewTimer(w.pollInterval)
	defer t.Stop()
	select {
	case <-w.ctx.Done():
	case <-t.C:
	}
}

// handleJob runs one claimed job and records its outcome. Status writes use a
// context detached from shutdown so a job never stays IN_PROGRESS because the
// worker was stopped; a job interrupted by shutdown goes back to the queue.
func (w *jobWorker) handleJob(j *domain.Job) {
	log := w.logger.With().Str("job_id", j.ID).Logger()
	log.Info().Msg("worker: picked job")

	raw, err := normalize.DecodeRequest(j.InputJSON)
	if err != nil {
		ctx, cancel := w.finalizeContext()
		defer cancel()
		if failErr := w.jobs.Fail(ctx, j.ID, err.Error(), nil); failErr != nil {
			log.Error().Err(failErr).Msg("worker: update status failed")
		}
		return
	}

	result := w.runner.Run(w.ctx, j.ID, raw)

	ctx, cancel := w.finalizeContext()
	defer cancel()
	if w.ctx.Err() != nil {
		if err := w.jobs.Release(ctx, j.ID); err != nil {
			log.Error().Err(err).Msg("worker: requeue interrupted job failed")
			return
		}
		log.Warn().Msg("worker: job interrupted by shutdown, requeued")
		return
	}
	output, err := json.Marshal(result)
	if err != nil {
		log.Error().Err(err).Msg("worker: encode result failed")
		output = nil
	}

	if result.Failed() {
		err = w.jobs.Fail(ctx, j.ID, result.Error, output)
	} else {
		err = w.jobs.Complete(ctx, j.ID, output)
	}
	if err != nil {
		log.Error().Err(err).Msg("worker: update status failed")
	}
}

func (w *jobWorker) finalizeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(w.ctx), finalizeTimeout)
}
