package job

import (
	"fmt"
	"path/filepath"

	"relight/internal/infra"
	"relight/internal/providers/comfy"
	"relight/internal/providers/fetch"
	"relight/internal/resolve"
	"relight/internal/storage"
)

// Build wires a Runner from configuration. The returned comfy client doubles
// as the backend health probe.
func Build(cfg *infra.Config, logger *infra.Logger) (*Runner, *comfy.Client, error) {
	backend := comfy.NewClient(comfy.Options{
		BaseURL:        cfg.BackendURL,
		APIKey:         cfg.BackendAPIKey,
		RequestTimeout: cfg.UploadTimeout,
		PollInterval:   cfg.PollInterval,
		ProcessTimeout: cfg.ProcessTimeout,
		Logger:         logger,
	})

	fetcher := fetch.NewClient(fetch.Options{
		RequestTimeout:       cfg.FetchTimeout,
		AllowedHosts:         cfg.ImageSourceAllowlist,
		BlockPrivateNetworks: cfg.ImageSourceBlockPrivate,
		MaxBytes:             cfg.MaxImageBytes,
		Logger:               logger,
	})

	var uploader resolve.Uploader = backend
	if cfg.BackendUploadMode == infra.UploadModeFilesystem {
		dir := cfg.BackendInputDir
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		store, err := storage.NewFileStore(dir)
		if err != nil {
			return nil, nil, fmt.Errorf("job: configure input dir: %w", err)
		}
		uploader = store
		if logger != nil {
			logger.Info().Str("input_dir", store.BasePath()).Msg("job: writing images to backend input dir")
		}
	}

	res, err := resolve.New(resolve.Options{
		Fetcher:     fetcher,
		Uploader:    uploader,
		Concurrency: cfg.ResolveConcurrency,
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, err
	}

	runner, err := NewRunner(Options{Uploader: res, Processor: backend, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return runner, backend, nil
}
