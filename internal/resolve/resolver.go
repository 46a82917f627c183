package resolve

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"relight/internal/domain"
	"relight/internal/imageref"
	"relight/internal/infra"
)

// Fetcher retrieves the bytes behind an image URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Uploader stores a named image blob on the processing backend.
type Uploader interface {
	UploadImage(ctx context.Context, name string, data []byte) error
}

// Options configures a Resolver.
type Options struct {
	Fetcher  Fetcher
	Uploader Uploader
	// Concurrency bounds how many images are resolved at once. Values below 1
	// resolve every image in parallel; 1 is sequential.
	Concurrency int
	Logger      *infra.Logger
}

// Resolver turns image references into uploaded backend files.
type Resolver struct {
	fetcher     Fetcher
	uploader    Uploader
	concurrency int
	logger      *infra.Logger
}

// New constructs a Resolver. Fetcher and Uploader are required.
func New(opts Options) (*Resolver, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("resolve: fetcher is required")
	}
	if opts.Uploader == nil {
		return nil, fmt.Errorf("resolve: uploader is required")
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Resolver{
		fetcher:     opts.Fetcher,
		uploader:    opts.Uploader,
		concurrency: opts.Concurrency,
		logger:      logger,
	}, nil
}

// UploadImages resolves and uploads every image, one attempt each. A failing
// image is recorded in its slot and never stops the others. Details keep the
// input order; Status is "success" only when every image succeeded.
func (r *Resolver) UploadImages(ctx context.Context, images []domain.NamedImage) domain.UploadBatch {
	details := make([]domain.UploadResult, len(images))

	var g errgroup.Group
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	for i, img := range images {
		g.Go(func() error {
			details[i] = r.uploadOne(ctx, img)
			return nil
		})
	}
	_ = g.Wait()

	status := domain.BatchSuccess
	for _, d := range details {
		if d.Status != domain.UploadSuccess {
			status = domain.BatchError
			break
		}
	}
	return domain.UploadBatch{Status: status, Details: details}
}

func (r *Resolver) uploadOne(ctx context.Context, img domain.NamedImage) domain.UploadResult {
	start := time.Now()
	ref := imageref.Classify(img.Image)

	data, err := r.resolve(ctx, ref)
	if err == nil {
		if upErr := r.uploader.UploadImage(ctx, img.Name, data); upErr != nil {
			err = fmt.Errorf("%w: %v", domain.ErrUpload, upErr)
		}
	}
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("name", img.Name).
			Str("source", ref.Kind.String()).
			Msg("resolve: image failed")
		return domain.UploadResult{
			Name:   img.Name,
			Status: domain.UploadFailure,
			Kind:   domain.ErrorKind(err),
			Error:  err.Error(),
		}
	}
	r.logger.Debug().
		Str("name", img.Name).
		Str("source", ref.Kind.String()).
		Int("bytes", len(data)).
		Dur("elapsed", time.Since(start)).
		Msg("resolve: image uploaded")
	return domain.UploadResult{Name: img.Name, Status: domain.UploadSuccess}
}

func (r *Resolver) resolve(ctx context.Context, ref domain.ImageRef) ([]byte, error) {
	switch ref.Kind {
	case domain.RefURL:
		data, err := r.fetcher.Fetch(ctx, ref.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrFetch, err)
		}
		return data, nil
	case domain.RefInline:
		return imageref.DecodeInline(ref.Value)
	default:
		return nil, fmt.Errorf("%w: unknown reference kind %d", domain.ErrDecode, ref.Kind)
	}
}
