package job

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"relight/internal/domain"
	"relight/internal/imageref"
	"relight/internal/infra"
	"relight/internal/normalize"
	"relight/internal/providers/comfy"
)

// maxSeed keeps generated seeds exactly representable in JSON numbers.
const maxSeed = 1 << 53

// ImageUploader resolves and uploads a batch of named images.
type ImageUploader interface {
	UploadImages(ctx context.Context, images []domain.NamedImage) domain.UploadBatch
}

// Processor runs the relight workflow on already uploaded images.
type Processor interface {
	Process(ctx context.Context, req comfy.ProcessRequest) ([]domain.OutputImage, error)
}

// Options configures a Runner.
type Options struct {
	Uploader  ImageUploader
	Processor Processor
	Logger    *infra.Logger
	// Seed returns a seed for jobs that do not carry one.
	Seed func() int64
}

// Runner executes a single relight job end to end.
type Runner struct {
	uploader  ImageUploader
	processor Processor
	logger    *infra.Logger
	seed      func() int64
}

// NewRunner constructs a Runner. Uploader and Processor are required.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Uploader == nil {
		return nil, fmt.Errorf("job: uploader is required")
	}
	if opts.Processor == nil {
		return nil, fmt.Errorf("job: processor is required")
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	seed := opts.Seed
	if seed == nil {
		seed = func() int64 { return rand.Int64N(maxSeed) }
	}
	return &Runner{uploader: opts.Uploader, processor: opts.Processor, logger: logger, seed: seed}, nil
}

// Run validates raw, uploads both images and invokes the backend. Validation
// failures return before any network call; upload failures return the
// per-image breakdown.
func (r *Runner) Run(ctx context.Context, jobID string, raw domain.JobInput) domain.JobResult {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	log := r.logger.With().Str("job_id", jobID).Logger()
	start := time.Now()

	input, err := normalize.ValidateInput(raw)
	if err != nil {
		log.Info().Err(err).Msg("job: invalid input")
		return domain.JobResult{Error: err.Error()}
	}

	images := NamedImages(jobID, input)
	batch := r.uploader.UploadImages(ctx, images)
	if !batch.Succeeded() {
		log.Warn().Interface("details", batch.Details).Msg("job: image upload failed")
		return domain.JobResult{
			Error:   "failed to upload images",
			Status:  batch.Status,
			Details: batch.Details,
		}
	}

	seed := r.seed()
	if input.Seed != nil {
		seed = *input.Seed
	}
	outputs, err := r.processor.Process(ctx, comfy.ProcessRequest{
		Prompt:         input.Prompt,
		Steps:          input.Steps,
		CFG:            input.CFG,
		Seed:           seed,
		MainImage:      images[0].Name,
		ReferenceImage: images[1].Name,
		FilenamePrefix: "relight_" + shortID(jobID),
	})
	if err != nil {
		log.Error().Err(err).Msg("job: backend processing failed")
		return domain.JobResult{Error: err.Error(), Seed: &seed}
	}

	log.Info().
		Int("images", len(outputs)).
		Int("steps", input.Steps).
		Float64("cfg", input.CFG).
		Int64("seed", seed).
		Dur("elapsed", time.Since(start)).
		Msg("job: completed")
	return domain.JobResult{Images: outputs, Seed: &seed}
}

// NamedImages assigns upload names to the canonical pair, main first.
func NamedImages(jobID string, input *domain.CanonicalInput) []domain.NamedImage {
	id := shortID(jobID)
	roles := [2]string{domain.RoleMain, domain.RoleReference}
	out := make([]domain.NamedImage, 0, len(input.Images))
	for i, img := range input.Images {
		out = append(out, domain.NamedImage{
			Name:  fmt.Sprintf("%s_%s%s", roles[i], id, imageref.Extension(img)),
			Image: img,
		})
	}
	return out
}

// shortID keeps names filesystem safe regardless of what the caller used as id.
func shortID(jobID string) string {
	buf := make([]byte, 0, len(jobID))
	for i := 0; i < len(jobID); i++ {
		c := jobID[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			buf = append(buf, c)
		}
	}
	if len(buf) == 0 {
		return uuid.NewString()
	}
	return string(buf)
}
