package job

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relight/internal/domain"
	"relight/internal/providers/comfy"
	"relight/internal/resolve"
)

type memFetcher map[string][]byte

func (m memFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if b, ok := m[url]; ok {
		return b, nil
	}
	return nil, errors.New("download status 404")
}

type memUploader struct {
	mu    sync.Mutex
	names []string
}

func (u *memUploader) UploadImage(ctx context.Context, name string, data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.names = append(u.names, name)
	return nil
}

type fakeProcessor struct {
	calls []comfy.ProcessRequest
	err   error
}

func (p *fakeProcessor) Process(ctx context.Context, req comfy.ProcessRequest) ([]domain.OutputImage, error) {
	p.calls = append(p.calls, req)
	if p.err != nil {
		return nil, p.err
	}
	return []domain.OutputImage{{Filename: "relight_00001_.png", Type: "base64", Data: "aGk="}}, nil
}

func newRunner(t *testing.T, fetcher memFetcher, uploader *memUploader, proc *fakeProcessor) *Runner {
	t.Helper()
	res, err := resolve.New(resolve.Options{Fetcher: fetcher, Uploader: uploader, Concurrency: 1})
	require.NoError(t, err)
	r, err := NewRunner(Options{Uploader: res, Processor: proc, Seed: func() int64 { return 7 }})
	require.NoError(t, err)
	return r
}

func TestRunSuccess(t *testing.T) {
	fetcher := memFetcher{"https://a/x.jpg": []byte("x")}
	uploader := &memUploader{}
	proc := &fakeProcessor{}
	r := newRunner(t, fetcher, uploader, proc)

	result := r.Run(context.Background(), "job-1", domain.JobInput{
		"prompt":          "Relight the subject",
		"main_image":      "https://a/x.jpg",
		"reference_image": "data:image/jpeg;base64,aGVsbG8=",
		"steps":           float64(12),
	})

	require.False(t, result.Failed(), result.Error)
	require.Len(t, result.Images, 1)
	require.NotNil(t, result.Seed)
	assert.Equal(t, int64(7), *result.Seed)
	require.Len(t, proc.calls, 1)
	call := proc.calls[0]
	assert.Equal(t, "main_job-1.jpg", call.MainImage)
	assert.Equal(t, "reference_job-1.jpg", call.ReferenceImage)
	assert.Equal(t, 12, call.Steps)
	assert.Equal(t, 1.0, call.CFG)
	assert.Equal(t, []string{"main_job-1.jpg", "reference_job-1.jpg"}, uploader.names)
}

func TestRunUsesSuppliedSeed(t *testing.T) {
	proc := &fakeProcessor{}
	r := newRunner(t, memFetcher{}, &memUploader{}, proc)

	result := r.Run(context.Background(), "job-2", domain.JobInput{
		"prompt": "p",
		"images": []any{"aGVsbG8=", "aGVsbG8="},
		"seed":   float64(452037337342133),
	})

	require.False(t, result.Failed())
	assert.Equal(t, int64(452037337342133), proc.calls[0].Seed)
}

func TestRunValidationErrorSkipsIO(t *testing.T) {
	uploader := &memUploader{}
	proc := &fakeProcessor{}
	r := newRunner(t, memFetcher{}, uploader, proc)

	result := r.Run(context.Background(), "job-3", domain.JobInput{
		"prompt":          "p",
		"main_image":      12345,
		"reference_image": "https://a/y.jpg",
	})

	assert.True(t, result.Failed())
	assert.Contains(t, strings.ToLower(result.Error), "must be")
	assert.Empty(t, uploader.names)
	assert.Empty(t, proc.calls)
}

func TestRunPartialUploadFailure(t *testing.T) {
	fetcher := memFetcher{"https://a/x.jpg": []byte("x")}
	uploader := &memUploader{}
	proc := &fakeProcessor{}
	r := newRunner(t, fetcher, uploader, proc)

	result := r.Run(context.Background(), "job-4", domain.JobInput{
		"prompt": "p",
		"images": []any{"https://a/x.jpg", "https://a/missing.jpg"},
	})

	assert.True(t, result.Failed())
	assert.Equal(t, domain.BatchError, result.Status)
	require.Len(t, result.Details, 2)
	assert.Equal(t, domain.UploadSuccess, result.Details[0].Status)
	assert.Equal(t, domain.UploadFailure, result.Details[1].Status)
	assert.Equal(t, "reference_job-4.jpg", result.Details[1].Name)
	assert.Empty(t, proc.calls)
}

func TestRunBackendFailure(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("backend failure: queue status 500")}
	r := newRunner(t, memFetcher{}, &memUploader{}, proc)

	result := r.Run(context.Background(), "job-5", domain.JobInput{"prompt": "p", "images": []any{"aGk=", "aGk="}})

	assert.True(t, result.Failed())
	assert.Contains(t, result.Error, "queue status 500")
	assert.Empty(t, result.Details)
}

func TestNamedImagesSanitizesID(t *testing.T) {
	input := &domain.CanonicalInput{Images: [2]string{"aGk=", "https://cdn/x.webp"}}
	names := NamedImages("../etc/passwd", input)
	assert.Equal(t, "main_etcpasswd.png", names[0].Name)
	assert.Equal(t, "reference_etcpasswd.webp", names[1].Name)
}
