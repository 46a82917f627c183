package main

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relight/internal/domain"
)

type queueRepo struct {
	mu      sync.Mutex
	pending  []*domain.Job
	done     map[string]*domain.Job
	released []string
}

func (q *queueRepo) Create(ctx context.Context, job *domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, job)
	return nil
}

func (q *queueRepo) Claim(ctx context.Context, lease time.Duration) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, domain.ErrNotFound
	}
	j := q.pending[0]
	q.pending = q.pending[1:]
	j.Status = domain.JobStatusInProgress
	return j, nil
}

func (q *queueRepo) finish(jobID string, status domain.JobStatus, errMsg string, output []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.done[jobID] = &domain.Job{ID: jobID, Status: status, ErrorMessage: errMsg, OutputJSON: output}
}

func (q *queueRepo) Release(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, &domain.Job{ID: jobID, Status: domain.JobStatusQueued})
	q.released = append(q.released, jobID)
	return nil
}

func (q *queueRepo) Complete(ctx context.Context, jobID string, output []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.finish(jobID, domain.JobStatusCompleted, "", output)
	return nil
}

func (q *queueRepo) Fail(ctx context.Context, jobID, errMsg string, output []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.finish(jobID, domain.JobStatusFailed, errMsg, output)
	return nil
}

func (q *queueRepo) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j, ok := q.done[jobID]; ok {
		return j, nil
	}
	return nil, domain.ErrNotFound
}

func (q *queueRepo) finished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.done)
}

type scriptedRunner struct{}

func (scriptedRunner) Run(ctx context.Context, jobID string, raw domain.JobInput) domain.JobResult {
	if raw["prompt"] == "fail" {
		return domain.JobResult{Error: "backend failure: queue status 500"}
	}
	return domain.JobResult{Images: []domain.OutputImage{{Filename: "out.png", Type: "base64", Data: "aGk="}}}
}

func TestWorkerDrainsQueue(t *testing.T) {
	q := &queueRepo{done: map[string]*domain.Job{}}
	require.NoError(t, q.Create(context.Background(), &domain.Job{ID: "a", InputJSON: json.RawMessage(`{"input":{"prompt":"ok","images":["aGk=","aGk="]}}`)}))
	require.NoError(t, q.Create(context.Background(), &domain.Job{ID: "b", InputJSON: json.RawMessage(`{"prompt":"fail","images":["aGk=","aGk="]}`)}))
	require.NoError(t, q.Create(context.Background(), &domain.Job{ID: "c", InputJSON: json.RawMessage(`[1,2]`)}))

	ctx, cancel := context.WithCancel(context.Background())
	w := &jobWorker{ctx: ctx, jobs: q, runner: scriptedRunner{}, logger: zerolog.New(io.Discard), pollInterval: 5 * time.Millisecond}

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run() }()

	require.Eventually(t, func() bool { return q.finished() == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	a, _ := q.GetByID(context.Background(), "a")
	assert.Equal(t, domain.JobStatusCompleted, a.Status)
	assert.Contains(t, string(a.OutputJSON), "out.png")

	b, _ := q.GetByID(context.Background(), "b")
	assert.Equal(t, domain.JobStatusFailed, b.Status)
	assert.Equal(t, "backend failure: queue status 500", b.ErrorMessage)

	c, _ := q.GetByID(context.Background(), "c")
	assert.Equal(t, domain.JobStatusFailed, c.Status)
	assert.NotEmpty(t, c.ErrorMessage)
}

// blockingRunner holds the job until the worker context is canceled, like a
// backend call cut short by SIGTERM.
type blockingRunner struct {
	started chan struct{}
}

func (b blockingRunner) Run(ctx context.Context, jobID string, raw domain.JobInput) domain.JobResult {
	close(b.started)
	<-ctx.Done()
	return domain.JobResult{Error: "comfy: queue prompt: " + ctx.Err().Error()}
}

func TestWorkerRequeuesJobInterruptedByShutdown(t *testing.T) {
	q := &queueRepo{done: map[string]*domain.Job{}}
	require.NoError(t, q.Create(context.Background(), &domain.Job{ID: "slow", InputJSON: json.RawMessage(`{"prompt":"p","images":["aGk=","aGk="]}`)}))

	ctx, cancel := context.WithCancel(context.Background())
	runner := blockingRunner{started: make(chan struct{})}
	w := &jobWorker{ctx: ctx, jobs: q, runner: runner, logger: zerolog.New(io.Discard), pollInterval: 5 * time.Millisecond}

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run() }()

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Equal(t, []string{"slow"}, q.released)
	require.Len(t, q.pending, 1)
	assert.Equal(t, domain.JobStatusQueued, q.pending[0].Status)
	assert.Empty(t, q.done)
}

func TestWorkerFinalizesWithCanceledContext(t *testing.T) {
	q := &queueRepo{done: map[string]*domain.Job{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := &jobWorker{ctx: ctx, jobs: q, runner: scriptedRunner{}, logger: zerolog.New(io.Discard)}

	w.handleJob(&domain.Job{ID: "bad", InputJSON: json.RawMessage(`"not an object"`)})

	bad, err := q.GetByID(context.Background(), "bad")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, bad.Status)
}
