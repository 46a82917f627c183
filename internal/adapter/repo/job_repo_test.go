package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"relight/internal/domain"
	"relight/internal/sqlinline"
)

type stubRow struct {
	scan func(dest ...any) error
}

func (r stubRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type storedJob struct {
	status string
	input  []byte
	output []byte
	errMsg string
	at     time.Time
}

// stubDB emulates the relight_jobs statements in memory.
type stubDB struct {
	mu    sync.Mutex
	order []string
	jobs  map[string]*storedJob
}

func newStubDB() *stubDB {
	return &stubDB{jobs: map[string]*storedJob{}}
}

func (s *stubDB) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch query {
	case sqlinline.QCreateJobsTable:
		return pgconn.CommandTag{}, nil
	case sqlinline.QInsertJob:
		id := args[0].(string)
		s.jobs[id] = &storedJob{status: args[1].(string), input: args[2].([]byte), at: time.Now()}
		s.order = append(s.order, id)
	case sqlinline.QReleaseJob:
		job, ok := s.jobs[args[0].(string)]
		if !ok || job.status != "IN_PROGRESS" {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		}
		job.status = "IN_QUEUE"
		job.at = time.Now()
	case sqlinline.QCompleteJob:
		job, ok := s.jobs[args[0].(string)]
		if !ok {
			return pgconn.CommandTag{}, errors.New("job not found")
		}
		job.status = "COMPLETED"
		job.output = args[1].([]byte)
	case sqlinline.QFailJob:
		job, ok := s.jobs[args[0].(string)]
		if !ok {
			return pgconn.CommandTag{}, errors.New("job not found")
		}
		job.status = "FAILED"
		job.errMsg = args[1].(string)
		if out, _ := args[2].([]byte); out != nil {
			job.output = out
		}
	default:
		return pgconn.CommandTag{}, fmt.Errorf("unsupported exec: %s", query)
	}
	return pgconn.NewCommandTag("OK 1"), nil
}

func (s *stubDB) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case strings.Contains(query, "skip locked"):
		lease := time.Duration(args[0].(float64) * float64(time.Second))
		for _, id := range s.order {
			job := s.jobs[id]
			stale := job.status == "IN_PROGRESS" && time.Since(job.at) > lease
			if job.status != "IN_QUEUE" && !stale {
				continue
			}
			job.status = "IN_PROGRESS"
			job.at = time.Now()
			claimedID, snapshot := id, *job
			return stubRow{scan: func(dest ...any) error {
				*dest[0].(*string) = claimedID
				*dest[1].(*string) = snapshot.status
				*dest[2].(*[]byte) = snapshot.input
				*dest[3].(*time.Time) = snapshot.at
				*dest[4].(*time.Time) = snapshot.at
				return nil
			}}
		}
		return stubRow{}
	case query == sqlinline.QGetJob:
		stored, ok := s.jobs[args[0].(string)]
		if !ok {
			return stubRow{}
		}
		id, job := args[0].(string), *stored
		return stubRow{scan: func(dest ...any) error {
			*dest[0].(*string) = id
			*dest[1].(*string) = job.status
			*dest[2].(*[]byte) = job.input
			*dest[3].(*[]byte) = job.output
			*dest[4].(*string) = job.errMsg
			*dest[5].(*time.Time) = job.at
			*dest[6].(*time.Time) = job.at
			return nil
		}}
	default:
		return stubRow{scan: func(dest ...any) error { return fmt.Errorf("unsupported query: %s", query) }}
	}
}

func TestJobRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newStubDB())
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	if err := repo.Create(ctx, &domain.Job{ID: "job-1", InputJSON: []byte(`{"prompt":"p"}`)}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	claimed, err := repo.Claim(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed.ID != "job-1" || claimed.Status != domain.JobStatusInProgress {
		t.Fatalf("unexpected claimed job: %+v", claimed)
	}
	if string(claimed.InputJSON) != `{"prompt":"p"}` {
		t.Fatalf("input mismatch: %s", claimed.InputJSON)
	}
	if _, err := repo.Claim(ctx, time.Hour); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty queue, got %v", err)
	}

	if err := repo.Complete(ctx, "job-1", []byte(`{"images":[]}`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, err := repo.GetByID(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.JobStatusCompleted || string(got.OutputJSON) != `{"images":[]}` {
		t.Fatalf("unexpected job after complete: %+v", got)
	}
}

func TestJobRepositoryFailAndMissing(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newStubDB())
	if err := repo.Create(ctx, &domain.Job{ID: "job-2", InputJSON: []byte(`{}`)}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Fail(ctx, "job-2", "prompt is required", nil); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	got, err := repo.GetByID(ctx, "job-2")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.JobStatusFailed || got.ErrorMessage != "prompt is required" || got.OutputJSON != nil {
		t.Fatalf("unexpected failed job: %+v", got)
	}

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.Create(ctx, &domain.Job{}); err == nil {
		t.Fatalf("expected error without id")
	}
}

func TestJobRepositoryReleaseRequeues(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newStubDB())
	if err := repo.Create(ctx, &domain.Job{ID: "job-3", InputJSON: []byte(`{}`)}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := repo.Claim(ctx, time.Hour); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := repo.Release(ctx, "job-3"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	got, err := repo.GetByID(ctx, "job-3")
	if err != nil || got.Status != domain.JobStatusQueued {
		t.Fatalf("expected job back in queue, got %+v (%v)", got, err)
	}
	again, err := repo.Claim(ctx, time.Hour)
	if err != nil || again.ID != "job-3" {
		t.Fatalf("released job not claimable: %+v (%v)", again, err)
	}
}

func TestJobRepositoryReclaimsExpiredLease(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newStubDB())
	if err := repo.Create(ctx, &domain.Job{ID: "job-4", InputJSON: []byte(`{}`)}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := repo.Claim(ctx, time.Hour); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := repo.Claim(ctx, time.Hour); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("job within its lease must not be reclaimed, got %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	reclaimed, err := repo.Claim(ctx, time.Millisecond)
	if err != nil || reclaimed.ID != "job-4" {
		t.Fatalf("expected stale job to be reclaimed: %+v (%v)", reclaimed, err)
	}
}
