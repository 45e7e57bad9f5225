package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/spend-analytics/internal/jobs"
	"github.com/dvloznov/spend-analytics/internal/pipeline"
)

func TestStoreSaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	job := &jobs.AnalysisJob{JobID: "j1", Source: "ledger.csv", Status: jobs.JobStatusPending}
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}
	job.Status = jobs.JobStatusFailed

	got, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != jobs.JobStatusPending {
		t.Errorf("Expected stored copy to be isolated, got status %s", got.Status)
	}

	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, jobs.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := s.SaveJob(ctx, &jobs.AnalysisJob{}); err == nil {
		t.Error("Expected error for empty job ID")
	}
}

func TestStoreListJobs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		user := "u1"
		if i%2 == 1 {
			user = "u2"
		}
		_ = s.SaveJob(ctx, &jobs.AnalysisJob{
			JobID:     fmt.Sprintf("j%d", i),
			UserID:    user,
			Status:    jobs.JobStatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{"all newest first", jobs.JobFilter{}, []string{"j4", "j3", "j2", "j1", "j0"}},
		{"by user", jobs.JobFilter{UserID: "u2"}, []string{"j3", "j1"}},
		{"limit and offset", jobs.JobFilter{Offset: 1, Limit: 2}, []string{"j3", "j2"}},
		{"offset past end", jobs.JobFilter{Offset: 10}, nil},
		{"by status", jobs.JobFilter{Status: jobs.JobStatusFailed}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListJobs failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Got %d jobs, want %d", len(got), len(tt.want))
			}
			for i, j := range got {
				if j.JobID != tt.want[i] {
					t.Errorf("Job %d = %s, want %s", i, j.JobID, tt.want[i])
				}
			}
		})
	}
}

func TestStoreResults(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if err := s.SaveResult(ctx, "j1", &pipeline.Result{}); !errors.Is(err, jobs.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown job, got %v", err)
	}

	_ = s.SaveJob(ctx, &jobs.AnalysisJob{JobID: "j1"})
	if _, err := s.GetResult(ctx, "j1"); !errors.Is(err, jobs.ErrNotFound) {
		t.Errorf("Expected ErrNotFound before completion, got %v", err)
	}

	res := &pipeline.Result{RunID: "run-1"}
	if err := s.SaveResult(ctx, "j1", res); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}
	got, err := s.GetResult(ctx, "j1")
	if err != nil || got.RunID != "run-1" {
		t.Errorf("GetResult() = %+v, %v", got, err)
	}

	if err := s.UpdateJobStatus(ctx, "j1", jobs.JobStatusFailed, "boom"); err != nil {
		t.Fatalf("UpdateJobStatus failed: %v", err)
	}
	job, _ := s.GetJob(ctx, "j1")
	if job.Status != jobs.JobStatusFailed || job.Error != "boom" {
		t.Errorf("Job = %+v", job)
	}
}

func waitForStatus(t *testing.T, s *Store, jobID string, want jobs.JobStatus) *jobs.AnalysisJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := s.GetJob(context.Background(), jobID)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Job %s never reached status %s", jobID, want)
	return nil
}

func TestQueueProcessesJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, 2, store)

	err := q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		j := job.(*jobs.AnalysisJob)
		j.RunID = "run-" + j.JobID
		return nil
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	job := &jobs.AnalysisJob{JobID: "j1", Source: "ledger.csv"}
	if err := q.PublishAnalysis(ctx, job); err != nil {
		t.Fatalf("PublishAnalysis failed: %v", err)
	}

	done := waitForStatus(t, store, "j1", jobs.JobStatusCompleted)
	if done.RunID != "run-j1" || done.StartedAt == nil || done.CompletedAt == nil {
		t.Errorf("Completed job = %+v", done)
	}

	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := q.PublishAnalysis(ctx, &jobs.AnalysisJob{}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Publish on a stopped queue = %v, want ErrQueueClosed", err)
	}
	if err := q.Start(ctx, nil); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Start on a stopped queue = %v, want ErrQueueClosed", err)
	}
}

func TestQueueRetriesThenFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, 1, store).WithBackoff(time.Millisecond)
	defer q.Close()

	var calls atomic.Int32
	_ = q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		calls.Add(1)
		return errors.New("source unavailable")
	})

	_ = q.PublishAnalysis(ctx, &jobs.AnalysisJob{JobID: "j1", MaxRetries: 2})

	failed := waitForStatus(t, store, "j1", jobs.JobStatusFailed)
	if failed.RetryCount != 2 || calls.Load() != 3 {
		t.Errorf("RetryCount = %d, calls = %d, want 2 and 3", failed.RetryCount, calls.Load())
	}
}

func TestQueuePermanentErrorSkipsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, 1, store).WithBackoff(time.Millisecond)
	defer q.Close()

	var calls atomic.Int32
	_ = q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		calls.Add(1)
		return fmt.Errorf("bad ledger: %w", jobs.ErrPermanent)
	})

	_ = q.PublishAnalysis(ctx, &jobs.AnalysisJob{JobID: "j1"})

	failed := waitForStatus(t, store, "j1", jobs.JobStatusFailed)
	if failed.RetryCount != 0 || calls.Load() != 1 {
		t.Errorf("RetryCount = %d, calls = %d, want 0 and 1", failed.RetryCount, calls.Load())
	}
}

func TestQueueRetryRunsOnFreshCopy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, 1, store).WithBackoff(time.Millisecond)
	defer q.Close()

	var (
		mu       sync.Mutex
		attempts []*jobs.AnalysisJob
		states   []jobs.AnalysisJob
	)
	_ = q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		j := job.(*jobs.AnalysisJob)
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, j)
		states = append(states, *j)
		if len(attempts) == 1 {
			return errors.New("source unavailable")
		}
		j.RunID = "run-1"
		return nil
	})

	published := &jobs.AnalysisJob{JobID: "j1", MaxRetries: 2}
	if err := q.PublishAnalysis(ctx, published); err != nil {
		t.Fatalf("PublishAnalysis failed: %v", err)
	}

	done := waitForStatus(t, store, "j1", jobs.JobStatusCompleted)
	if done.RetryCount != 1 || done.RunID != "run-1" || done.Error != "" {
		t.Errorf("Completed job = %+v", done)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 2 {
		t.Fatalf("Expected 2 attempts, got %d", len(attempts))
	}
	if attempts[0] == attempts[1] || attempts[0] == published || attempts[1] == published {
		t.Error("Expected every attempt to run on its own copy of the job")
	}
	second := states[1]
	if second.Status != jobs.JobStatusRunning || second.StartedAt == nil || second.CompletedAt != nil {
		t.Errorf("Retry started with stale state: %+v", second)
	}
	if published.Status != jobs.JobStatusPending || published.StartedAt != nil {
		t.Errorf("Published job was modified by the worker: %+v", published)
	}
}
