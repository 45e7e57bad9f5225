package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/spend-analytics/internal/jobs"
	"github.com/dvloznov/spend-analytics/internal/logger"
	"github.com/google/uuid"
)

// ErrQueueClosed is returned once Stop has been called.
var ErrQueueClosed = errors.New("queue is closed")

// defaultMaxRetries applies to jobs published without a retry budget.
const defaultMaxRetries = 3

// Queue is a channel-backed analysis job queue for a single API process.
// Every enqueued run works on its own copy of the job, so callers may keep
// reading the job they published.
type Queue struct {
	jobChan     chan *jobs.AnalysisJob
	closeChan   chan struct{}
	wg          sync.WaitGroup
	mu          sync.RWMutex
	store       jobs.JobStore
	closed      bool
	workerCount int
	backoff     time.Duration
}

// NewQueue creates a queue holding up to bufferSize pending analyses, run by
// workers goroutines (at least one).
func NewQueue(bufferSize, workers int, store jobs.JobStore) *Queue {
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		jobChan:     make(chan *jobs.AnalysisJob, bufferSize),
		closeChan:   make(chan struct{}),
		store:       store,
		workerCount: workers,
		backoff:     time.Second,
	}
}

// WithBackoff sets the base retry delay; the n-th retry waits n times d.
func (q *Queue) WithBackoff(d time.Duration) *Queue {
	q.backoff = d
	return q
}

// PublishAnalysis assigns an ID and defaults to job, records it as pending
// and enqueues a copy.
func (q *Queue) PublishAnalysis(ctx context.Context, job *jobs.AnalysisJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	fillDefaults(job)
	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("PublishAnalysis: saving job %s: %w", job.JobID, err)
		}
	}

	queued := *job
	select {
	case q.jobChan <- &queued:
		return nil
	case <-q.closeChan:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func fillDefaults(job *jobs.AnalysisJob) {
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = defaultMaxRetries
	}
}

// Start launches the workers and returns immediately.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return ErrQueueClosed
	}

	q.wg.Add(q.workerCount)
	for i := 0; i < q.workerCount; i++ {
		go q.worker(ctx, handler)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case job := <-q.jobChan:
			q.processJob(ctx, job, handler)
		case <-q.closeChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// processJob runs one attempt. The attempt's final state is saved before a
// retry is scheduled, and the retry runs on a fresh copy, so nothing touches
// job once this returns.
func (q *Queue) processJob(ctx context.Context, job *jobs.AnalysisJob, handler jobs.JobHandler) {
	log := logger.FromContext(ctx).With().
		Str("job_id", job.JobID).
		Int("attempt", job.RetryCount+1).
		Logger()

	started := time.Now()
	job.Status = jobs.JobStatusRunning
	job.StartedAt = &started
	q.save(ctx, job)

	runErr := handler(ctx, job)
	finished := time.Now()
	job.CompletedAt = &finished

	retry := false
	switch {
	case runErr == nil:
		job.Status, job.Error = jobs.JobStatusCompleted, ""
		log.Info().Str("run_id", job.RunID).Dur("took", finished.Sub(started)).Msg("Analysis completed")
	case !errors.Is(runErr, jobs.ErrPermanent) && job.RetryCount < job.MaxRetries:
		job.Status, job.Error = jobs.JobStatusRetrying, runErr.Error()
		job.RetryCount++
		retry = true
		log.Warn().Err(runErr).Msg("Analysis failed, retrying")
	default:
		job.Status, job.Error = jobs.JobStatusFailed, runErr.Error()
		log.Error().Err(runErr).Msg("Analysis failed")
	}
	q.save(ctx, job)

	if !retry {
		return
	}

	next := *job
	next.Status = jobs.JobStatusPending
	next.StartedAt = nil
	next.CompletedAt = nil
	delay := time.Duration(next.RetryCount) * q.backoff
	time.AfterFunc(delay, func() {
		_ = q.PublishAnalysis(ctx, &next)
	})
}

func (q *Queue) save(ctx context.Context, job *jobs.AnalysisJob) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("job_id", job.JobID).Str("status", string(job.Status)).Msg("Failed to record job state")
	}
}

// Stop closes the queue and waits for running analyses, or for ctx.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the queue without a deadline.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
