package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/spend-analytics/internal/pipeline"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeAnalyze represents an analysis run over a ledger source.
	JobTypeAnalyze JobType = "analyze"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// ErrPermanent marks handler errors that retrying cannot fix, such as a
// contract violation in the input data.
var ErrPermanent = errors.New("permanent failure")

// AnalysisJob represents a request to analyze a ledger source.
type AnalysisJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// Source is a local path, a gs:// URI, or "bigquery".
	Source string `json:"source"`

	// UserID restricts the analysis to one user.
	UserID string `json:"user_id,omitempty"`

	// From and To are inclusive YYYY-MM-DD bounds.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// DuplicateRounding overrides the configured duplicate rounding.
	DuplicateRounding string `json:"duplicate_rounding,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// RunID and ResultStatus are set once the analysis completes.
	RunID        string          `json:"run_id,omitempty"`
	ResultStatus pipeline.Status `json:"result_status,omitempty"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *AnalysisJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *AnalysisJob) GetType() JobType {
	return JobTypeAnalyze
}

// GetStatus implements the Job interface.
func (j *AnalysisJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishAnalysis publishes an analysis job.
	PublishAnalysis(ctx context.Context, job *AnalysisJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried;
// errors wrapping ErrPermanent fail the job at once.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status
// and the results of completed analyses.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *AnalysisJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*AnalysisJob, error)

	// ListJobs retrieves jobs with optional filtering.
	ListJobs(ctx context.Context, filter JobFilter) ([]*AnalysisJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error

	// SaveResult attaches an analysis result to a job.
	SaveResult(ctx context.Context, jobID string, res *pipeline.Result) error

	// GetResult returns the result of a completed job.
	GetResult(ctx context.Context, jobID string) (*pipeline.Result, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// UserID filters jobs by requested user.
	UserID string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

// ErrNotFound is returned for an unknown job or a job without a result.
var ErrNotFound = errors.New("not found")
