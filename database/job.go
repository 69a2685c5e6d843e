package database

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/uptrace/bun"
)

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobType represents the type of job
type JobType string

const (
	JobTypeConversion JobType = "conversion"
	JobTypeBackfill   JobType = "backfill"
	JobTypeCleanup    JobType = "cleanup"
)

// Job represents a background job or operation
type Job struct {
	ID          ulid.ULID  `json:"id"`
	Type        JobType    `json:"type"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`         // 0-100
	CurrentStep string     `json:"currentStep"`      // Human-readable current step
	TotalSteps  int        `json:"totalSteps"`       // Total number of steps
	Message     string     `json:"message"`          // Status message
	Error       string     `json:"error,omitempty"`  // Error message if failed
	Result      string     `json:"result,omitempty"` // JSON result data
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ConversionSummary is stored as the result of a conversion job
type ConversionSummary struct {
	DocumentID string `json:"documentId"`
	Status     string `json:"status"`
	Images     int    `json:"images"`
	Attempts   int    `json:"attempts"`
	Details    string `json:"details,omitempty"`
}

// CreateJob creates a new job in the database
func (b *BunDB) CreateJob(jobType JobType, message string) (*Job, error) {
	ctx := context.Background()
	now := time.Now()
	jobID, err := CalculateUUID(now)
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:          jobID,
		Type:        jobType,
		Status:      JobStatusPending,
		Progress:    0,
		CurrentStep: "",
		TotalSteps:  0,
		Message:     message,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	bunJob := FromJob(job)

	_, err = b.db.NewInsert().
		Model(bunJob).
		Exec(ctx)

	if err != nil {
		return nil, err
	}

	return job, nil
}

// UpdateJobProgress updates the progress of a job
func (b *BunDB) UpdateJobProgress(jobID ulid.ULID, progress int, currentStep string) error {
	ctx := context.Background()

	_, err := b.db.NewUpdate().
		Model((*BunJob)(nil)).
		Set("progress = ?", progress).
		Set("current_step = ?", currentStep).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", jobID.String()).
		Exec(ctx)

	return err
}

// UpdateJobStatus updates the status of a job
func (b *BunDB) UpdateJobStatus(jobID ulid.ULID, status JobStatus, message string) error {
	ctx := context.Background()
	now := time.Now()

	query := b.db.NewUpdate().
		Model((*BunJob)(nil)).
		Set("status = ?", status).
		Set("message = ?", message).
		Set("updated_at = ?", now)

	if status == JobStatusRunning {
		query = query.Set("started_at = COALESCE(started_at, ?)", now)
	}
	if status == JobStatusCompleted || status == JobStatusFailed || status == JobStatusCancelled {
		query = query.Set("completed_at = ?", now)
	}

	_, err := query.Where("id = ?", jobID.String()).Exec(ctx)
	return err
}

// UpdateJobError updates a job with an error
func (b *BunDB) UpdateJobError(jobID ulid.ULID, errorMsg string) error {
	ctx := context.Background()
	now := time.Now()

	_, err := b.db.NewUpdate().
		Model((*BunJob)(nil)).
		Set("status = ?", JobStatusFailed).
		Set("error = ?", errorMsg).
		Set("updated_at = ?", now).
		Set("completed_at = ?", now).
		Where("id = ?", jobID.String()).
		Exec(ctx)

	return err
}

// CompleteJob marks a job as completed with optional result data
func (b *BunDB) CompleteJob(jobID ulid.ULID, result string) error {
	ctx := context.Background()
	now := time.Now()

	_, err := b.db.NewUpdate().
		Model((*BunJob)(nil)).
		Set("status = ?", JobStatusCompleted).
		Set("progress = ?", 100).
		Set("result = ?", result).
		Set("updated_at = ?", now).
		Set("completed_at = ?", now).
		Where("id = ?", jobID.String()).
		Exec(ctx)

	return err
}

// GetJob retrieves a job by ID
func (b *BunDB) GetJob(jobID ulid.ULID) (*Job, error) {
	ctx := context.Background()
	bunJob := new(BunJob)

	err := b.db.NewSelect().
		Model(bunJob).
		Where("id = ?", jobID.String()).
		Scan(ctx)

	if err != nil {
		return nil, err
	}

	return bunJob.ToJob()
}

// GetRecentJobs retrieves the most recent jobs with pagination
func (b *BunDB) GetRecentJobs(limit, offset int) ([]Job, error) {
	ctx := context.Background()
	var bunJobs []BunJob

	err := b.db.NewSelect().
		Model(&bunJobs).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)

	if err != nil {
		return nil, err
	}

	return bunJobsToJobs(bunJobs)
}

// GetActiveJobs retrieves all running or pending jobs
func (b *BunDB) GetActiveJobs() ([]Job, error) {
	ctx := context.Background()
	var bunJobs []BunJob

	err := b.db.NewSelect().
		Model(&bunJobs).
		Where("status IN (?)", bun.In([]string{string(JobStatusPending), string(JobStatusRunning)})).
		Order("created_at DESC").
		Scan(ctx)

	if err != nil {
		return nil, err
	}

	return bunJobsToJobs(bunJobs)
}

// DeleteOldJobs deletes completed jobs older than the specified duration
func (b *BunDB) DeleteOldJobs(olderThan time.Duration) (int, error) {
	ctx := context.Background()
	cutoffTime := time.Now().Add(-olderThan)

	result, err := b.db.NewDelete().
		Model((*BunJob)(nil)).
		Where("status IN (?)", bun.In([]string{string(JobStatusCompleted), string(JobStatusFailed), string(JobStatusCancelled)})).
		Where("completed_at < ?", cutoffTime).
		Exec(ctx)

	if err != nil {
		return 0, err
	}

	count, err := result.RowsAffected()
	return int(count), err
}

// bunJobsToJobs converts a slice of BunJob to Job
func bunJobsToJobs(bunJobs []BunJob) ([]Job, error) {
	jobs := make([]Job, 0, len(bunJobs))
	for _, bunJob := range bunJobs {
		job, err := bunJob.ToJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}
