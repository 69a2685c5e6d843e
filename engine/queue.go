package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/drummonds/pdfcarousel/config"
	"github.com/drummonds/pdfcarousel/database"
)

// ConversionRunner converts one document to a terminal status
type ConversionRunner interface {
	Run(ctx context.Context, documentID string) (database.ConversionStatus, error)
}

// ConversionQueue runs conversions in the background with a bounded retry per document
type ConversionQueue struct {
	Runner      ConversionRunner
	DB          database.Repository
	Workers     int
	MaxAttempts int
	Timeout     time.Duration
	// NewBackOff builds the retry schedule for one attempt series
	NewBackOff func() backoff.BackOff

	jobs   chan string
	mu     sync.Mutex
	queued map[string]bool // queued or running
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewConversionQueue builds a queue sized from the server configuration
func NewConversionQueue(serverConfig config.ServerConfig, runner ConversionRunner, db database.Repository) *ConversionQueue {
	size := serverConfig.QueueSize
	if size <= 0 {
		size = 100
	}
	return &ConversionQueue{
		Runner:      runner,
		DB:          db,
		Workers:     serverConfig.QueueWorkers,
		MaxAttempts: serverConfig.MaxAttempts,
		Timeout:     serverConfig.ConversionTimeout,
		jobs:        make(chan string, size),
		queued:      make(map[string]bool),
	}
}

// EnqueueConversion schedules a document for conversion and returns immediately.
// Ids already queued or running are ignored. A full queue leaves the document
// pending for the backfill to pick up.
func (q *ConversionQueue) EnqueueConversion(documentID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.queued[documentID] {
		Logger.Debug("Conversion already queued", "documentID", documentID)
		return
	}
	select {
	case q.jobs <- documentID:
		q.queued[documentID] = true
		queueDepth.Inc()
		Logger.Debug("Conversion queued", "documentID", documentID)
	default:
		Logger.Warn("Conversion queue full, leaving document for backfill", "documentID", documentID)
	}
}

// Pending reports whether a document is waiting or being converted
func (q *ConversionQueue) Pending(documentID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued[documentID]
}

// Start launches the worker goroutines
func (q *ConversionQueue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	workers := q.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	Logger.Info("Conversion queue started", "workers", workers, "capacity", cap(q.jobs))
}

// Stop cancels running conversions and waits for the workers to exit
func (q *ConversionQueue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	Logger.Info("Conversion queue stopped")
}

func (q *ConversionQueue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case documentID := <-q.jobs:
			queueDepth.Dec()
			q.process(ctx, documentID)
			q.mu.Lock()
			delete(q.queued, documentID)
			q.mu.Unlock()
		}
	}
}

// RunNow converts a document on the calling goroutine with the same retry and job tracking
func (q *ConversionQueue) RunNow(ctx context.Context, documentID string) (database.ConversionStatus, error) {
	return q.process(ctx, documentID)
}

func (q *ConversionQueue) process(ctx context.Context, documentID string) (status database.ConversionStatus, err error) {
	job, jobErr := q.DB.CreateJob(database.JobTypeConversion, fmt.Sprintf("Converting document %s", documentID))
	if jobErr != nil {
		Logger.Error("Failed to create conversion job", "documentID", documentID, "error", jobErr)
	}

	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in conversion job", "documentID", documentID, "panic", r)
			err = fmt.Errorf("conversion of %s panicked: %v", documentID, r)
			status = q.markFailed(documentID)
			if job != nil {
				q.DB.UpdateJobError(job.ID, err.Error())
			}
		}
	}()

	if job != nil {
		if err := q.DB.UpdateJobStatus(job.ID, database.JobStatusRunning, "Converting"); err != nil {
			Logger.Error("Failed to update job status", "jobID", job.ID, "error", err)
		}
	}

	timeout := q.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempts := 0
	operation := func() error {
		attempts++
		var runErr error
		status, runErr = q.Runner.Run(runCtx, documentID)
		if errors.Is(runErr, database.ErrNotFound) || errors.Is(runErr, context.Canceled) {
			return backoff.Permanent(runErr)
		}
		return runErr
	}
	notify := func(err error, wait time.Duration) {
		Logger.Warn("Conversion attempt failed, retrying", "documentID", documentID, "attempt", attempts, "wait", wait, "error", err)
		if job != nil {
			q.DB.UpdateJobProgress(job.ID, 0, fmt.Sprintf("Retrying after attempt %d", attempts))
		}
	}

	err = backoff.RetryNotify(operation, backoff.WithContext(q.retryPolicy(), runCtx), notify)
	if errors.Is(err, context.Canceled) {
		// shutting down, the backfill requeues the document once it goes stale
		Logger.Warn("Conversion cancelled", "documentID", documentID, "attempts", attempts)
		if job != nil {
			q.DB.UpdateJobError(job.ID, "cancelled: "+err.Error())
		}
		return "", err
	}
	if err != nil {
		Logger.Error("Conversion failed after retries", "documentID", documentID, "attempts", attempts, "error", err)
		if !errors.Is(err, database.ErrNotFound) {
			status = q.markFailed(documentID)
		}
		if job != nil {
			q.DB.UpdateJobError(job.ID, err.Error())
		}
		return status, err
	}

	if job != nil {
		doc, _ := q.DB.GetDocument(documentID)
		summary := database.ConversionSummary{DocumentID: documentID, Status: string(status), Attempts: attempts}
		if doc != nil {
			summary.Images = len(doc.ImagePaths)
		}
		result, _ := json.Marshal(summary)
		if err := q.DB.CompleteJob(job.ID, string(result)); err != nil {
			Logger.Error("Failed to mark job as complete", "jobID", job.ID, "error", err)
		}
	}
	return status, nil
}

func (q *ConversionQueue) retryPolicy() backoff.BackOff {
	var policy backoff.BackOff
	if q.NewBackOff != nil {
		policy = q.NewBackOff()
	} else {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 2 * time.Second
		exp.MaxElapsedTime = 0 // bounded by attempts and the job context
		policy = exp
	}
	attempts := q.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return backoff.WithMaxRetries(policy, uint64(attempts-1))
}

// markFailed is the final failure hook; the document must not stay in processing
func (q *ConversionQueue) markFailed(documentID string) database.ConversionStatus {
	failed := database.ConversionFailed
	empty := []string{}
	if err := q.DB.UpdateConversion(documentID, database.ConversionUpdate{Status: &failed, ImagePaths: &empty}); err != nil {
		Logger.Error("Could not mark document failed", "documentID", documentID, "error", err)
		return ""
	}
	conversionsTotal.WithLabelValues(outcomeFailed).Inc()
	return failed
}
