package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/drummonds/pdfcarousel/database"
)

// BackfillResult counts what a backfill pass re-enqueued
type BackfillResult struct {
	Pending  int `json:"pending"`
	Stale    int `json:"stale"`
	Enqueued int `json:"enqueued"`
}

// Backfill re-enqueues documents that never finished: pending ones, and ones left
// in processing for longer than staleAfter (the process died mid conversion).
func Backfill(db database.Repository, queue *ConversionQueue, staleAfter time.Duration) (BackfillResult, error) {
	var result BackfillResult
	docs, err := db.ListDocumentsByStatus(database.ConversionPending, database.ConversionProcessing)
	if err != nil {
		return result, fmt.Errorf("listing unfinished documents: %w", err)
	}

	cutoff := time.Now().Add(-staleAfter)
	for _, doc := range docs {
		id := doc.ID.String()
		switch doc.ConversionStatus {
		case database.ConversionPending:
			result.Pending++
		case database.ConversionProcessing:
			if doc.UpdatedAt.After(cutoff) {
				continue // probably still running
			}
			result.Stale++
		}
		if queue.Pending(id) {
			continue
		}
		queue.EnqueueConversion(id)
		result.Enqueued++
	}
	return result, nil
}

// backfillJobFunc runs Backfill as a tracked job
func (serverHandler *ServerHandler) backfillJobFunc(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	db := serverHandler.DB
	job, err := db.CreateJob(database.JobTypeBackfill, "Re-enqueueing unfinished conversions")
	if err != nil {
		Logger.Error("Failed to create backfill job", "error", err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in backfill job", "panic", r, "jobID", job.ID)
			db.UpdateJobError(job.ID, fmt.Sprintf("Panic: %v", r))
		}
	}()

	db.UpdateJobStatus(job.ID, database.JobStatusRunning, "Scanning documents")
	staleAfter := serverHandler.ServerConfig.ConversionTimeout
	if staleAfter <= 0 {
		staleAfter = 300 * time.Second
	}
	result, err := Backfill(db, serverHandler.Queue, staleAfter)
	if err != nil {
		Logger.Error("Backfill failed", "error", err)
		db.UpdateJobError(job.ID, err.Error())
		return
	}

	Logger.Info("Backfill completed", "pending", result.Pending, "stale", result.Stale, "enqueued", result.Enqueued)
	summary, _ := json.Marshal(result)
	db.CompleteJob(job.ID, string(summary))
}
