package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/drummonds/pdfcarousel/database"
	"github.com/robfig/cron/v3"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// finished jobs older than this are pruned by the daily cleanup
const jobRetention = 7 * 24 * time.Hour

// InitializeSchedules runs a backfill at startup and starts the cron jobs.
// The returned cron must be stopped on shutdown.
func (serverHandler *ServerHandler) InitializeSchedules(ctx context.Context) *cron.Cron {
	Logger.Info("Running conversion backfill at startup")
	go serverHandler.backfillJobFunc(ctx)

	c := cron.New()
	chain := cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)) //ensure we don't kick off another if old one is still running

	if interval := serverHandler.ServerConfig.BackfillInterval; interval > 0 {
		backfillJob := chain.Then(cron.FuncJob(func() { serverHandler.backfillJobFunc(ctx) }))
		if _, err := c.AddJob(fmt.Sprintf("@every %dm", interval), backfillJob); err != nil {
			Logger.Error("Failed to schedule backfill job", "error", err)
		} else {
			Logger.Info("Adding backfill job scheduler", "interval_minutes", interval)
		}
	} else {
		Logger.Info("Backfill scheduler disabled")
	}

	cleanupJob := chain.Then(cron.FuncJob(serverHandler.cleanupJobFunc))
	if _, err := c.AddJob("@daily", cleanupJob); err != nil {
		Logger.Error("Failed to schedule job cleanup", "error", err)
	}

	c.Start()
	return c
}

// cleanupJobFunc prunes finished jobs, tracked as a cleanup job itself
func (serverHandler *ServerHandler) cleanupJobFunc() {
	db := serverHandler.DB
	job, err := db.CreateJob(database.JobTypeCleanup, "Pruning old jobs")
	if err != nil {
		Logger.Error("Failed to create cleanup job", "error", err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in cleanup job", "panic", r, "jobID", job.ID)
			db.UpdateJobError(job.ID, fmt.Sprintf("Panic: %v", r))
		}
	}()

	db.UpdateJobStatus(job.ID, database.JobStatusRunning, "Pruning")
	deleted, err := db.DeleteOldJobs(jobRetention)
	if err != nil {
		Logger.Error("Failed to prune old jobs", "error", err)
		db.UpdateJobError(job.ID, err.Error())
		return
	}
	Logger.Info("Pruned old jobs", "deleted", deleted)
	db.CompleteJob(job.ID, fmt.Sprintf(`{"deleted": %d}`, deleted))
}
