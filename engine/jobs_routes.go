package engine

import (
	"net/http"
	"strconv"

	"github.com/drummonds/pdfcarousel/database"
	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
)

// GetJob retrieves a job by ID
// @Summary Get job by ID
// @Description Retrieve a conversion, backfill or cleanup job by its ID
// @Tags Jobs
// @Produce json
// @Param id path string true "Job ID (ULID)"
// @Success 200 {object} database.Job "Job details"
// @Failure 400 {object} map[string]interface{} "Invalid job ID"
// @Failure 404 {object} map[string]interface{} "Job not found"
// @Router /jobs/{id} [get]
func (serverHandler *ServerHandler) GetJob(c echo.Context) error {
	jobID, err := ulid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid job ID format",
		})
	}

	job, err := serverHandler.DB.GetJob(jobID)
	if err != nil {
		Logger.Error("Failed to get job", "jobID", c.Param("id"), "error", err)
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "Job not found",
		})
	}

	return c.JSON(http.StatusOK, job)
}

// GetRecentJobs lists recent jobs, newest first
// @Summary Get recent jobs
// @Tags Jobs
// @Produce json
// @Param limit query int false "Number of jobs to return (default: 20, max: 100)"
// @Param offset query int false "Offset for pagination (default: 0)"
// @Param type query string false "Only jobs of this type (conversion, backfill, cleanup)"
// @Success 200 {array} database.Job "List of jobs"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /jobs [get]
func (serverHandler *ServerHandler) GetRecentJobs(c echo.Context) error {
	limit, offset := 20, 0
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	if o, err := strconv.Atoi(c.QueryParam("offset")); err == nil && o >= 0 {
		offset = o
	}

	jobs, err := serverHandler.DB.GetRecentJobs(limit, offset)
	if err != nil {
		Logger.Error("Failed to get recent jobs", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to retrieve jobs",
		})
	}

	return c.JSON(http.StatusOK, filterJobs(jobs, database.JobType(c.QueryParam("type"))))
}

// GetActiveJobs lists pending and running jobs, e.g. conversions still in the queue
// @Summary Get active jobs
// @Tags Jobs
// @Produce json
// @Success 200 {array} database.Job "List of active jobs"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /jobs/active [get]
func (serverHandler *ServerHandler) GetActiveJobs(c echo.Context) error {
	jobs, err := serverHandler.DB.GetActiveJobs()
	if err != nil {
		Logger.Error("Failed to get active jobs", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to retrieve active jobs",
		})
	}

	return c.JSON(http.StatusOK, filterJobs(jobs, ""))
}

// filterJobs keeps jobs of the given type, all of them when jobType is empty. Never nil.
func filterJobs(jobs []database.Job, jobType database.JobType) []database.Job {
	out := make([]database.Job, 0, len(jobs))
	for _, job := range jobs {
		if jobType == "" || job.Type == jobType {
			out = append(out, job)
		}
	}
	return out
}
