// internal/handler/job_handler.go
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"perfusion-service/internal/service"
	"perfusion-service/internal/utils"
)

// JobHandler handles scheduled job HTTP requests
type JobHandler struct {
	scheduleService *service.ScheduleService
	logger          *zap.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(scheduleService *service.ScheduleService, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		scheduleService: scheduleService,
		logger:          logger.With(zap.String("handler", "job")),
	}
}

// RegisterRoutes registers job-related routes
func (h *JobHandler) RegisterRoutes(router *gin.RouterGroup) {
	jobs := router.Group("/jobs")
	{
		jobs.POST("", h.CreateJob)
		jobs.GET("", h.ListJobs)
		jobs.GET("/runs", h.ListRecentRuns)

		jobRoutes := jobs.Group("/:id")
		{
			jobRoutes.GET("", h.GetJob)
			jobRoutes.DELETE("", h.DeleteJob)
			jobRoutes.POST("/cancel", h.CancelJob)
			jobRoutes.GET("/runs", h.ListJobRuns)
		}
	}
}

// CreateJob schedules a device operation on a cadence
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req service.ScheduleJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	job, err := h.scheduleService.CreateJob(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("Failed to create job", zap.Error(err))
		utils.ErrorResponse(c, http.StatusBadRequest, "Failed to create job", err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Job created successfully", job)
}

// ListJobs lists all jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	jobs := h.scheduleService.ListJobs(c.Request.Context())
	utils.SuccessResponse(c, http.StatusOK, "Jobs retrieved successfully", gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJob retrieves one job
func (h *JobHandler) GetJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	job, err := h.scheduleService.GetJob(c.Request.Context(), id)
	if err != nil {
		utils.ErrorResponse(c, http.StatusNotFound, "Job not found", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Job retrieved successfully", job)
}

// CancelJob stops a job from firing again
func (h *JobHandler) CancelJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	if err := h.scheduleService.CancelJob(c.Request.Context(), id); err != nil {
		utils.ErrorResponse(c, http.StatusNotFound, "Failed to cancel job", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Job cancelled successfully", gin.H{"job_id": id})
}

// DeleteJob cancels and removes a job
func (h *JobHandler) DeleteJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	if err := h.scheduleService.DeleteJob(c.Request.Context(), id); err != nil {
		utils.ErrorResponse(c, http.StatusNotFound, "Failed to delete job", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Job deleted successfully", gin.H{"job_id": id})
}

// ListJobRuns returns run history for one job
func (h *JobHandler) ListJobRuns(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	runs, err := h.scheduleService.ListRuns(c.Request.Context(), id, limitParam(c))
	if err != nil {
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Run history unavailable", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Job runs retrieved successfully", gin.H{
		"job_id": id,
		"runs":   runs,
	})
}

// ListRecentRuns returns the latest runs across all jobs
func (h *JobHandler) ListRecentRuns(c *gin.Context) {
	runs, err := h.scheduleService.ListRecentRuns(c.Request.Context(), limitParam(c))
	if err != nil {
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Run history unavailable", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Job runs retrieved successfully", gin.H{"runs": runs})
}

func jobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid job ID", err)
		return uuid.Nil, false
	}
	return id, true
}

func limitParam(c *gin.Context) int {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	return limit
}
