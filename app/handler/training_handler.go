package handler

import (
	"errors"
	"net/http"

	"trainops/internal/model"
	"trainops/internal/service"
	"trainops/pkg/logger"

	"github.com/gin-gonic/gin"
)

// TrainingHandler handles job submission and lifecycle control requests
type TrainingHandler struct {
	trainingService *service.TrainingService
}

// NewTrainingHandler creates a new training handler
func NewTrainingHandler(trainingService *service.TrainingService) *TrainingHandler {
	return &TrainingHandler{trainingService: trainingService}
}

// writeJobError maps service errors onto HTTP statuses.
func writeJobError(c *gin.Context, err error) {
	var invalid *model.InvalidTransitionError
	switch {
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": invalid.Error()})
	case errors.Is(err, model.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		logger.ErrorCtx(c.Request.Context(), "request failed: %v", err)
		msg := "internal server error"
		if gin.Mode() == gin.DebugMode {
			msg = err.Error()
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

// Submit enqueues a new training job
// POST /api/training/submit
func (h *TrainingHandler) Submit(c *gin.Context) {
	var req model.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	job, err := h.trainingService.SubmitJob(c.Request.Context(), &req)
	if err != nil {
		writeJobError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// Control applies a lifecycle action to a job
// POST /api/training/job-control
func (h *TrainingHandler) Control(c *gin.Context) {
	var req model.JobControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	action, err := model.ParseJobAction(req.Action)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor := c.GetString("user_id")
	if actor == "" {
		actor = "admin"
	}

	resp, err := h.trainingService.Control(c.Request.Context(), req.JobID, action, actor)
	if err != nil {
		writeJobError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Status returns all jobs with queue ordering and status counts
// GET /api/training/status
func (h *TrainingHandler) Status(c *gin.Context) {
	resp, err := h.trainingService.Status(c.Request.Context())
	if err != nil {
		writeJobError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetJob returns a single job
// GET /api/training/jobs/:job_id
func (h *TrainingHandler) GetJob(c *gin.Context) {
	job, err := h.trainingService.GetJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		writeJobError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetAudit returns the transition history of a job
// GET /api/training/jobs/:job_id/audit
func (h *TrainingHandler) GetAudit(c *gin.Context) {
	job, err := h.trainingService.GetJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		writeJobError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job_id": job.ID,
		"audit":  job.Audit,
	})
}
