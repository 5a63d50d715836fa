package handler

import (
	"net/http"
	"time"

	"trainops/internal/model"
	"trainops/internal/service"
	"trainops/pkg/logger"
	"trainops/pkg/store/redis"

	"github.com/gin-gonic/gin"
)

// TrainerHandler receives callbacks from trainer processes
type TrainerHandler struct {
	trainingService *service.TrainingService
	trainerRepo     *redis.TrainerRepository
}

// NewTrainerHandler creates a new trainer callback handler
func NewTrainerHandler(trainingService *service.TrainingService, trainerRepo *redis.TrainerRepository) *TrainerHandler {
	return &TrainerHandler{
		trainingService: trainingService,
		trainerRepo:     trainerRepo,
	}
}

// Progress records an epoch-boundary progress report
// POST /api/trainer/progress/:job_id
func (h *TrainerHandler) Progress(c *gin.Context) {
	var report model.ProgressReport
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	jobID := c.Param("job_id")
	if err := h.trainingService.HandleProgress(c.Request.Context(), jobID, &report); err != nil {
		writeJobError(c, err)
		return
	}

	if report.TrainerID != "" && h.trainerRepo != nil {
		err := h.trainerRepo.Heartbeat(c.Request.Context(), &model.Trainer{
			ID:       report.TrainerID,
			JobID:    jobID,
			LastSeen: time.Now(),
		})
		if err != nil {
			// Registry refresh is best effort; the progress report stands.
			logger.WarnCtx(c.Request.Context(), "trainer heartbeat failed: %v", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

// Result records the final outcome of a run
// POST /api/trainer/result/:job_id
func (h *TrainerHandler) Result(c *gin.Context) {
	var report model.ResultReport
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if err := h.trainingService.HandleResult(c.Request.Context(), c.Param("job_id"), &report); err != nil {
		writeJobError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

// Ping refreshes a trainer heartbeat
// GET /api/trainer/ping/:trainer_id
func (h *TrainerHandler) Ping(c *gin.Context) {
	trainerID := c.Param("trainer_id")
	if trainerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trainer_id is required"})
		return
	}

	trainer := &model.Trainer{
		ID:       trainerID,
		JobID:    c.Query("job_id"),
		Host:     c.ClientIP(),
		GPU:      c.Query("gpu"),
		LastSeen: time.Now(),
	}

	if err := h.trainerRepo.Heartbeat(c.Request.Context(), trainer); err != nil {
		logger.ErrorCtx(c.Request.Context(), "trainer heartbeat failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record heartbeat"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"pong": true, "trainer_id": trainerID})
}
