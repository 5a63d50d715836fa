package router

import (
	"trainops/app/handler"
	"trainops/app/middleware"

	"github.com/gin-gonic/gin"
)

// Router Router
type Router struct {
	trainingHandler   *handler.TrainingHandler
	monitoringHandler *handler.MonitoringHandler
	streamHandler     *handler.StreamHandler
	trainerHandler    *handler.TrainerHandler
}

// NewRouter creates a new Router
func NewRouter(trainingHandler *handler.TrainingHandler, monitoringHandler *handler.MonitoringHandler, streamHandler *handler.StreamHandler, trainerHandler *handler.TrainerHandler) *Router {
	return &Router{
		trainingHandler:   trainingHandler,
		monitoringHandler: monitoringHandler,
		streamHandler:     streamHandler,
		trainerHandler:    trainerHandler,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	api := engine.Group("/api")
	{
		// Admin interface
		training := api.Group("/training")
		{
			training.POST("/submit", r.trainingHandler.Submit)
			training.POST("/job-control", r.trainingHandler.Control)
			training.GET("/status", r.trainingHandler.Status)
			training.GET("/jobs/:job_id", r.trainingHandler.GetJob)
			training.GET("/jobs/:job_id/audit", r.trainingHandler.GetAudit)

			// Live progress streams
			training.GET("/progress-stream", r.streamHandler.Progress)
			training.GET("/progress-ws", r.streamHandler.ProgressWS)
		}

		// Monitoring interface (action-dispatched)
		api.GET("/monitoring", r.monitoringHandler.Query)
		api.POST("/monitoring", r.monitoringHandler.Mutate)

		// Trainer callback interface
		trainer := api.Group("/trainer")
		trainer.Use(middleware.AuthMiddleware())
		{
			trainer.POST("/progress/:job_id", r.trainerHandler.Progress)
			trainer.POST("/result/:job_id", r.trainerHandler.Result)
			trainer.GET("/ping/:trainer_id", r.trainerHandler.Ping)
		}
	}

	// Health check
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
}
