package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"trainops/app/handler"
	"trainops/app/router"
	"trainops/internal/service"
	"trainops/internal/stream"
	"trainops/pkg/alerts"
	"trainops/pkg/config"
	"trainops/pkg/health"
	"trainops/pkg/logger"
	"trainops/pkg/metrics"
	asynqqueue "trainops/pkg/queue/asynq"
	mysqlstore "trainops/pkg/store/mysql"
	redisstore "trainops/pkg/store/redis"
	"trainops/pkg/trainer"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.Sync()
		logger.InfoCtx(app.ctx, "Logging system has been closed")
	})
	return nil
}

// initMySQL initializes MySQL
func (app *Application) initMySQL() error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		app.config.MySQL.User,
		app.config.MySQL.Password,
		app.config.MySQL.Host,
		app.config.MySQL.Port,
		app.config.MySQL.Database,
	)

	repo, err := mysqlstore.NewRepository(dsn)
	if err != nil {
		return err
	}

	app.mysqlRepo = repo
	app.registerCleanup(func() {
		repo.Close()
		logger.InfoCtx(app.ctx, "MySQL connection has been closed")
	})

	return nil
}

// initRedis initializes Redis
func (app *Application) initRedis() error {
	client, err := redisstore.NewRedisClient(app.config)
	if err != nil {
		return err
	}

	app.redisClient = client
	app.trainerRepo = redisstore.NewTrainerRepository(client, time.Duration(app.config.Trainer.HeartbeatTTL)*time.Second)
	app.registerCleanup(func() {
		client.Close()
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
	})

	return nil
}

// initTrainerController initializes the configured trainer backend
func (app *Application) initTrainerController() error {
	ctl, err := trainer.NewController(app.config)
	if err != nil {
		return err
	}
	app.trainerCtl = ctl
	return nil
}

// initQueue initializes the dispatch queue
func (app *Application) initQueue() error {
	mgr, err := asynqqueue.NewManager(app.config)
	if err != nil {
		return err
	}

	app.queueMgr = mgr
	app.registerCleanup(func() {
		mgr.Close()
		logger.InfoCtx(app.ctx, "Queue client has been closed")
	})

	return nil
}

// initServices initializes service layer
func (app *Application) initServices() error {
	app.metricStore = metrics.NewStore(app.config.Monitoring.SeriesCapacity)
	app.alertMgr = alerts.NewManager()
	app.scorer = health.NewScorer(app.config.Monitoring.Health)

	// Training service owns the job state machine and queue
	app.trainingService = service.NewTrainingService(
		app.mysqlRepo.Job,
		app.trainerCtl,
		app.queueMgr,
		app.metricStore,
		app.alertMgr,
		app.config,
	)

	// Progress stream dispatcher doubles as the realtime metric source
	app.dispatcher = stream.NewDispatcher(app.mysqlRepo.Job, app.metricStore, app.config.Stream)

	// Metric collectors
	var sqlDB *sql.DB
	if db, err := app.mysqlRepo.GetDatastore().DB(app.ctx).DB(); err == nil {
		sqlDB = db
	} else {
		logger.WarnCtx(app.ctx, "failed to expose sql.DB for collection: %v", err)
	}

	collectors := []metrics.Collector{
		metrics.NewDatabaseCollector(sqlDB),
		metrics.NewCacheCollector(app.redisClient.GetClient()),
		metrics.NewRealtimeCollector(app.dispatcher),
		metrics.NewSystemCollector(time.Now()),
	}

	app.monitoringService = service.NewMonitoringService(
		app.metricStore,
		app.alertMgr,
		app.scorer,
		collectors,
		app.trainerRepo,
	)

	// Wire the dispatch handler: promoted jobs start their trainer here
	app.queueMgr.RegisterHandler(asynqqueue.TypeTrainingDispatch, asynq.HandlerFunc(
		func(ctx context.Context, task *asynq.Task) error {
			var payload asynqqueue.DispatchPayload
			if err := json.Unmarshal(task.Payload(), &payload); err != nil {
				return fmt.Errorf("failed to decode dispatch payload: %w", err)
			}
			return app.trainingService.HandleDispatch(ctx, payload.JobID)
		}))

	return nil
}

// initHandlers initializes handler layer
func (app *Application) initHandlers() error {
	app.trainingHandler = handler.NewTrainingHandler(app.trainingService)
	app.monitoringHandler = handler.NewMonitoringHandler(app.monitoringService)
	app.streamHandler = handler.NewStreamHandler(app.dispatcher)
	app.trainerHandler = handler.NewTrainerHandler(app.trainingService, app.trainerRepo)
	return nil
}

// initHTTPServer initializes HTTP server
func (app *Application) initHTTPServer() error {
	// Initialize router
	r := router.NewRouter(app.trainingHandler, app.monitoringHandler, app.streamHandler, app.trainerHandler)

	// Set Gin mode
	gin.SetMode(app.config.Server.Mode)

	// Create Gin engine
	app.ginEngine = gin.New()
	app.ginEngine.Use(gin.Recovery())

	// Setup routes
	r.Setup(app.ginEngine)

	// Create HTTP server
	app.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: app.ginEngine,
	}

	return nil
}
