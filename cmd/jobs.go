package main

import (
	"time"

	"trainops/internal/jobs"
)

// initJobs initializes background tasks
func (app *Application) initJobs() error {
	manager := jobs.NewManager(app.ctx)

	collectInterval := time.Duration(app.config.Monitoring.CollectInterval) * time.Second

	manager.Register(jobs.NewCollectorJob(app.monitoringService, collectInterval))
	manager.Register(jobs.NewQueueReconcilerJob(app.trainingService))
	manager.Register(jobs.NewWatchdogJob(app.trainingService))
	manager.Register(jobs.NewRegistrySweeperJob(app.trainerRepo))

	app.jobsManager = manager
	return nil
}
