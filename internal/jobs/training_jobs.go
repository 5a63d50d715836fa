package jobs

import (
	"context"
	"time"

	"trainops/internal/model"
	"trainops/internal/service"
)

// CollectorJob samples all metric collectors on a fixed cadence. Aligned to
// the interval so snapshot timestamps land on tick boundaries.
type CollectorJob struct {
	monitoring *service.MonitoringService
	interval   time.Duration
}

// NewCollectorJob creates a metric collection job.
func NewCollectorJob(monitoring *service.MonitoringService, interval time.Duration) *CollectorJob {
	return &CollectorJob{monitoring: monitoring, interval: interval}
}

func (j *CollectorJob) Name() string            { return "metric-collector" }
func (j *CollectorJob) Interval() time.Duration { return j.interval }
func (j *CollectorJob) AlignToInterval() bool   { return true }

func (j *CollectorJob) Run(ctx context.Context) error {
	j.monitoring.Collect(ctx)
	return nil
}

// QueueReconcilerJob repairs queue positions and promotes waiting jobs.
// Safety net for promotions missed when a dispatch or result path errored.
type QueueReconcilerJob struct {
	training *service.TrainingService
}

// NewQueueReconcilerJob creates a queue reconciliation job.
func NewQueueReconcilerJob(training *service.TrainingService) *QueueReconcilerJob {
	return &QueueReconcilerJob{training: training}
}

func (j *QueueReconcilerJob) Name() string            { return "queue-reconciler" }
func (j *QueueReconcilerJob) Interval() time.Duration { return 30 * time.Second }

func (j *QueueReconcilerJob) Run(ctx context.Context) error {
	return j.training.ReconcileQueue(ctx)
}

// WatchdogJob fails running jobs whose trainers stopped reporting.
type WatchdogJob struct {
	training *service.TrainingService
}

// NewWatchdogJob creates a stalled-job watchdog.
func NewWatchdogJob(training *service.TrainingService) *WatchdogJob {
	return &WatchdogJob{training: training}
}

func (j *WatchdogJob) Name() string            { return "stalled-job-watchdog" }
func (j *WatchdogJob) Interval() time.Duration { return time.Minute }

func (j *WatchdogJob) Run(ctx context.Context) error {
	return j.training.SweepStalledJobs(ctx)
}

// trainerRegistry is the slice of the trainer repository the sweeper needs.
type trainerRegistry interface {
	GetAll(ctx context.Context) ([]*model.Trainer, error)
}

// RegistrySweeperJob walks the live-trainer set so expired heartbeat
// members are pruned even when nothing reads the dashboard.
type RegistrySweeperJob struct {
	registry trainerRegistry
}

// NewRegistrySweeperJob creates a trainer registry sweep job.
func NewRegistrySweeperJob(registry trainerRegistry) *RegistrySweeperJob {
	return &RegistrySweeperJob{registry: registry}
}

func (j *RegistrySweeperJob) Name() string            { return "trainer-registry-sweeper" }
func (j *RegistrySweeperJob) Interval() time.Duration { return 5 * time.Minute }

func (j *RegistrySweeperJob) Run(ctx context.Context) error {
	_, err := j.registry.GetAll(ctx)
	return err
}
