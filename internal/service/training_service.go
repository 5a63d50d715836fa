package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trainops/internal/model"
	"trainops/pkg/alerts"
	"trainops/pkg/config"
	"trainops/pkg/interfaces"
	"trainops/pkg/logger"
	"trainops/pkg/metrics"

	"github.com/google/uuid"
)

// JobStore is the persistence handle for training jobs. The MySQL
// repository implements it; tests use an in-memory fake.
type JobStore interface {
	Create(ctx context.Context, job *model.TrainingJob) error
	Get(ctx context.Context, jobID string) (*model.TrainingJob, error)
	Update(ctx context.Context, job *model.TrainingJob) error
	UpdateStatusCAS(ctx context.Context, jobID string, expected, next model.JobStatus) error
	SetQueuePosition(ctx context.Context, jobID string, position *int) error
	List(ctx context.Context, status string, limit, offset int) ([]*model.TrainingJob, error)
	ListByStatuses(ctx context.Context, statuses ...model.JobStatus) ([]*model.TrainingJob, error)
	CountsByStatus(ctx context.Context) (map[model.JobStatus]int, error)
}

// DispatchQueue hands promoted jobs to the trainer start path.
type DispatchQueue interface {
	EnqueueDispatch(ctx context.Context, jobID string) error
	DropDispatch(jobID string) error
}

// transitions is the full legal-move table. Any (status, action) pair not
// present here is rejected with InvalidTransitionError.
var transitions = map[model.JobStatus]map[model.JobAction]model.JobStatus{
	model.JobStatusQueued: {
		model.ActionStop:   model.JobStatusCancelled,
		model.ActionCancel: model.JobStatusCancelled,
	},
	model.JobStatusRunning: {
		model.ActionPause:  model.JobStatusPaused,
		model.ActionStop:   model.JobStatusCancelled,
		model.ActionCancel: model.JobStatusCancelled,
	},
	model.JobStatusPaused: {
		model.ActionResume: model.JobStatusRunning,
		model.ActionStop:   model.JobStatusCancelled,
		model.ActionCancel: model.JobStatusCancelled,
	},
	model.JobStatusCompleted: {
		model.ActionRestart: model.JobStatusQueued,
	},
	model.JobStatusFailed: {
		model.ActionRestart: model.JobStatusQueued,
	},
	model.JobStatusCancelled: {
		model.ActionRestart: model.JobStatusQueued,
	},
}

// TrainingService owns job status transitions and queue ordering. All
// transitions and queue-position assignment run under one mutex, so the
// guard check and the write are a single critical section: two concurrent
// admin actions on the same job cannot both pass the guard.
type TrainingService struct {
	mu sync.Mutex

	jobs     JobStore
	trainer  interfaces.TrainerController
	dispatch DispatchQueue
	metrics  *metrics.Store
	alerts   *alerts.Manager
	cfg      *config.Config
	now      func() time.Time
}

// NewTrainingService creates a training service with injected collaborators.
func NewTrainingService(jobs JobStore, trainer interfaces.TrainerController, dispatch DispatchQueue, metricStore *metrics.Store, alertMgr *alerts.Manager, cfg *config.Config) *TrainingService {
	return &TrainingService{
		jobs:     jobs,
		trainer:  trainer,
		dispatch: dispatch,
		metrics:  metricStore,
		alerts:   alertMgr,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SubmitJob validates and enqueues a new training job.
func (s *TrainingService) SubmitJob(ctx context.Context, req *model.SubmitJobRequest) (*model.TrainingJob, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", model.ErrValidation)
	}
	if err := req.Config.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	job := &model.TrainingJob{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		Status:      model.JobStatusQueued,
		Priority:    req.Priority,
		TotalEpochs: req.Config.TotalEpochs,
		Config:      req.Config,
		QueuedAt:    now,
		CreatedAt:   now,
		UpdatedAt:   now,
		Audit: []model.AuditRecord{{
			Actor:     req.UserID,
			Action:    "submit",
			To:        string(model.JobStatusQueued),
			Timestamp: now,
		}},
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	s.recordTransition(job.ID, "", model.JobStatusQueued)

	if err := s.reorderQueueLocked(ctx); err != nil {
		logger.ErrorCtx(ctx, "failed to reorder queue after submit: %v", err)
	}
	s.promoteLocked(ctx)

	logger.InfoCtx(ctx, "job submitted, job_id: %s, user_id: %s, priority: %d", job.ID, req.UserID, req.Priority)
	return job, nil
}

// Control applies an admin action to a job and returns the committed
// transition. Illegal moves fail with InvalidTransitionError and leave the
// job unchanged.
func (s *TrainingService) Control(ctx context.Context, jobID string, action model.JobAction, actor string) (*model.JobControlResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: job %s", model.ErrNotFound, jobID)
	}

	next, ok := transitions[job.Status][action]
	if !ok {
		return nil, &model.InvalidTransitionError{Current: job.Status, Attempted: action}
	}

	previous := job.Status
	now := s.now()

	switch action {
	case model.ActionStop, model.ActionCancel:
		job.QueuePosition = nil
		job.CompletedAt = &now
	case model.ActionRestart:
		job.ErrorMessage = ""
		job.Progress = 0
		job.Epoch = 0
		job.RetryCount++
		job.TrainerID = ""
		job.QueuedAt = now
		job.StartedAt = nil
		job.CompletedAt = nil
		job.EstimatedCompletion = nil
	case model.ActionPause, model.ActionResume:
		// Status-only moves; the trainer keeps (or re-acquires) the run
		// through the dispatch path below.
	}

	job.Status = next
	job.UpdatedAt = now
	job.Audit = append(job.Audit, model.AuditRecord{
		Actor:     actor,
		Action:    string(action),
		From:      string(previous),
		To:        string(next),
		Timestamp: now,
	})

	// The mutex serializes transitions in-process; the CAS write is the
	// second line against a concurrent writer on another instance.
	if err := s.jobs.UpdateStatusCAS(ctx, job.ID, previous, next); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}
	if err := s.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	s.recordTransition(job.ID, previous, next)

	if action == model.ActionStop || action == model.ActionCancel {
		s.abortRun(previous, job.ID)
	}
	if action == model.ActionResume && s.dispatch != nil {
		if err := s.dispatch.EnqueueDispatch(ctx, job.ID); err != nil {
			logger.WarnCtx(ctx, "failed to re-dispatch resumed job %s: %v", job.ID, err)
		}
	}

	// Cancel and restart both change queue membership.
	if err := s.reorderQueueLocked(ctx); err != nil {
		logger.ErrorCtx(ctx, "failed to reorder queue after %s: %v", action, err)
	}
	if action == model.ActionRestart {
		s.promoteLocked(ctx)
	}

	logger.InfoCtx(ctx, "job transition committed, job_id: %s, action: %s, %s -> %s", job.ID, action, previous, next)
	return &model.JobControlResponse{
		JobID:          job.ID,
		PreviousStatus: previous,
		NewStatus:      next,
	}, nil
}

// abortRun fires the external side effects of a committed cancel. The
// trainer call runs on its own goroutine with a bounded timeout so an
// unreachable trainer never stalls transitions on other jobs. A failed
// cancel is logged, not propagated: the status already committed and the
// watchdog catches any run that keeps going.
func (s *TrainingService) abortRun(previous model.JobStatus, jobID string) {
	switch previous {
	case model.JobStatusRunning:
		timeout := time.Duration(s.cfg.Trainer.CancelTimeout) * time.Second
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := s.trainer.CancelRun(ctx, jobID); err != nil {
				logger.WarnCtx(ctx, "trainer cancel failed for job %s (status already committed): %v", jobID, err)
			}
		}()
	case model.JobStatusQueued:
		if s.dispatch == nil {
			return
		}
		if err := s.dispatch.DropDispatch(jobID); err != nil {
			logger.DebugCtx(context.Background(), "no pending dispatch to drop for job %s: %v", jobID, err)
		}
	}
}

// HandleDispatch starts the trainer process for a promoted job. Invoked by
// the queue processor; returning an error triggers a dispatch retry.
func (s *TrainingService) HandleDispatch(ctx context.Context, jobID string) error {
	s.mu.Lock()
	job, err := s.jobs.Get(ctx, jobID)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if job == nil || job.Status != model.JobStatusRunning {
		// Cancelled or restarted while the dispatch sat in the queue.
		logger.InfoCtx(ctx, "dispatch skipped, job %s no longer running", jobID)
		return nil
	}
	if job.TrainerID != "" {
		// Resume after pause: the trainer kept the run, nothing to start.
		logger.InfoCtx(ctx, "dispatch skipped, job %s already has trainer %s", jobID, job.TrainerID)
		return nil
	}

	req := &interfaces.StartRunRequest{
		JobID:       job.ID,
		UserID:      job.UserID,
		Model:       job.Config.Model,
		Dataset:     job.Config.Dataset,
		TotalEpochs: job.Config.TotalEpochs,
	}

	if err := s.trainer.StartRun(ctx, req); err != nil {
		s.alerts.Create(alerts.TypeWarning, "training", "trainer start failed",
			fmt.Sprintf("job %s: %v", jobID, err), jobID)
		return fmt.Errorf("failed to start trainer for job %s: %w", jobID, err)
	}
	return nil
}

// HandleProgress applies a trainer progress report.
func (s *TrainingService) HandleProgress(ctx context.Context, jobID string, report *model.ProgressReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: job %s", model.ErrNotFound, jobID)
	}
	if job.Status != model.JobStatusRunning {
		// Late report from a cancelled or paused run; drop it.
		return nil
	}

	now := s.now()
	job.Epoch = report.Epoch
	if report.TotalEpochs > 0 {
		job.TotalEpochs = report.TotalEpochs
	}
	job.Progress = model.ProgressPercent(job.Epoch, job.TotalEpochs)
	job.TrainerID = report.TrainerID
	job.UpdatedAt = now

	if job.StartedAt != nil && job.Epoch > 0 && job.TotalEpochs > job.Epoch {
		perEpoch := now.Sub(*job.StartedAt) / time.Duration(job.Epoch)
		estimate := now.Add(perEpoch * time.Duration(job.TotalEpochs-job.Epoch))
		job.EstimatedCompletion = &estimate
	}

	if err := s.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}

	md := map[string]interface{}{"epoch": report.Epoch, "total_epochs": job.TotalEpochs}
	s.metrics.Add("training."+jobID+".progress", float64(job.Progress), md)
	if report.Loss != 0 {
		s.metrics.Add("training."+jobID+".loss", report.Loss, md)
	}
	return nil
}

// HandleResult commits a trainer's final report. Paused jobs accept it
// too: pause is status-only and the trainer keeps the run, so it can
// legitimately finish while the job sits in PAUSED.
func (s *TrainingService) HandleResult(ctx context.Context, jobID string, report *model.ResultReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: job %s", model.ErrNotFound, jobID)
	}
	if job.Status != model.JobStatusRunning && job.Status != model.JobStatusPaused {
		// Late report from a cancelled or restarted run.
		logger.InfoCtx(ctx, "dropping result for job %s in status %s", jobID, job.Status)
		return nil
	}

	now := s.now()
	previous := job.Status
	job.CompletedAt = &now
	job.UpdatedAt = now

	var action string
	if report.Error != "" {
		job.Status = model.JobStatusFailed
		job.ErrorMessage = report.Error
		action = "fail"
		s.alerts.Create(alerts.TypeWarning, "training", "training job failed",
			fmt.Sprintf("job %s: %s", jobID, report.Error), jobID)
		if job.RetryCount >= s.cfg.Queue.MaxRetry {
			s.alerts.Create(alerts.TypeCritical, "training", "training job failing repeatedly",
				fmt.Sprintf("job %s failed after %d restarts", jobID, job.RetryCount), jobID)
		}
	} else {
		job.Status = model.JobStatusCompleted
		job.Progress = 100
		job.Output = report.Output
		action = "complete"
	}

	job.Audit = append(job.Audit, model.AuditRecord{
		Actor:     report.TrainerID,
		Action:    action,
		From:      string(previous),
		To:        string(job.Status),
		Timestamp: now,
	})

	if err := s.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to commit result: %w", err)
	}

	s.recordTransition(job.ID, previous, job.Status)

	// A finished run frees capacity.
	if err := s.reorderQueueLocked(ctx); err != nil {
		logger.ErrorCtx(ctx, "failed to reorder queue after result: %v", err)
	}
	s.promoteLocked(ctx)

	logger.InfoCtx(ctx, "job result committed, job_id: %s, status: %s", jobID, job.Status)
	return nil
}

// GetJob returns one job.
func (s *TrainingService) GetJob(ctx context.Context, jobID string) (*model.TrainingJob, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: job %s", model.ErrNotFound, jobID)
	}
	return job, nil
}

// Status returns the full job + queue listing with summary counts.
func (s *TrainingService) Status(ctx context.Context) (*model.TrainingStatusResponse, error) {
	jobs, err := s.jobs.List(ctx, "", 200, 0)
	if err != nil {
		return nil, err
	}

	counts, err := s.jobs.CountsByStatus(ctx)
	if err != nil {
		return nil, err
	}

	queued, err := s.jobs.ListByStatuses(ctx, model.JobStatusQueued)
	if err != nil {
		return nil, err
	}

	queue := make([]model.QueueEntry, 0, len(queued))
	for _, job := range queued {
		pos := 0
		if job.QueuePosition != nil {
			pos = *job.QueuePosition
		}
		queue = append(queue, model.QueueEntry{
			JobID:         job.ID,
			Priority:      job.Priority,
			QueuePosition: pos,
			QueuedAt:      job.QueuedAt,
			RetryCount:    job.RetryCount,
		})
	}

	return &model.TrainingStatusResponse{
		Jobs:   jobs,
		Queue:  queue,
		Counts: counts,
	}, nil
}

// ReconcileQueue recomputes queue positions and promotes under the lock.
// Exposed for the background reconciler job.
func (s *TrainingService) ReconcileQueue(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reorderQueueLocked(ctx); err != nil {
		return err
	}
	s.promoteLocked(ctx)
	return nil
}

// reorderQueueLocked assigns dense queue positions 1..n over queued jobs
// in (priority desc, queuedAt asc) order. Caller holds s.mu: the single
// ordering authority is this critical section.
func (s *TrainingService) reorderQueueLocked(ctx context.Context) error {
	queued, err := s.jobs.ListByStatuses(ctx, model.JobStatusQueued)
	if err != nil {
		return err
	}

	for i, job := range queued {
		pos := i + 1
		if job.QueuePosition != nil && *job.QueuePosition == pos {
			continue
		}
		if err := s.jobs.SetQueuePosition(ctx, job.ID, &pos); err != nil {
			return err
		}
	}

	s.metrics.Add("system.queue_depth", float64(len(queued)), nil)
	return nil
}

// promoteLocked moves queue heads into RUNNING while capacity allows and
// enqueues their dispatch. Caller holds s.mu.
func (s *TrainingService) promoteLocked(ctx context.Context) {
	active, err := s.jobs.ListByStatuses(ctx, model.JobStatusRunning)
	if err != nil {
		logger.ErrorCtx(ctx, "failed to count running jobs: %v", err)
		return
	}

	capacity := s.cfg.Queue.MaxRunning - len(active)
	if capacity <= 0 {
		return
	}

	queued, err := s.jobs.ListByStatuses(ctx, model.JobStatusQueued)
	if err != nil {
		logger.ErrorCtx(ctx, "failed to list queued jobs: %v", err)
		return
	}

	for i := 0; i < capacity && i < len(queued); i++ {
		job := queued[i]
		previous := job.Status
		now := s.now()

		job.Status = model.JobStatusRunning
		job.QueuePosition = nil
		job.StartedAt = &now
		job.UpdatedAt = now
		job.Audit = append(job.Audit, model.AuditRecord{
			Actor:     "queue",
			Action:    "promote",
			From:      string(previous),
			To:        string(model.JobStatusRunning),
			Timestamp: now,
		})

		if err := s.jobs.Update(ctx, job); err != nil {
			logger.ErrorCtx(ctx, "failed to promote job %s: %v", job.ID, err)
			continue
		}

		s.recordTransition(job.ID, previous, model.JobStatusRunning)

		if s.dispatch != nil {
			if err := s.dispatch.EnqueueDispatch(ctx, job.ID); err != nil {
				logger.ErrorCtx(ctx, "failed to enqueue dispatch for job %s: %v", job.ID, err)
			}
		}
		logger.InfoCtx(ctx, "job promoted, job_id: %s", job.ID)
	}

	if err := s.reorderQueueLocked(ctx); err != nil {
		logger.ErrorCtx(ctx, "failed to reorder queue after promotion: %v", err)
	}
}

// SweepStalledJobs fails RUNNING jobs that have gone silent past the
// configured timeout. Fallback for trainer processes that die without
// reporting a result.
func (s *TrainingService) SweepStalledJobs(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	running, err := s.jobs.ListByStatuses(ctx, model.JobStatusRunning)
	if err != nil {
		return err
	}

	timeout := time.Duration(s.cfg.Queue.RunningTimeout) * time.Second
	now := s.now()
	swept := 0

	for _, job := range running {
		last := job.UpdatedAt
		if job.StartedAt != nil && job.StartedAt.After(last) {
			last = *job.StartedAt
		}
		if now.Sub(last) <= timeout {
			continue
		}

		previous := job.Status
		job.Status = model.JobStatusFailed
		job.ErrorMessage = fmt.Sprintf("no trainer progress for %v (limit: %v)", now.Sub(last).Round(time.Second), timeout)
		job.CompletedAt = &now
		job.UpdatedAt = now
		job.Audit = append(job.Audit, model.AuditRecord{
			Actor:     "watchdog",
			Action:    "timeout",
			From:      string(previous),
			To:        string(model.JobStatusFailed),
			Timestamp: now,
		})

		if err := s.jobs.Update(ctx, job); err != nil {
			logger.ErrorCtx(ctx, "failed to fail stalled job %s: %v", job.ID, err)
			continue
		}

		s.recordTransition(job.ID, previous, model.JobStatusFailed)
		s.alerts.Create(alerts.TypeWarning, "training", "training job stalled",
			fmt.Sprintf("job %s marked failed after %v without progress", job.ID, timeout), job.ID)
		swept++
	}

	if swept > 0 {
		logger.InfoCtx(ctx, "stalled job sweep completed, failed: %d, checked: %d", swept, len(running))
		s.promoteLocked(ctx)
	}
	return nil
}

// recordTransition echoes a committed transition into the metrics store.
func (s *TrainingService) recordTransition(jobID string, from, to model.JobStatus) {
	s.metrics.Add("training.transitions", 1, map[string]interface{}{
		"job_id": jobID,
		"from":   string(from),
		"to":     string(to),
	})
}
