package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"trainops/internal/model"
	"trainops/pkg/alerts"
	"trainops/pkg/config"
	"trainops/pkg/interfaces"
	"trainops/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJobStore in-memory JobStore used instead of MySQL
type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*model.TrainingJob
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*model.TrainingJob)}
}

func copyJob(job *model.TrainingJob) *model.TrainingJob {
	c := *job
	c.Audit = append([]model.AuditRecord(nil), job.Audit...)
	if job.QueuePosition != nil {
		p := *job.QueuePosition
		c.QueuePosition = &p
	}
	return &c
}

func (f *fakeJobStore) Create(ctx context.Context, job *model.TrainingJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = copyJob(job)
	return nil
}

func (f *fakeJobStore) Get(ctx context.Context, jobID string) (*model.TrainingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, nil
	}
	return copyJob(job), nil
}

func (f *fakeJobStore) Update(ctx context.Context, job *model.TrainingJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[job.ID]; !ok {
		return errors.New("job not found")
	}
	f.jobs[job.ID] = copyJob(job)
	return nil
}

func (f *fakeJobStore) UpdateStatusCAS(ctx context.Context, jobID string, expected, next model.JobStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok || job.Status != expected {
		return errors.New("job not found or status changed")
	}
	job.Status = next
	return nil
}

func (f *fakeJobStore) SetQueuePosition(ctx context.Context, jobID string, position *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return errors.New("job not found")
	}
	if position == nil {
		job.QueuePosition = nil
	} else {
		p := *position
		job.QueuePosition = &p
	}
	return nil
}

func (f *fakeJobStore) List(ctx context.Context, status string, limit, offset int) ([]*model.TrainingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.TrainingJob, 0, len(f.jobs))
	for _, job := range f.jobs {
		if status == "" || string(job.Status) == status {
			out = append(out, copyJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeJobStore) ListByStatuses(ctx context.Context, statuses ...model.JobStatus) ([]*model.TrainingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[model.JobStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	out := make([]*model.TrainingJob, 0)
	for _, job := range f.jobs {
		if want[job.Status] {
			out = append(out, copyJob(job))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].QueuedAt.Before(out[j].QueuedAt)
	})
	return out, nil
}

func (f *fakeJobStore) CountsByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[model.JobStatus]int)
	for _, job := range f.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

// fakeTrainer records trainer controller calls. A non-nil cancelGate makes
// CancelRun hang until the gate closes, simulating an unreachable trainer.
type fakeTrainer struct {
	mu         sync.Mutex
	started    []string
	cancelled  []string
	startErr   error
	cancelErr  error
	cancelGate chan struct{}
}

func (f *fakeTrainer) StartRun(ctx context.Context, req *interfaces.StartRunRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, req.JobID)
	return nil
}

func (f *fakeTrainer) CancelRun(ctx context.Context, jobID string) error {
	if f.cancelGate != nil {
		select {
		case <-f.cancelGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	return f.cancelErr
}

func (f *fakeTrainer) cancelledJobs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

func (f *fakeTrainer) RunStatus(ctx context.Context, jobID string) (*interfaces.RunInfo, error) {
	return &interfaces.RunInfo{JobID: jobID, Status: interfaces.RunStatusRunning}, nil
}

// fakeDispatch records dispatch queue calls
type fakeDispatch struct {
	mu       sync.Mutex
	enqueued []string
	dropped  []string
}

func (f *fakeDispatch) EnqueueDispatch(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, jobID)
	return nil
}

func (f *fakeDispatch) DropDispatch(jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, jobID)
	return nil
}

type serviceFixture struct {
	svc      *TrainingService
	store    *fakeJobStore
	trainer  *fakeTrainer
	dispatch *fakeDispatch
	alerts   *alerts.Manager
	metrics  *metrics.Store
}

func newFixture(maxRunning int) *serviceFixture {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Queue.MaxRunning = maxRunning

	store := newFakeJobStore()
	trainer := &fakeTrainer{}
	dispatch := &fakeDispatch{}
	metricStore := metrics.NewStore(100)
	alertMgr := alerts.NewManager()

	return &serviceFixture{
		svc:      NewTrainingService(store, trainer, dispatch, metricStore, alertMgr, cfg),
		store:    store,
		trainer:  trainer,
		dispatch: dispatch,
		alerts:   alertMgr,
		metrics:  metricStore,
	}
}

func (fx *serviceFixture) seedJob(id string, status model.JobStatus, priority int, queuedAt time.Time) {
	fx.store.jobs[id] = &model.TrainingJob{
		ID:          id,
		UserID:      "user-1",
		Status:      status,
		Priority:    priority,
		TotalEpochs: 10,
		Config:      model.TrainingConfig{Version: 1, Model: "resnet", TotalEpochs: 10},
		QueuedAt:    queuedAt,
		CreatedAt:   queuedAt,
		UpdatedAt:   queuedAt,
	}
}

func TestControl_TransitionTable(t *testing.T) {
	allStatuses := []model.JobStatus{
		model.JobStatusQueued, model.JobStatusRunning, model.JobStatusPaused,
		model.JobStatusCompleted, model.JobStatusFailed, model.JobStatusCancelled,
	}
	allActions := []model.JobAction{
		model.ActionPause, model.ActionResume, model.ActionStop,
		model.ActionCancel, model.ActionRestart,
	}

	legal := map[model.JobStatus]map[model.JobAction]model.JobStatus{
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
		model.JobStatusCompleted: {model.ActionRestart: model.JobStatusQueued},
		model.JobStatusFailed:    {model.ActionRestart: model.JobStatusQueued},
		model.JobStatusCancelled: {model.ActionRestart: model.JobStatusQueued},
	}

	ctx := context.Background()
	for _, status := range allStatuses {
		for _, action := range allActions {
			t.Run(string(status)+"_"+string(action), func(t *testing.T) {
				fx := newFixture(0) // no promotion capacity, keeps restarts queued
				fx.seedJob("job-1", status, 0, time.Now())

				resp, err := fx.svc.Control(ctx, "job-1", action, "admin")

				want, ok := legal[status][action]
				if !ok {
					var invalid *model.InvalidTransitionError
					require.ErrorAs(t, err, &invalid)
					assert.Equal(t, status, invalid.Current)
					assert.Equal(t, action, invalid.Attempted)

					job, _ := fx.store.Get(ctx, "job-1")
					assert.Equal(t, status, job.Status, "illegal action must not change status")
					assert.Empty(t, job.Audit, "illegal action must not append audit")
					return
				}

				require.NoError(t, err)
				assert.Equal(t, status, resp.PreviousStatus)
				assert.Equal(t, want, resp.NewStatus)

				job, _ := fx.store.Get(ctx, "job-1")
				assert.Equal(t, want, job.Status)
				require.NotEmpty(t, job.Audit)
				last := job.Audit[len(job.Audit)-1]
				assert.Equal(t, string(action), last.Action)
				assert.Equal(t, string(status), last.From)
				assert.Equal(t, string(want), last.To)
				assert.Equal(t, "admin", last.Actor)
			})
		}
	}
}

func TestControl_UnknownJob(t *testing.T) {
	fx := newFixture(1)
	_, err := fx.svc.Control(context.Background(), "missing", model.ActionPause, "admin")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSubmit_ValidationAndPromotion(t *testing.T) {
	fx := newFixture(1)
	ctx := context.Background()

	_, err := fx.svc.SubmitJob(ctx, &model.SubmitJobRequest{
		UserID: "user-1",
		Config: model.TrainingConfig{Model: ""},
	})
	assert.ErrorIs(t, err, model.ErrValidation)

	job, err := fx.svc.SubmitJob(ctx, &model.SubmitJobRequest{
		UserID: "user-1",
		Config: model.TrainingConfig{Model: "resnet", TotalEpochs: 5},
	})
	require.NoError(t, err)

	// Capacity is free, so the first submission is promoted immediately.
	stored, _ := fx.store.Get(ctx, job.ID)
	assert.Equal(t, model.JobStatusRunning, stored.Status)
	assert.Equal(t, []string{job.ID}, fx.dispatch.enqueued)
}

func TestQueue_PriorityAndFIFOOrdering(t *testing.T) {
	fx := newFixture(1)
	ctx := context.Background()
	base := time.Now()

	// One job occupies the single running slot.
	fx.seedJob("running", model.JobStatusRunning, 0, base.Add(-time.Hour))

	submit := func(priority int) string {
		job, err := fx.svc.SubmitJob(ctx, &model.SubmitJobRequest{
			UserID:   "user-1",
			Priority: priority,
			Config:   model.TrainingConfig{Model: "resnet", TotalEpochs: 5},
		})
		require.NoError(t, err)
		return job.ID
	}

	a := submit(0)
	b := submit(0)
	j := submit(5)

	status, err := fx.svc.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status.Queue, 3)

	// Higher priority jumps ahead; equal priorities keep submission order.
	assert.Equal(t, j, status.Queue[0].JobID)
	assert.Equal(t, a, status.Queue[1].JobID)
	assert.Equal(t, b, status.Queue[2].JobID)

	// Positions are dense starting at 1.
	for i, entry := range status.Queue {
		assert.Equal(t, i+1, entry.QueuePosition)
	}
}

func TestControl_CancelQueuedRecomputesPositions(t *testing.T) {
	fx := newFixture(0)
	ctx := context.Background()
	base := time.Now()

	fx.seedJob("a", model.JobStatusQueued, 0, base)
	fx.seedJob("b", model.JobStatusQueued, 0, base.Add(time.Second))
	fx.seedJob("c", model.JobStatusQueued, 0, base.Add(2*time.Second))
	require.NoError(t, fx.svc.ReconcileQueue(ctx))

	_, err := fx.svc.Control(ctx, "b", model.ActionCancel, "admin")
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, fx.dispatch.dropped)

	status, err := fx.svc.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status.Queue, 2)
	assert.Equal(t, "a", status.Queue[0].JobID)
	assert.Equal(t, 1, status.Queue[0].QueuePosition)
	assert.Equal(t, "c", status.Queue[1].JobID)
	assert.Equal(t, 2, status.Queue[1].QueuePosition)

	cancelled, _ := fx.store.Get(ctx, "b")
	assert.Nil(t, cancelled.QueuePosition)
	assert.NotNil(t, cancelled.CompletedAt)
}

func TestControl_CancelRunningCallsTrainer(t *testing.T) {
	fx := newFixture(1)
	ctx := context.Background()
	fx.seedJob("job-1", model.JobStatusRunning, 0, time.Now())

	_, err := fx.svc.Control(ctx, "job-1", model.ActionStop, "admin")
	require.NoError(t, err)

	// The trainer cancel runs asynchronously after the commit.
	assert.Eventually(t, func() bool {
		return len(fx.trainer.cancelledJobs()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"job-1"}, fx.trainer.cancelledJobs())
}

func TestControl_CancelCommitsDespiteTrainerError(t *testing.T) {
	fx := newFixture(1)
	fx.trainer.cancelErr = errors.New("trainer unreachable")
	ctx := context.Background()
	fx.seedJob("job-1", model.JobStatusRunning, 0, time.Now())

	resp, err := fx.svc.Control(ctx, "job-1", model.ActionCancel, "admin")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, resp.NewStatus)

	job, _ := fx.store.Get(ctx, "job-1")
	assert.Equal(t, model.JobStatusCancelled, job.Status)
}

func TestControl_SlowTrainerCancelDoesNotBlockOtherJobs(t *testing.T) {
	fx := newFixture(2)
	ctx := context.Background()
	fx.seedJob("victim", model.JobStatusRunning, 0, time.Now())
	fx.seedJob("other", model.JobStatusRunning, 0, time.Now())

	// Simulate an unreachable trainer: CancelRun hangs until released.
	fx.trainer.cancelGate = make(chan struct{})

	_, err := fx.svc.Control(ctx, "victim", model.ActionCancel, "admin")
	require.NoError(t, err)

	// The hanging cancel must not serialize a transition on another job.
	start := time.Now()
	_, err = fx.svc.Control(ctx, "other", model.ActionPause, "admin")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	close(fx.trainer.cancelGate)
	assert.Eventually(t, func() bool {
		return len(fx.trainer.cancelledJobs()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestControl_RestartResetsJob(t *testing.T) {
	fx := newFixture(0)
	ctx := context.Background()

	fx.seedJob("job-1", model.JobStatusFailed, 0, time.Now().Add(-time.Hour))
	fx.store.jobs["job-1"].ErrorMessage = "cuda out of memory"
	fx.store.jobs["job-1"].Progress = 40
	fx.store.jobs["job-1"].Epoch = 4

	resp, err := fx.svc.Control(ctx, "job-1", model.ActionRestart, "admin")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, resp.NewStatus)

	job, _ := fx.store.Get(ctx, "job-1")
	assert.Empty(t, job.ErrorMessage)
	assert.Equal(t, 0, job.Progress)
	assert.Equal(t, 0, job.Epoch)
	assert.Equal(t, 1, job.RetryCount)
	assert.Nil(t, job.StartedAt)
	assert.Nil(t, job.CompletedAt)
	require.NotNil(t, job.QueuePosition)
	assert.Equal(t, 1, *job.QueuePosition)
}

func TestControl_ResumeRedispatches(t *testing.T) {
	fx := newFixture(1)
	ctx := context.Background()
	fx.seedJob("job-1", model.JobStatusPaused, 0, time.Now())

	resp, err := fx.svc.Control(ctx, "job-1", model.ActionResume, "admin")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, resp.NewStatus)
	assert.Equal(t, []string{"job-1"}, fx.dispatch.enqueued)
}

func TestHandleProgress_UpdatesJobAndMetrics(t *testing.T) {
	fx := newFixture(1)
	ctx := context.Background()
	started := time.Now().Add(-10 * time.Minute)
	fx.seedJob("job-1", model.JobStatusRunning, 0, started)
	fx.store.jobs["job-1"].StartedAt = &started

	err := fx.svc.HandleProgress(ctx, "job-1", &model.ProgressReport{
		TrainerID: "trainer-7",
		Epoch:     5,
		Loss:      0.31,
	})
	require.NoError(t, err)

	job, _ := fx.store.Get(ctx, "job-1")
	assert.Equal(t, 5, job.Epoch)
	assert.Equal(t, 50, job.Progress)
	assert.Equal(t, "trainer-7", job.TrainerID)
	assert.NotNil(t, job.EstimatedCompletion)

	point, ok := fx.metrics.Latest("training.job-1.progress")
	require.True(t, ok)
	assert.Equal(t, 50.0, point.Value)

	loss, ok := fx.metrics.Latest("training.job-1.loss")
	require.True(t, ok)
	assert.Equal(t, 0.31, loss.Value)
}

func TestHandleProgress_IgnoredForNonRunningJob(t *testing.T) {
	fx := newFixture(1)
	ctx := context.Background()
	fx.seedJob("job-1", model.JobStatusCancelled, 0, time.Now())

	err := fx.svc.HandleProgress(ctx, "job-1", &model.ProgressReport{Epoch: 3})
	require.NoError(t, err)

	job, _ := fx.store.Get(ctx, "job-1")
	assert.Equal(t, 0, job.Epoch)
}

func TestHandleResult_CompletedPromotesNext(t *testing.T) {
	fx := newFixture(1)
	ctx := context.Background()
	base := time.Now()
	fx.seedJob("done", model.JobStatusRunning, 0, base.Add(-time.Hour))
	fx.seedJob("next", model.JobStatusQueued, 0, base)

	err := fx.svc.HandleResult(ctx, "done", &model.ResultReport{
		TrainerID: "trainer-7",
		Output:    map[string]any{"accuracy": 0.97},
	})
	require.NoError(t, err)

	done, _ := fx.store.Get(ctx, "done")
	assert.Equal(t, model.JobStatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, 0.97, done.Output["accuracy"])
	assert.NotNil(t, done.CompletedAt)

	next, _ := fx.store.Get(ctx, "next")
	assert.Equal(t, model.JobStatusRunning, next.Status)
	assert.Equal(t, []string{"next"}, fx.dispatch.enqueued)
}

func TestHandleResult_AcceptedWhilePaused(t *testing.T) {
	fx := newFixture(1)
	ctx := context.Background()
	fx.seedJob("job-1", model.JobStatusPaused, 0, time.Now())

	// Pause is status-only; the run can finish while the job is paused.
	err := fx.svc.HandleResult(ctx, "job-1", &model.ResultReport{
		TrainerID: "trainer-7",
		Output:    map[string]any{"accuracy": 0.93},
	})
	require.NoError(t, err)

	job, _ := fx.store.Get(ctx, "job-1")
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 0.93, job.Output["accuracy"])
}

func TestHandleResult_DroppedForCancelledJob(t *testing.T) {
	fx := newFixture(1)
	ctx := context.Background()
	fx.seedJob("job-1", model.JobStatusCancelled, 0, time.Now())

	err := fx.svc.HandleResult(ctx, "job-1", &model.ResultReport{TrainerID: "trainer-7"})
	require.NoError(t, err)

	job, _ := fx.store.Get(ctx, "job-1")
	assert.Equal(t, model.JobStatusCancelled, job.Status)
	assert.Empty(t, job.Audit)
}

func TestHandleResult_FailureRaisesAlert(t *testing.T) {
	fx := newFixture(1)
	ctx := context.Background()
	fx.seedJob("job-1", model.JobStatusRunning, 0, time.Now())

	err := fx.svc.HandleResult(ctx, "job-1", &model.ResultReport{
		TrainerID: "trainer-7",
		Error:     "cuda out of memory",
	})
	require.NoError(t, err)

	job, _ := fx.store.Get(ctx, "job-1")
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Equal(t, "cuda out of memory", job.ErrorMessage)

	active := fx.alerts.Active()
	require.NotEmpty(t, active)
	assert.Equal(t, alerts.TypeWarning, active[0].Type)
	assert.Contains(t, active[0].Message, "cuda out of memory")
}

func TestHandleDispatch_StartsTrainerForRunningJob(t *testing.T) {
	fx := newFixture(1)
	ctx := context.Background()
	fx.seedJob("job-1", model.JobStatusRunning, 0, time.Now())

	require.NoError(t, fx.svc.HandleDispatch(ctx, "job-1"))
	assert.Equal(t, []string{"job-1"}, fx.trainer.started)

	// Cancelled before dispatch: nothing started, no error (no retry).
	fx.seedJob("job-2", model.JobStatusCancelled, 0, time.Now())
	require.NoError(t, fx.svc.HandleDispatch(ctx, "job-2"))
	assert.Len(t, fx.trainer.started, 1)

	// Resume after pause keeps the attached trainer, no second start.
	fx.seedJob("job-3", model.JobStatusRunning, 0, time.Now())
	fx.store.jobs["job-3"].TrainerID = "trainer-3"
	require.NoError(t, fx.svc.HandleDispatch(ctx, "job-3"))
	assert.Len(t, fx.trainer.started, 1)
}

func TestHandleDispatch_StartFailureReturnsError(t *testing.T) {
	fx := newFixture(1)
	fx.trainer.startErr = errors.New("no gpu available")
	ctx := context.Background()
	fx.seedJob("job-1", model.JobStatusRunning, 0, time.Now())

	err := fx.svc.HandleDispatch(ctx, "job-1")
	require.Error(t, err)
	assert.NotEmpty(t, fx.alerts.Active())
}

func TestSweepStalledJobs(t *testing.T) {
	fx := newFixture(1)
	ctx := context.Background()

	stale := time.Now().Add(-7 * time.Hour) // past the 6h running timeout
	fx.seedJob("stalled", model.JobStatusRunning, 0, stale)
	fx.store.jobs["stalled"].StartedAt = &stale
	fx.store.jobs["stalled"].UpdatedAt = stale

	fresh := time.Now()
	fx.seedJob("active", model.JobStatusRunning, 0, fresh)
	fx.store.jobs["active"].UpdatedAt = fresh

	require.NoError(t, fx.svc.SweepStalledJobs(ctx))

	stalled, _ := fx.store.Get(ctx, "stalled")
	assert.Equal(t, model.JobStatusFailed, stalled.Status)
	assert.Contains(t, stalled.ErrorMessage, "no trainer progress")

	active, _ := fx.store.Get(ctx, "active")
	assert.Equal(t, model.JobStatusRunning, active.Status)

	assert.NotEmpty(t, fx.alerts.Active())
}
