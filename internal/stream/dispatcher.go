package stream

import (
	"context"
	"sync"
	"time"

	"trainops/internal/model"
	"trainops/pkg/config"
	"trainops/pkg/logger"
	"trainops/pkg/metrics"
)

// Event is one progress-stream payload. Every event carries its type and
// an emission timestamp.
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	JobID     string                 `json:"job_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

const (
	EventConnection = "connection"
	EventProgress   = "progress"
	EventStatus     = "status"
	EventError      = "error"
)

// JobReader is the read path the dispatcher polls on each tick.
type JobReader interface {
	Get(ctx context.Context, jobID string) (*model.TrainingJob, error)
}

// Subscription is one live stream of events for a job. C is closed when the
// job reaches a terminal status or the subscriber's context is cancelled.
type Subscription struct {
	C     <-chan Event
	JobID string
}

// Dispatcher fans training progress out to subscribers. Each subscription
// runs its own polling goroutine; a failed poll emits one error event and
// the loop keeps ticking.
type Dispatcher struct {
	jobs     JobReader
	metrics  *metrics.Store
	interval time.Duration
	bufSize  int

	mu       sync.Mutex
	active   int
	lastPush time.Duration
	now      func() time.Time
}

// NewDispatcher creates a dispatcher polling jobs at the configured interval.
func NewDispatcher(jobs JobReader, metricStore *metrics.Store, cfg config.StreamConfig) *Dispatcher {
	interval := time.Duration(cfg.PollInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 16
	}
	return &Dispatcher{
		jobs:     jobs,
		metrics:  metricStore,
		interval: interval,
		bufSize:  bufSize,
		now:      time.Now,
	}
}

// Subscribe starts streaming events for jobID until the job terminates or
// ctx is cancelled.
func (d *Dispatcher) Subscribe(ctx context.Context, jobID string) *Subscription {
	ch := make(chan Event, d.bufSize)

	d.mu.Lock()
	d.active++
	d.mu.Unlock()

	go d.run(ctx, jobID, ch)

	return &Subscription{C: ch, JobID: jobID}
}

func (d *Dispatcher) run(ctx context.Context, jobID string, ch chan Event) {
	defer func() {
		close(ch)
		d.mu.Lock()
		d.active--
		d.mu.Unlock()
	}()

	d.push(ch, Event{
		Type:      EventConnection,
		Timestamp: d.now(),
		JobID:     jobID,
		Data:      map[string]interface{}{"message": "stream established"},
	})

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := d.tick(ctx, jobID, ch); done {
				return
			}
		}
	}
}

// tick polls the job once and pushes the resulting events. Returns true
// when the stream should close.
func (d *Dispatcher) tick(ctx context.Context, jobID string, ch chan Event) bool {
	start := d.now()

	job, err := d.jobs.Get(ctx, jobID)
	if err != nil {
		logger.WarnCtx(ctx, "stream poll failed for job %s: %v", jobID, err)
		d.push(ch, Event{
			Type:      EventError,
			Timestamp: d.now(),
			JobID:     jobID,
			Data:      map[string]interface{}{"message": "failed to fetch job state"},
		})
		return false
	}
	if job == nil {
		d.push(ch, Event{
			Type:      EventError,
			Timestamp: d.now(),
			JobID:     jobID,
			Data:      map[string]interface{}{"message": "job not found"},
		})
		return false
	}

	progress := map[string]interface{}{
		"progress":     job.Progress,
		"epoch":        job.Epoch,
		"total_epochs": job.TotalEpochs,
	}
	if p, ok := d.metrics.Latest("training." + jobID + ".loss"); ok {
		progress["loss"] = p.Value
	}
	if job.EstimatedCompletion != nil {
		progress["estimated_completion"] = job.EstimatedCompletion
	}
	d.push(ch, Event{Type: EventProgress, Timestamp: d.now(), JobID: jobID, Data: progress})

	d.push(ch, Event{
		Type:      EventStatus,
		Timestamp: d.now(),
		JobID:     jobID,
		Data: map[string]interface{}{
			"status": job.Status,
		},
	})

	d.mu.Lock()
	d.lastPush = d.now().Sub(start)
	d.mu.Unlock()

	return job.Status.Terminal()
}

// push delivers an event without ever blocking the poll loop. Slow
// subscribers lose events rather than stall the ticker.
func (d *Dispatcher) push(ch chan Event, ev Event) {
	select {
	case ch <- ev:
	default:
	}
}

// ActiveSubscriptions reports the number of live streams.
func (d *Dispatcher) ActiveSubscriptions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// LastPushLatency reports the duration of the most recent poll cycle.
func (d *Dispatcher) LastPushLatency() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastPush
}
