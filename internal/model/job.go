package model

import (
	"fmt"
	"time"
)

// JobStatus training job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"    // Waiting in queue
	JobStatusRunning   JobStatus = "RUNNING"   // Trainer process active
	JobStatusPaused    JobStatus = "PAUSED"    // Suspended by admin
	JobStatusCompleted JobStatus = "COMPLETED" // Finished successfully
	JobStatusFailed    JobStatus = "FAILED"    // Finished with error
	JobStatusCancelled JobStatus = "CANCELLED" // Stopped by admin
)

// Terminal reports whether the status admits no transition except restart.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobAction admin control action on a training job
type JobAction string

const (
	ActionPause   JobAction = "pause"
	ActionResume  JobAction = "resume"
	ActionStop    JobAction = "stop"
	ActionCancel  JobAction = "cancel"
	ActionRestart JobAction = "restart"
)

// ParseJobAction validates an action string from the API.
func ParseJobAction(s string) (JobAction, error) {
	switch JobAction(s) {
	case ActionPause, ActionResume, ActionStop, ActionCancel, ActionRestart:
		return JobAction(s), nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrValidation, s)
}

// TrainingConfig is the versioned, typed job configuration. It is validated
// once at submission; consumers never re-parse raw JSON blobs.
type TrainingConfig struct {
	Version      int     `json:"version"`
	Model        string  `json:"model"`
	Dataset      string  `json:"dataset"`
	TotalEpochs  int     `json:"total_epochs"`
	BatchSize    int     `json:"batch_size,omitempty"`
	LearningRate float64 `json:"learning_rate,omitempty"`
}

// Validate rejects malformed configs centrally and defaults the version.
func (c *TrainingConfig) Validate() error {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Version != 1 {
		return fmt.Errorf("%w: unsupported config version %d", ErrValidation, c.Version)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: config.model is required", ErrValidation)
	}
	if c.TotalEpochs < 0 {
		return fmt.Errorf("%w: config.total_epochs must not be negative", ErrValidation)
	}
	return nil
}

// AuditRecord single audit note for a job transition (append-only)
type AuditRecord struct {
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// TrainingJob training job model
type TrainingJob struct {
	ID                  string         `json:"id"`
	UserID              string         `json:"user_id"`
	Status              JobStatus      `json:"status"`
	Priority            int            `json:"priority"`
	QueuePosition       *int           `json:"queue_position,omitempty"`
	Progress            int            `json:"progress"` // 0-100
	Epoch               int            `json:"epoch"`
	TotalEpochs         int            `json:"total_epochs"`
	RetryCount          int            `json:"retry_count"`
	ErrorMessage        string         `json:"error_message,omitempty"`
	TrainerID           string         `json:"trainer_id,omitempty"`
	Config              TrainingConfig `json:"config"`
	Output              map[string]any `json:"output,omitempty"`
	QueuedAt            time.Time      `json:"queued_at"`
	StartedAt           *time.Time     `json:"started_at,omitempty"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
	EstimatedCompletion *time.Time     `json:"estimated_completion,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	Audit               []AuditRecord  `json:"audit,omitempty"`
}

// QueueEntry ordering-relevant subset of a training job
type QueueEntry struct {
	JobID         string    `json:"job_id"`
	Priority      int       `json:"priority"`
	QueuePosition int       `json:"queue_position"`
	QueuedAt      time.Time `json:"queued_at"`
	RetryCount    int       `json:"retry_count"`
}

// SubmitJobRequest job submission request
type SubmitJobRequest struct {
	UserID   string         `json:"user_id" binding:"required"`
	Priority int            `json:"priority"`
	Config   TrainingConfig `json:"config"`
}

// JobControlRequest admin control request
type JobControlRequest struct {
	JobID  string `json:"jobId" binding:"required"`
	Action string `json:"action" binding:"required"`
}

// JobControlResponse reports the committed transition.
type JobControlResponse struct {
	JobID          string    `json:"jobId"`
	PreviousStatus JobStatus `json:"previousStatus"`
	NewStatus      JobStatus `json:"newStatus"`
}

// TrainingStatusResponse full job + queue listing with summary counts
type TrainingStatusResponse struct {
	Jobs   []*TrainingJob    `json:"jobs"`
	Queue  []QueueEntry      `json:"queue"`
	Counts map[JobStatus]int `json:"counts"`
}

// ProgressReport trainer callback payload for one epoch boundary
type ProgressReport struct {
	TrainerID   string  `json:"trainer_id"`
	Epoch       int     `json:"epoch" binding:"required"`
	TotalEpochs int     `json:"total_epochs"`
	Loss        float64 `json:"loss,omitempty"`
}

// ResultReport trainer callback payload submitted once on exit
type ResultReport struct {
	TrainerID string         `json:"trainer_id"`
	Error     string         `json:"error,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
}

// ProgressPercent clamps epoch/totalEpochs to a 0-100 percentage.
// Returns 0 when totalEpochs is unset.
func ProgressPercent(epoch, totalEpochs int) int {
	if totalEpochs <= 0 {
		return 0
	}
	pct := int(float64(epoch)/float64(totalEpochs)*100 + 0.5)
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}
