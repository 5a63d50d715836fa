package interfaces

import (
	"context"
	"time"
)

// TrainingRunStatus coarse state of an external trainer process
type TrainingRunStatus string

const (
	RunStatusPending   TrainingRunStatus = "PENDING"
	RunStatusRunning   TrainingRunStatus = "RUNNING"
	RunStatusSucceeded TrainingRunStatus = "SUCCEEDED"
	RunStatusFailed    TrainingRunStatus = "FAILED"
	RunStatusUnknown   TrainingRunStatus = "UNKNOWN"
)

// StartRunRequest everything the controller needs to launch one run
type StartRunRequest struct {
	JobID       string
	UserID      string
	Model       string
	Dataset     string
	TotalEpochs int
	Env         map[string]string
}

// RunInfo reported status of one run
type RunInfo struct {
	JobID     string
	Status    TrainingRunStatus
	Message   string
	StartedAt time.Time
}

// TrainerController is the narrow control handle over external GPU-bound
// training processes: start, cancel, query status. Implementations back it
// with Kubernetes batch Jobs or a remote trainer daemon.
type TrainerController interface {
	StartRun(ctx context.Context, req *StartRunRequest) error
	CancelRun(ctx context.Context, jobID string) error
	RunStatus(ctx context.Context, jobID string) (*RunInfo, error)
}
