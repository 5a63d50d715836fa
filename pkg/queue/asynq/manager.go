package asynq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trainops/pkg/config"
	"trainops/pkg/logger"

	"github.com/hibiken/asynq"
)

const (
	TypeTrainingDispatch = "training:dispatch"
)

// DispatchPayload carries one promoted job to the dispatch handler.
type DispatchPayload struct {
	JobID string `json:"job_id"`
}

// Manager queue manager. Promoted training jobs flow through asynq so
// trainer start failures get retried with backoff instead of blocking the
// admin request that triggered the promotion.
type Manager struct {
	client   *asynq.Client
	server   *asynq.Server
	mux      *asynq.ServeMux
	redisOpt asynq.RedisClientOpt

	dispatchTimeout time.Duration
	maxRetry        int
}

// NewManager creates queue manager
func NewManager(cfg *config.Config) (*Manager, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Queue.MaxRunning,
			Queues: map[string]int{
				"default": 10,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * time.Second
			},
		},
	)

	mux := asynq.NewServeMux()

	return &Manager{
		client:          client,
		server:          server,
		mux:             mux,
		redisOpt:        redisOpt,
		dispatchTimeout: time.Duration(cfg.Queue.DispatchTimeout) * time.Second,
		maxRetry:        cfg.Queue.MaxRetry,
	}, nil
}

// EnqueueDispatch enqueues a promoted job for trainer start.
func (m *Manager) EnqueueDispatch(ctx context.Context, jobID string) error {
	payload, err := json.Marshal(DispatchPayload{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch payload: %w", err)
	}

	task := asynq.NewTask(TypeTrainingDispatch, payload)

	opts := []asynq.Option{
		asynq.TaskID(jobID),
		asynq.Timeout(m.dispatchTimeout),
		asynq.MaxRetry(m.maxRetry),
	}

	info, err := m.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return fmt.Errorf("failed to enqueue dispatch: %w", err)
	}

	logger.InfoCtx(ctx, "dispatch enqueued, job_id: %s, queue: %s", jobID, info.Queue)
	return nil
}

// DropDispatch removes a pending dispatch (job cancelled before start).
func (m *Manager) DropDispatch(jobID string) error {
	inspector := asynq.NewInspector(m.redisOpt)
	defer inspector.Close()

	if err := inspector.DeleteTask("default", jobID); err != nil {
		return fmt.Errorf("failed to drop dispatch: %w", err)
	}
	return nil
}

// RegisterHandler registers a dispatch handler
func (m *Manager) RegisterHandler(pattern string, handler asynq.Handler) {
	m.mux.Handle(pattern, handler)
}

// Start starts queue processor
func (m *Manager) Start() error {
	logger.InfoCtx(context.Background(), "starting queue server")
	return m.server.Start(m.mux)
}

// Stop stops queue processor
func (m *Manager) Stop() {
	logger.InfoCtx(context.Background(), "stopping queue server")
	m.server.Stop()
	m.server.Shutdown()
}

// Close closes client
func (m *Manager) Close() error {
	return m.client.Close()
}
