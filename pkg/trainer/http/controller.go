package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"trainops/pkg/config"
	"trainops/pkg/interfaces"
	"trainops/pkg/logger"
)

// Controller drives a remote trainer daemon over HTTP. Used when training
// runs on a box the service cannot schedule directly.
type Controller struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewController creates an HTTP-backed trainer controller.
func NewController(cfg *config.Config) (interfaces.TrainerController, error) {
	if cfg.Trainer.DaemonURL == "" {
		return nil, fmt.Errorf("trainer.daemon_url is required for the http provider")
	}

	return &Controller{
		baseURL: cfg.Trainer.DaemonURL,
		apiKey:  cfg.Server.APIKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// StartRun asks the daemon to launch a run.
func (c *Controller) StartRun(ctx context.Context, req *interfaces.StartRunRequest) error {
	payload := map[string]interface{}{
		"job_id":       req.JobID,
		"user_id":      req.UserID,
		"model":        req.Model,
		"dataset":      req.Dataset,
		"total_epochs": req.TotalEpochs,
		"env":          req.Env,
	}

	if err := c.post(ctx, "/runs", payload); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	logger.InfoCtx(ctx, "training run started via daemon, job_id: %s", req.JobID)
	return nil
}

// CancelRun asks the daemon to stop a run.
func (c *Controller) CancelRun(ctx context.Context, jobID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/runs/"+jobID, nil)
	if err != nil {
		return err
	}
	c.authorize(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to cancel run: %w", err)
	}
	defer resp.Body.Close()

	// 404 means the run is already gone; that is a successful cancel.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("trainer daemon returned status %d", resp.StatusCode)
	}
	return nil
}

// RunStatus queries the daemon for a run's status.
func (c *Controller) RunStatus(ctx context.Context, jobID string) (*interfaces.RunInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/runs/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to query run status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &interfaces.RunInfo{JobID: jobID, Status: interfaces.RunStatusUnknown}, nil
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("trainer daemon returned status %d", resp.StatusCode)
	}

	var info interfaces.RunInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode run status: %w", err)
	}
	info.JobID = jobID
	return &info, nil
}

func (c *Controller) post(ctx context.Context, path string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("trainer daemon returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Controller) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
