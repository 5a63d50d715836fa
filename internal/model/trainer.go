package model

import "time"

// Trainer one live external training process, tracked by TTL heartbeat.
type Trainer struct {
	ID       string    `json:"id"`
	JobID    string    `json:"job_id,omitempty"`
	Host     string    `json:"host,omitempty"`
	GPU      string    `json:"gpu,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}
