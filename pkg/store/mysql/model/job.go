package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TrainingJob MySQL model for training_jobs table
type TrainingJob struct {
	ID                  int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID               string       `gorm:"column:job_id;type:varchar(255);not null;uniqueIndex:idx_job_id_unique" json:"job_id"`
	UserID              string       `gorm:"column:user_id;type:varchar(255);not null;index:idx_user_id" json:"user_id"`
	Status              string       `gorm:"column:status;type:varchar(50);not null;index:idx_status" json:"status"`
	Priority            int          `gorm:"column:priority;type:int;not null;default:0" json:"priority"`
	QueuePosition       *int         `gorm:"column:queue_position;type:int" json:"queue_position"`
	Progress            int          `gorm:"column:progress;type:int;not null;default:0" json:"progress"`
	Epoch               int          `gorm:"column:epoch;type:int;not null;default:0" json:"epoch"`
	TotalEpochs         int          `gorm:"column:total_epochs;type:int;not null;default:0" json:"total_epochs"`
	RetryCount          int          `gorm:"column:retry_count;type:int;not null;default:0" json:"retry_count"`
	ErrorMessage        string       `gorm:"column:error_message;type:text" json:"error_message"`
	TrainerID           string       `gorm:"column:trainer_id;type:varchar(255)" json:"trainer_id"`
	Config              ConfigColumn `gorm:"column:config;type:json" json:"config"`
	Output              JSONMap      `gorm:"column:output;type:json" json:"output,omitempty"`
	QueuedAt            time.Time    `gorm:"column:queued_at;type:datetime(3);not null;index:idx_queued_at" json:"queued_at"`
	StartedAt           *time.Time   `gorm:"column:started_at;type:datetime(3)" json:"started_at"`
	CompletedAt         *time.Time   `gorm:"column:completed_at;type:datetime(3)" json:"completed_at"`
	EstimatedCompletion *time.Time   `gorm:"column:estimated_completion;type:datetime(3)" json:"estimated_completion"`
	CreatedAt           time.Time    `gorm:"column:created_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3)" json:"created_at"`
	UpdatedAt           time.Time    `gorm:"column:updated_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3)" json:"updated_at"`
	Audit               AuditTrail   `gorm:"column:audit;type:json" json:"audit,omitempty"`
}

// TableName specifies the table name for TrainingJob
func (TrainingJob) TableName() string {
	return "training_jobs"
}

// AuditTrail append-only transition history (stored as JSON)
type AuditTrail []AuditNote

// AuditNote single transition note
type AuditNote struct {
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// Value implements driver.Valuer for AuditTrail
func (a AuditTrail) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner for AuditTrail
func (a *AuditTrail) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}

	bytes, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("failed to scan AuditTrail: %w", err)
	}

	var notes []AuditNote
	if err := json.Unmarshal(bytes, &notes); err != nil {
		return fmt.Errorf("failed to unmarshal AuditTrail: %w", err)
	}

	*a = notes
	return nil
}

// ConfigColumn typed training config persisted as JSON
type ConfigColumn struct {
	Version      int     `json:"version"`
	Model        string  `json:"model"`
	Dataset      string  `json:"dataset"`
	TotalEpochs  int     `json:"total_epochs"`
	BatchSize    int     `json:"batch_size,omitempty"`
	LearningRate float64 `json:"learning_rate,omitempty"`
}

// Value implements driver.Valuer for ConfigColumn
func (c ConfigColumn) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner for ConfigColumn
func (c *ConfigColumn) Scan(value interface{}) error {
	if value == nil {
		*c = ConfigColumn{}
		return nil
	}

	bytes, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("failed to scan ConfigColumn: %w", err)
	}

	return json.Unmarshal(bytes, c)
}

func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", value)
	}
}
