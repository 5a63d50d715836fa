package mysql

import (
	"context"
	"fmt"

	"trainops/internal/model"

	"gorm.io/gorm"
)

// JobRepository handles training-job persistence in MySQL. It speaks the
// domain model; conversion to the gorm model stays inside this package.
type JobRepository struct {
	ds *Datastore
}

// NewJobRepository creates a new training-job repository
func NewJobRepository(ds *Datastore) *JobRepository {
	return &JobRepository{ds: ds}
}

// Create persists a new job
func (r *JobRepository) Create(ctx context.Context, job *model.TrainingJob) error {
	return r.ds.DB(ctx).Create(FromJobDomain(job)).Error
}

// Get retrieves a job by its job id. Returns (nil, nil) when absent.
func (r *JobRepository) Get(ctx context.Context, jobID string) (*model.TrainingJob, error) {
	var job TrainingJobRecord
	err := r.ds.DB(ctx).Where("job_id = ?", jobID).First(&job).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return ToJobDomain(&job), nil
}

// Update persists all mutable fields of a job. The write is unconditional;
// callers serialize transitions before invoking it.
func (r *JobRepository) Update(ctx context.Context, job *model.TrainingJob) error {
	rec := FromJobDomain(job)
	return r.ds.DB(ctx).Model(&TrainingJobRecord{}).
		Where("job_id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":               rec.Status,
			"priority":             rec.Priority,
			"queue_position":       rec.QueuePosition,
			"progress":             rec.Progress,
			"epoch":                rec.Epoch,
			"total_epochs":         rec.TotalEpochs,
			"retry_count":          rec.RetryCount,
			"error_message":        rec.ErrorMessage,
			"trainer_id":           rec.TrainerID,
			"output":               rec.Output,
			"queued_at":            rec.QueuedAt,
			"started_at":           rec.StartedAt,
			"completed_at":         rec.CompletedAt,
			"estimated_completion": rec.EstimatedCompletion,
			"updated_at":           rec.UpdatedAt,
			"audit":                rec.Audit,
		}).Error
}

// UpdateStatusCAS flips status only when the current status matches
// expected. RowsAffected == 0 signals a lost race.
func (r *JobRepository) UpdateStatusCAS(ctx context.Context, jobID string, expected, next model.JobStatus) error {
	result := r.ds.DB(ctx).Model(&TrainingJobRecord{}).
		Where("job_id = ? AND status = ?", jobID, string(expected)).
		Update("status", string(next))

	if result.Error != nil {
		return fmt.Errorf("failed to update job status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("job not found or status changed: job_id=%s, expected=%s", jobID, expected)
	}
	return nil
}

// SetQueuePosition writes one dense queue position.
func (r *JobRepository) SetQueuePosition(ctx context.Context, jobID string, position *int) error {
	return r.ds.DB(ctx).Model(&TrainingJobRecord{}).
		Where("job_id = ?", jobID).
		Update("queue_position", position).Error
}

// List retrieves jobs, newest first, optionally filtered by status.
func (r *JobRepository) List(ctx context.Context, status string, limit, offset int) ([]*model.TrainingJob, error) {
	query := r.ds.DB(ctx).Model(&TrainingJobRecord{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []*TrainingJobRecord
	if err := query.Offset(offset).Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*model.TrainingJob, 0, len(records))
	for _, rec := range records {
		jobs = append(jobs, ToJobDomain(rec))
	}
	return jobs, nil
}

// ListByStatuses retrieves jobs holding any of the given statuses, queue
// order (priority desc, queued_at asc).
func (r *JobRepository) ListByStatuses(ctx context.Context, statuses ...model.JobStatus) ([]*model.TrainingJob, error) {
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}

	var records []*TrainingJobRecord
	err := r.ds.DB(ctx).
		Where("status IN ?", values).
		Order("priority DESC, queued_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs by status: %w", err)
	}

	jobs := make([]*model.TrainingJob, 0, len(records))
	for _, rec := range records {
		jobs = append(jobs, ToJobDomain(rec))
	}
	return jobs, nil
}

// CountsByStatus returns job counts grouped by status.
func (r *JobRepository) CountsByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	type row struct {
		Status string
		Total  int
	}

	var rows []row
	err := r.ds.DB(ctx).Model(&TrainingJobRecord{}).
		Select("status, count(*) as total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	counts := make(map[model.JobStatus]int, len(rows))
	for _, r := range rows {
		counts[model.JobStatus(r.Status)] = r.Total
	}
	return counts, nil
}
