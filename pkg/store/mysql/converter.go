package mysql

import (
	"trainops/internal/model"
)

// ToJobDomain converts a MySQL record to the domain TrainingJob
func ToJobDomain(rec *TrainingJobRecord) *model.TrainingJob {
	if rec == nil {
		return nil
	}

	job := &model.TrainingJob{
		ID:                  rec.JobID,
		UserID:              rec.UserID,
		Status:              model.JobStatus(rec.Status),
		Priority:            rec.Priority,
		QueuePosition:       rec.QueuePosition,
		Progress:            rec.Progress,
		Epoch:               rec.Epoch,
		TotalEpochs:         rec.TotalEpochs,
		RetryCount:          rec.RetryCount,
		ErrorMessage:        rec.ErrorMessage,
		TrainerID:           rec.TrainerID,
		Config: model.TrainingConfig{
			Version:      rec.Config.Version,
			Model:        rec.Config.Model,
			Dataset:      rec.Config.Dataset,
			TotalEpochs:  rec.Config.TotalEpochs,
			BatchSize:    rec.Config.BatchSize,
			LearningRate: rec.Config.LearningRate,
		},
		Output:              map[string]any(rec.Output),
		QueuedAt:            rec.QueuedAt,
		StartedAt:           rec.StartedAt,
		CompletedAt:         rec.CompletedAt,
		EstimatedCompletion: rec.EstimatedCompletion,
		CreatedAt:           rec.CreatedAt,
		UpdatedAt:           rec.UpdatedAt,
	}

	for _, note := range rec.Audit {
		job.Audit = append(job.Audit, model.AuditRecord{
			Actor:     note.Actor,
			Action:    note.Action,
			From:      note.From,
			To:        note.To,
			Timestamp: note.Timestamp,
		})
	}

	return job
}

// FromJobDomain converts a domain TrainingJob to the MySQL record
func FromJobDomain(job *model.TrainingJob) *TrainingJobRecord {
	if job == nil {
		return nil
	}

	rec := &TrainingJobRecord{
		JobID:         job.ID,
		UserID:        job.UserID,
		Status:        string(job.Status),
		Priority:      job.Priority,
		QueuePosition: job.QueuePosition,
		Progress:      job.Progress,
		Epoch:         job.Epoch,
		TotalEpochs:   job.TotalEpochs,
		RetryCount:    job.RetryCount,
		ErrorMessage:  job.ErrorMessage,
		TrainerID:     job.TrainerID,
		Config: ConfigColumn{
			Version:      job.Config.Version,
			Model:        job.Config.Model,
			Dataset:      job.Config.Dataset,
			TotalEpochs:  job.Config.TotalEpochs,
			BatchSize:    job.Config.BatchSize,
			LearningRate: job.Config.LearningRate,
		},
		Output:              JSONMap(job.Output),
		QueuedAt:            job.QueuedAt,
		StartedAt:           job.StartedAt,
		CompletedAt:         job.CompletedAt,
		EstimatedCompletion: job.EstimatedCompletion,
		CreatedAt:           job.CreatedAt,
		UpdatedAt:           job.UpdatedAt,
	}

	for _, note := range job.Audit {
		rec.Audit = append(rec.Audit, AuditNote{
			Actor:     note.Actor,
			Action:    note.Action,
			From:      note.From,
			To:        note.To,
			Timestamp: note.Timestamp,
		})
	}

	return rec
}
