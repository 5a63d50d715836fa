package mysql

import "trainops/pkg/store/mysql/model"

// Re-export model types so repository callers only import this package.
type (
	TrainingJobRecord = model.TrainingJob
	AuditTrail        = model.AuditTrail
	AuditNote         = model.AuditNote
	ConfigColumn      = model.ConfigColumn
	JSONMap           = model.JSONMap
)
