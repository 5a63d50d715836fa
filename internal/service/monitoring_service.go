package service

import (
	"context"
	"fmt"
	"time"

	"trainops/internal/model"
	"trainops/pkg/alerts"
	"trainops/pkg/health"
	"trainops/pkg/logger"
	"trainops/pkg/metrics"
)

// TrainerRegistry exposes the live-trainer count for the dashboard.
type TrainerRegistry interface {
	Count(ctx context.Context) (int, error)
}

// DashboardResponse is the aggregated monitoring view.
type DashboardResponse struct {
	Health         health.Report    `json:"health"`
	ActiveAlerts   []alerts.Alert   `json:"active_alerts"`
	Metrics        metrics.Snapshot `json:"metrics"`
	ActiveTrainers int              `json:"active_trainers"`
	UptimeSeconds  float64          `json:"uptime_seconds"`
	GeneratedAt    time.Time        `json:"generated_at"`
}

// MonitoringService fronts the metric store, alert manager and health
// scorer behind one API surface.
type MonitoringService struct {
	metrics    *metrics.Store
	alerts     *alerts.Manager
	scorer     *health.Scorer
	collectors []metrics.Collector
	trainers   TrainerRegistry
	startedAt  time.Time
}

// NewMonitoringService wires the monitoring facade. trainers may be nil when
// no registry is configured.
func NewMonitoringService(metricStore *metrics.Store, alertMgr *alerts.Manager, scorer *health.Scorer, collectors []metrics.Collector, trainers TrainerRegistry) *MonitoringService {
	return &MonitoringService{
		metrics:    metricStore,
		alerts:     alertMgr,
		scorer:     scorer,
		collectors: collectors,
		trainers:   trainers,
		startedAt:  time.Now(),
	}
}

// Collect samples every registered collector into the metric store. One
// failing collector does not block the others.
func (s *MonitoringService) Collect(ctx context.Context) {
	for _, c := range s.collectors {
		points, err := c.Sample(ctx)
		if err != nil {
			logger.WarnCtx(ctx, "collector %s failed: %v", c.Name(), err)
			continue
		}
		for _, p := range points {
			if err := s.metrics.AddPoint(p); err != nil {
				logger.WarnCtx(ctx, "collector %s produced invalid point %s: %v", c.Name(), p.Key, err)
			}
		}
	}
}

// Health scores the current metric snapshot.
func (s *MonitoringService) Health() health.Report {
	return s.scorer.Score(s.metrics.Snapshot(), s.alerts.ActiveCounts())
}

// ActiveAlerts returns unresolved alerts, newest first.
func (s *MonitoringService) ActiveAlerts() []alerts.Alert {
	return s.alerts.Active()
}

// Alerts returns recent alerts regardless of state.
func (s *MonitoringService) Alerts(limit int) []alerts.Alert {
	return s.alerts.List(limit)
}

// CreateAlert raises a new alert and returns its id.
func (s *MonitoringService) CreateAlert(alertType alerts.AlertType, category, title, message, source string) (string, error) {
	switch alertType {
	case alerts.TypeInfo, alerts.TypeWarning, alerts.TypeCritical:
	default:
		return "", fmt.Errorf("%w: unknown alert type %q", model.ErrValidation, alertType)
	}
	if title == "" || message == "" {
		return "", fmt.Errorf("%w: title and message are required", model.ErrValidation)
	}
	return s.alerts.Create(alertType, category, title, message, source), nil
}

// ResolveAlert marks an alert resolved. Returns false when the alert is
// unknown or already resolved.
func (s *MonitoringService) ResolveAlert(alertID string) bool {
	return s.alerts.Resolve(alertID)
}

// AddMetric records an externally supplied sample.
func (s *MonitoringService) AddMetric(key string, value float64, metadata map[string]interface{}) error {
	return s.metrics.Add(key, value, metadata)
}

// MetricHistory returns points for key recorded within the last
// minutesBack minutes, oldest first.
func (s *MonitoringService) MetricHistory(key string, minutesBack int) []metrics.Point {
	return s.metrics.History(key, minutesBack)
}

// Metrics returns the latest-value snapshot grouped by domain.
func (s *MonitoringService) Metrics() metrics.Snapshot {
	return s.metrics.Snapshot()
}

// Dashboard aggregates health, alerts and metrics into one response.
func (s *MonitoringService) Dashboard(ctx context.Context) DashboardResponse {
	trainerCount := 0
	if s.trainers != nil {
		n, err := s.trainers.Count(ctx)
		if err != nil {
			logger.WarnCtx(ctx, "failed to count trainers: %v", err)
		} else {
			trainerCount = n
		}
	}

	now := time.Now()
	return DashboardResponse{
		Health:         s.Health(),
		ActiveAlerts:   s.alerts.Active(),
		Metrics:        s.metrics.Snapshot(),
		ActiveTrainers: trainerCount,
		UptimeSeconds:  now.Sub(s.startedAt).Seconds(),
		GeneratedAt:    now,
	}
}
