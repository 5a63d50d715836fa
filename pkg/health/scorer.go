package health

import (
	"fmt"

	"trainops/pkg/alerts"
	"trainops/pkg/config"
	"trainops/pkg/metrics"
)

// Status health band label
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DomainHealth derived per-domain score. Not persisted, recomputed on
// every query.
type DomainHealth struct {
	Status Status `json:"status"`
	Score  int    `json:"score"`
}

// Report full health view: per-domain scores, the overall composite and
// ordered remediation hints.
type Report struct {
	Status          Status                  `json:"status"`
	Score           int                     `json:"score"`
	Domains         map[string]DomainHealth `json:"domains"`
	Recommendations []string                `json:"recommendations"`
}

// Scorer derives health scores from a metrics snapshot and the active
// alert counts. It is a pure reader: it never mutates either source.
type Scorer struct {
	cfg config.HealthConfig
}

// NewScorer creates a scorer with the configured bands and weights.
func NewScorer(cfg config.HealthConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes the full health report.
func (s *Scorer) Score(snap metrics.Snapshot, alertCounts map[alerts.AlertType]int) Report {
	var recs []string

	storage := s.scoreStorage(snap.Domain("database"), &recs)
	cache := s.scoreCache(snap.Domain("cache"), &recs)
	realtime := s.scoreRealtime(snap.Domain("realtime"), &recs)

	overall := s.composite(storage, cache, realtime, alertCounts, &recs)

	if len(recs) == 0 {
		recs = append(recs, "status is optimal")
	}

	return Report{
		Status: s.band(overall),
		Score:  overall,
		Domains: map[string]DomainHealth{
			"storage":  {Status: s.band(storage), Score: storage},
			"cache":    {Status: s.band(cache), Score: cache},
			"realtime": {Status: s.band(realtime), Score: realtime},
		},
		Recommendations: recs,
	}
}

// scoreStorage applies the storage penalty table.
func (s *Scorer) scoreStorage(m map[string]float64, recs *[]string) int {
	score := 100

	if healthy, ok := m["healthy"]; ok && healthy == 0 {
		score -= 50
		*recs = append(*recs, "database reports unhealthy, check connectivity")
	}

	latency := m["avg_latency_ms"]
	if latency > 1000 {
		score -= 20
		*recs = append(*recs, fmt.Sprintf("database latency is elevated (%.0fms), review slow queries", latency))
	}
	if latency > 5000 {
		score -= 30
	}

	if m["errors"] > 0 {
		score -= 10
		*recs = append(*recs, "database errors recorded, inspect recent query failures")
	}

	total := m["pool_total"]
	idle := m["pool_idle"]
	utilization := 0.0
	if total > 0 {
		utilization = (total - idle) / total * 100
	}
	if utilization > 90 {
		score -= 25
		*recs = append(*recs, "connection pool is near exhaustion, raise pool size or reduce load")
	} else if utilization > 80 {
		score -= 10
	}

	if ratio, ok := m["slow_query_ratio"]; ok && ratio > 0.1 {
		*recs = append(*recs, "slow-query ratio exceeds 10%, add indexes or tune queries")
	}

	return clamp(score)
}

// scoreCache applies the cache penalty table.
func (s *Scorer) scoreCache(m map[string]float64, recs *[]string) int {
	score := 100

	if connected, ok := m["connected"]; ok && connected == 0 {
		score -= 20
		*recs = append(*recs, "cache is disconnected, check redis availability")
	}

	// Unknown hit rate (no traffic yet) is not penalized.
	hitRate, ok := m["hit_rate"]
	if ok {
		switch {
		case hitRate < 40:
			score -= 40
			*recs = append(*recs, fmt.Sprintf("cache hit rate is very low (%.0f%%), review key TTLs", hitRate))
		case hitRate < 60:
			score -= 20
			*recs = append(*recs, fmt.Sprintf("cache hit rate is low (%.0f%%)", hitRate))
		case hitRate < 80:
			score -= 10
		}
	}

	return clamp(score)
}

// scoreRealtime applies the realtime-transport penalty table.
func (s *Scorer) scoreRealtime(m map[string]float64, recs *[]string) int {
	score := 100

	if connHealth, ok := m["connection_health"]; ok {
		switch {
		case connHealth < 50:
			score -= 40
			*recs = append(*recs, "realtime connection health is poor, inspect stream push latency")
		case connHealth < 70:
			score -= 20
		}
	}

	latency := m["avg_latency_ms"]
	switch {
	case latency > 2000:
		score -= 30
		*recs = append(*recs, fmt.Sprintf("realtime push latency is high (%.0fms)", latency))
	case latency > 1000:
		score -= 15
	}

	if conns, ok := m["active_connections"]; ok && conns == 0 {
		score -= 10
	}

	return clamp(score)
}

// composite aggregates the domain scores into the overall score. The
// weights and per-alert penalties are a configuration choice, not a fixed
// law; the defaults live in config.ApplyDefaults.
func (s *Scorer) composite(storage, cache, realtime int, alertCounts map[alerts.AlertType]int, recs *[]string) int {
	weightSum := s.cfg.StorageWeight + s.cfg.CacheWeight + s.cfg.RealtimeWeight
	if weightSum <= 0 {
		weightSum = 1
	}

	weighted := (float64(storage)*s.cfg.StorageWeight +
		float64(cache)*s.cfg.CacheWeight +
		float64(realtime)*s.cfg.RealtimeWeight) / weightSum

	score := int(weighted + 0.5)

	criticals := alertCounts[alerts.TypeCritical]
	warnings := alertCounts[alerts.TypeWarning]
	score -= criticals * s.cfg.CriticalPenalty
	score -= warnings * s.cfg.WarningPenalty

	if criticals > 0 {
		*recs = append(*recs, fmt.Sprintf("%d critical alert(s) active, resolve them first", criticals))
	}

	return clamp(score)
}

// band maps a score to its status label using the configured floors.
func (s *Scorer) band(score int) Status {
	switch {
	case score >= s.cfg.HealthyFloor:
		return StatusHealthy
	case score >= s.cfg.DegradedFloor:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
