package alerts

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// AlertType alert severity
type AlertType string

const (
	TypeInfo     AlertType = "info"
	TypeWarning  AlertType = "warning"
	TypeCritical AlertType = "critical"
)

// Alert one alert record. Created once, mutated only by resolution, never
// deleted: resolved alerts remain for audit.
type Alert struct {
	ID         string     `json:"id"`
	Type       AlertType  `json:"type"`
	Category   string     `json:"category"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Source     string     `json:"source"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Resolved reports whether the alert has left the active state.
func (a *Alert) Resolved() bool {
	return a.ResolvedAt != nil
}

// Manager owns the alert lifecycle: active -> resolved, one-way, no
// re-activation. Not durable; rebuilt empty on process restart.
type Manager struct {
	mu      sync.RWMutex
	byID    map[string]*Alert
	ordered []*Alert // insertion order
	now     func() time.Time
}

// NewManager creates an alert manager.
func NewManager() *Manager {
	return &Manager{
		byID: make(map[string]*Alert),
		now:  time.Now,
	}
}

// Create records a new active alert and returns its id. Always succeeds;
// duplicate titles are permitted (no dedup).
func (m *Manager) Create(alertType AlertType, category, title, message, source string) string {
	alert := &Alert{
		ID:        uuid.New().String(),
		Type:      alertType,
		Category:  category,
		Title:     title,
		Message:   message,
		Source:    source,
		CreatedAt: m.now(),
	}

	m.mu.Lock()
	m.byID[alert.ID] = alert
	m.ordered = append(m.ordered, alert)
	m.mu.Unlock()

	return alert.ID
}

// Resolve sets the resolution timestamp. Best effort: returns false for an
// unknown id or an alert that is already resolved, so a second call on the
// same id reports false and never moves the timestamp.
func (m *Manager) Resolve(alertID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.byID[alertID]
	if !ok || alert.ResolvedAt != nil {
		return false
	}

	now := m.now()
	alert.ResolvedAt = &now
	return true
}

// Active returns unresolved alerts, newest first. The result is a copy.
func (m *Manager) Active() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Alert, 0)
	for i := len(m.ordered) - 1; i >= 0; i-- {
		if m.ordered[i].ResolvedAt == nil {
			out = append(out, *m.ordered[i])
		}
	}
	return out
}

// ActiveCounts returns active alert counts per severity.
func (m *Manager) ActiveCounts() map[AlertType]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[AlertType]int)
	for _, a := range m.ordered {
		if a.ResolvedAt == nil {
			counts[a.Type]++
		}
	}
	return counts
}

// List returns the most recent alerts, resolved included, newest first.
// limit <= 0 returns everything.
func (m *Manager) List(limit int) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Alert, 0, len(m.ordered))
	for i := len(m.ordered) - 1; i >= 0; i-- {
		out = append(out, *m.ordered[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
