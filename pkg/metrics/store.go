package metrics

import (
	"errors"
	"math"
	"strings"
	"sync"
	"time"
)

// ErrInvalidMetric rejects NaN and infinite metric values.
var ErrInvalidMetric = errors.New("invalid metric value")

// Point is one recorded metric observation. Immutable once recorded.
type Point struct {
	Key       string                 `json:"key"`
	Value     float64                `json:"value"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Store is a bounded, per-key time-series buffer. Each key owns a ring of
// at most capacity points; the oldest point is evicted on overflow, so
// memory stays bounded independent of uptime. Queries return copies, never
// live references.
type Store struct {
	mu       sync.RWMutex
	capacity int
	series   map[string]*ring
	now      func() time.Time
}

// ring fixed-capacity point buffer, oldest first
type ring struct {
	points []Point
	head   int // index of oldest point
	size   int
}

func newRing(capacity int) *ring {
	return &ring{points: make([]Point, capacity)}
}

func (r *ring) push(p Point) {
	if r.size < len(r.points) {
		r.points[(r.head+r.size)%len(r.points)] = p
		r.size++
		return
	}
	// Full: overwrite the oldest slot.
	r.points[r.head] = p
	r.head = (r.head + 1) % len(r.points)
}

// snapshot returns points in insertion order, oldest first.
func (r *ring) snapshot() []Point {
	out := make([]Point, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.points[(r.head+i)%len(r.points)])
	}
	return out
}

func (r *ring) latest() (Point, bool) {
	if r.size == 0 {
		return Point{}, false
	}
	return r.points[(r.head+r.size-1)%len(r.points)], true
}

// NewStore creates a metrics store retaining up to capacity points per key.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 500
	}
	return &Store{
		capacity: capacity,
		series:   make(map[string]*ring),
		now:      time.Now,
	}
}

// Add appends a point to the series for key, creating it if absent.
func (s *Store) Add(key string, value float64, metadata map[string]interface{}) error {
	if key == "" {
		return ErrInvalidMetric
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return ErrInvalidMetric
	}

	point := Point{
		Key:       key,
		Value:     value,
		Timestamp: s.now(),
		Metadata:  metadata,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.series[key]
	if !ok {
		r = newRing(s.capacity)
		s.series[key] = r
	}
	r.push(point)
	return nil
}

// AddPoint records an already-built point, keeping its timestamp. Used by
// collectors that sample in batches.
func (s *Store) AddPoint(p Point) error {
	if p.Key == "" {
		return ErrInvalidMetric
	}
	if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
		return ErrInvalidMetric
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.series[p.Key]
	if !ok {
		r = newRing(s.capacity)
		s.series[p.Key] = r
	}
	r.push(p)
	return nil
}

// History returns all points for key recorded within the last minutesBack
// minutes, in time order. Unknown keys yield an empty slice, not an error.
func (s *Store) History(key string, minutesBack int) []Point {
	cutoff := s.now().Add(-time.Duration(minutesBack) * time.Minute)

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.series[key]
	if !ok {
		return []Point{}
	}

	all := r.snapshot()
	out := make([]Point, 0, len(all))
	for _, p := range all {
		if !p.Timestamp.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out
}

// Latest returns the most recent point for key.
func (s *Store) Latest(key string) (Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.series[key]
	if !ok {
		return Point{}, false
	}
	return r.latest()
}

// Keys returns all tracked metric keys.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.series))
	for k := range s.series {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of points currently retained for key.
func (s *Store) Len(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.series[key]; ok {
		return r.size
	}
	return 0
}

// Snapshot returns a point-in-time copy of the latest value per key,
// grouped by domain (the key segment before the first dot). Callers must
// not assume it reflects state after the call returns.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Timestamp: s.now(),
		Domains:   make(map[string]map[string]float64),
	}
	for key, r := range s.series {
		p, ok := r.latest()
		if !ok {
			continue
		}
		domain, field := splitKey(key)
		if snap.Domains[domain] == nil {
			snap.Domains[domain] = make(map[string]float64)
		}
		snap.Domains[domain][field] = p.Value
	}
	return snap
}

// Snapshot is a read-only rollup of the latest value for each tracked key.
type Snapshot struct {
	Timestamp time.Time                     `json:"timestamp"`
	Domains   map[string]map[string]float64 `json:"domains"`
}

// Domain returns the field map for one domain, never nil.
func (s Snapshot) Domain(name string) map[string]float64 {
	if m, ok := s.Domains[name]; ok {
		return m
	}
	return map[string]float64{}
}

func splitKey(key string) (domain, field string) {
	if idx := strings.Index(key, "."); idx > 0 {
		return key[:idx], key[idx+1:]
	}
	return "system", key
}
