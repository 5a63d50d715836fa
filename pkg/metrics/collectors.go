package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// Well-known metric keys. The health scorer and the dashboard read these;
// collectors below (and the training service's side-channel writes) produce
// them.
const (
	KeyDatabaseHealthy   = "database.healthy"
	KeyDatabaseLatency   = "database.avg_latency_ms"
	KeyDatabaseErrors    = "database.errors"
	KeyDatabasePoolTotal = "database.pool_total"
	KeyDatabasePoolIdle  = "database.pool_idle"
	KeyDatabaseSlowQuery = "database.slow_query_ratio"

	KeyCacheConnected = "cache.connected"
	KeyCacheHitRate   = "cache.hit_rate"
	KeyCacheLatency   = "cache.avg_latency_ms"

	KeyRealtimeConnHealth  = "realtime.connection_health"
	KeyRealtimeLatency     = "realtime.avg_latency_ms"
	KeyRealtimeConnections = "realtime.active_connections"

	KeySystemUptime     = "system.uptime_seconds"
	KeySystemGoroutines = "system.goroutines"
)

// Collector samples one subsystem into metric points. Implementations must
// be safe for periodic invocation from a background job.
type Collector interface {
	Name() string
	Sample(ctx context.Context) ([]Point, error)
}

// DatabaseCollector samples connection-pool and latency figures from the
// backing *sql.DB.
type DatabaseCollector struct {
	db *sql.DB
}

// NewDatabaseCollector creates a database collector.
func NewDatabaseCollector(db *sql.DB) *DatabaseCollector {
	return &DatabaseCollector{db: db}
}

func (c *DatabaseCollector) Name() string { return "database" }

func (c *DatabaseCollector) Sample(ctx context.Context) ([]Point, error) {
	now := time.Now()

	healthy := 1.0
	start := now
	if err := c.db.PingContext(ctx); err != nil {
		healthy = 0
	}
	latency := float64(time.Since(start).Milliseconds())

	stats := c.db.Stats()
	return []Point{
		{Key: KeyDatabaseHealthy, Value: healthy, Timestamp: now},
		{Key: KeyDatabaseLatency, Value: latency, Timestamp: now},
		{Key: KeyDatabasePoolTotal, Value: float64(stats.MaxOpenConnections), Timestamp: now},
		{Key: KeyDatabasePoolIdle, Value: float64(stats.Idle), Timestamp: now},
	}, nil
}

// CacheCollector samples hit rate and latency from Redis.
type CacheCollector struct {
	client *redis.Client
}

// NewCacheCollector creates a cache collector.
func NewCacheCollector(client *redis.Client) *CacheCollector {
	return &CacheCollector{client: client}
}

func (c *CacheCollector) Name() string { return "cache" }

func (c *CacheCollector) Sample(ctx context.Context) ([]Point, error) {
	now := time.Now()

	connected := 1.0
	start := now
	if err := c.client.Ping(ctx).Err(); err != nil {
		connected = 0
	}
	latency := float64(time.Since(start).Milliseconds())

	points := []Point{
		{Key: KeyCacheConnected, Value: connected, Timestamp: now},
		{Key: KeyCacheLatency, Value: latency, Timestamp: now},
	}

	if connected == 1 {
		if info, err := c.client.Info(ctx, "stats").Result(); err == nil {
			hits := parseInfoField(info, "keyspace_hits")
			misses := parseInfoField(info, "keyspace_misses")
			if hits+misses > 0 {
				rate := hits / (hits + misses) * 100
				points = append(points, Point{Key: KeyCacheHitRate, Value: rate, Timestamp: now})
			}
		}
	}

	return points, nil
}

// parseInfoField extracts a numeric field from a redis INFO block.
func parseInfoField(info, field string) float64 {
	for _, line := range strings.Split(info, "\r\n") {
		if strings.HasPrefix(line, field+":") {
			v, err := strconv.ParseFloat(strings.TrimPrefix(line, field+":"), 64)
			if err == nil {
				return v
			}
			return 0
		}
	}
	return 0
}

// StreamStats is the dispatcher-side view the realtime collector samples.
type StreamStats interface {
	ActiveSubscriptions() int
	LastPushLatency() time.Duration
}

// RealtimeCollector samples the progress stream dispatcher.
type RealtimeCollector struct {
	stats StreamStats
}

// NewRealtimeCollector creates a realtime-transport collector.
func NewRealtimeCollector(stats StreamStats) *RealtimeCollector {
	return &RealtimeCollector{stats: stats}
}

func (c *RealtimeCollector) Name() string { return "realtime" }

func (c *RealtimeCollector) Sample(ctx context.Context) ([]Point, error) {
	now := time.Now()
	active := c.stats.ActiveSubscriptions()
	latency := float64(c.stats.LastPushLatency().Milliseconds())

	// Connection health is a derived gauge: pushes completing quickly mean
	// healthy transport, slow pushes degrade it.
	connHealth := 100.0
	switch {
	case latency > 2000:
		connHealth = 25
	case latency > 1000:
		connHealth = 60
	case latency > 250:
		connHealth = 85
	}

	return []Point{
		{Key: KeyRealtimeConnections, Value: float64(active), Timestamp: now},
		{Key: KeyRealtimeLatency, Value: latency, Timestamp: now},
		{Key: KeyRealtimeConnHealth, Value: connHealth, Timestamp: now},
	}, nil
}

// SystemCollector samples process-level figures.
type SystemCollector struct {
	startedAt time.Time
}

// NewSystemCollector creates a system collector anchored at process start.
func NewSystemCollector(startedAt time.Time) *SystemCollector {
	return &SystemCollector{startedAt: startedAt}
}

func (c *SystemCollector) Name() string { return "system" }

func (c *SystemCollector) Sample(ctx context.Context) ([]Point, error) {
	now := time.Now()
	return []Point{
		{Key: KeySystemUptime, Value: now.Sub(c.startedAt).Seconds(), Timestamp: now},
		{Key: KeySystemGoroutines, Value: float64(runtime.NumGoroutine()), Timestamp: now},
	}, nil
}
