package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AddAndLatest(t *testing.T) {
	store := NewStore(10)

	err := store.Add("database.avg_latency_ms", 12.5, nil)
	require.NoError(t, err)

	point, ok := store.Latest("database.avg_latency_ms")
	require.True(t, ok)
	assert.Equal(t, 12.5, point.Value)
	assert.Equal(t, "database.avg_latency_ms", point.Key)

	_, ok = store.Latest("database.missing")
	assert.False(t, ok)
}

func TestStore_RejectsNonFiniteValues(t *testing.T) {
	store := NewStore(10)

	tests := []struct {
		name  string
		value float64
	}{
		{"NaN", math.NaN()},
		{"positive infinity", math.Inf(1)},
		{"negative infinity", math.Inf(-1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Add("cache.hit_rate", tt.value, nil)
			assert.ErrorIs(t, err, ErrInvalidMetric)
			assert.Equal(t, 0, store.Len("cache.hit_rate"))
		})
	}
}

func TestStore_RejectsEmptyKey(t *testing.T) {
	store := NewStore(10)
	assert.ErrorIs(t, store.Add("", 1, nil), ErrInvalidMetric)
}

func TestStore_CapacityEvictsOldest(t *testing.T) {
	store := NewStore(3)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Add("system.goroutines", float64(i), nil))
	}

	assert.Equal(t, 3, store.Len("system.goroutines"))

	points := store.History("system.goroutines", 60)
	require.Len(t, points, 3)
	// Oldest two samples (0, 1) were evicted.
	assert.Equal(t, 2.0, points[0].Value)
	assert.Equal(t, 4.0, points[2].Value)
}

func TestStore_HistoryWindow(t *testing.T) {
	store := NewStore(10)
	now := time.Now()

	ticks := []time.Time{
		now.Add(-2 * time.Hour),
		now.Add(-30 * time.Minute),
		now.Add(-time.Minute),
	}
	i := 0
	store.now = func() time.Time { t := ticks[i]; i++; return t }

	for v := range ticks {
		require.NoError(t, store.Add("database.errors", float64(v), nil))
	}

	store.now = func() time.Time { return now }

	recent := store.History("database.errors", 60)
	require.Len(t, recent, 2)
	assert.Equal(t, 1.0, recent[0].Value)
	assert.Equal(t, 2.0, recent[1].Value)

	all := store.History("database.errors", 180)
	assert.Len(t, all, 3)
}

func TestStore_SnapshotGroupsByDomain(t *testing.T) {
	store := NewStore(10)

	require.NoError(t, store.Add("database.healthy", 1, nil))
	require.NoError(t, store.Add("database.avg_latency_ms", 8, nil))
	require.NoError(t, store.Add("cache.hit_rate", 92.5, nil))
	require.NoError(t, store.Add("uptime", 100, nil)) // no domain prefix

	snap := store.Snapshot()

	assert.Equal(t, 1.0, snap.Domain("database")["healthy"])
	assert.Equal(t, 8.0, snap.Domain("database")["avg_latency_ms"])
	assert.Equal(t, 92.5, snap.Domain("cache")["hit_rate"])
	assert.Equal(t, 100.0, snap.Domain("system")["uptime"])
	assert.Empty(t, snap.Domain("realtime"))
}

func TestStore_SnapshotReflectsLatestValue(t *testing.T) {
	store := NewStore(10)

	require.NoError(t, store.Add("cache.hit_rate", 50, nil))
	require.NoError(t, store.Add("cache.hit_rate", 75, nil))

	snap := store.Snapshot()
	assert.Equal(t, 75.0, snap.Domain("cache")["hit_rate"])
}

func TestStore_MetadataPreserved(t *testing.T) {
	store := NewStore(10)

	md := map[string]interface{}{"epoch": 3}
	require.NoError(t, store.Add("training.job-1.loss", 0.42, md))

	point, ok := store.Latest("training.job-1.loss")
	require.True(t, ok)
	assert.Equal(t, 3, point.Metadata["epoch"])
}
