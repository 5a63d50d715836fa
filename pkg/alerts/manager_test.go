package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_CreateAndActive(t *testing.T) {
	m := NewManager()

	first := m.Create(TypeWarning, "storage", "high latency", "db latency above threshold", "collector")
	second := m.Create(TypeCritical, "training", "job failed", "job x failed", "job-x")

	require.NotEmpty(t, first)
	require.NotEmpty(t, second)
	assert.NotEqual(t, first, second)

	active := m.Active()
	require.Len(t, active, 2)
	// Newest first.
	assert.Equal(t, second, active[0].ID)
	assert.Equal(t, first, active[1].ID)
}

func TestManager_ResolveIsOneWayAndIdempotent(t *testing.T) {
	m := NewManager()
	id := m.Create(TypeInfo, "system", "startup", "service started", "")

	assert.True(t, m.Resolve(id))

	active := m.Active()
	assert.Empty(t, active)

	// Re-resolving reports false and does not move the timestamp.
	all := m.List(0)
	require.Len(t, all, 1)
	resolvedAt := all[0].ResolvedAt
	require.NotNil(t, resolvedAt)

	time.Sleep(time.Millisecond)
	assert.False(t, m.Resolve(id))

	all = m.List(0)
	assert.True(t, all[0].ResolvedAt.Equal(*resolvedAt))
}

func TestManager_ResolveUnknownID(t *testing.T) {
	m := NewManager()
	assert.False(t, m.Resolve("no-such-alert"))
}

func TestManager_ActiveCounts(t *testing.T) {
	m := NewManager()

	m.Create(TypeWarning, "storage", "a", "m", "")
	m.Create(TypeWarning, "cache", "b", "m", "")
	critical := m.Create(TypeCritical, "training", "c", "m", "")
	m.Create(TypeInfo, "system", "d", "m", "")

	counts := m.ActiveCounts()
	assert.Equal(t, 2, counts[TypeWarning])
	assert.Equal(t, 1, counts[TypeCritical])
	assert.Equal(t, 1, counts[TypeInfo])

	m.Resolve(critical)
	counts = m.ActiveCounts()
	assert.Equal(t, 0, counts[TypeCritical])
}

func TestManager_ListResolvedIncluded(t *testing.T) {
	m := NewManager()

	first := m.Create(TypeInfo, "system", "a", "m", "")
	m.Create(TypeInfo, "system", "b", "m", "")
	m.Resolve(first)

	all := m.List(0)
	assert.Len(t, all, 2)

	limited := m.List(1)
	require.Len(t, limited, 1)
	assert.Equal(t, "b", limited[0].Title)
}

func TestManager_DuplicateTitlesAllowed(t *testing.T) {
	m := NewManager()

	a := m.Create(TypeWarning, "storage", "same title", "m", "")
	b := m.Create(TypeWarning, "storage", "same title", "m", "")

	assert.NotEqual(t, a, b)
	assert.Len(t, m.Active(), 2)
}
