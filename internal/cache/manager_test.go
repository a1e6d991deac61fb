package cache

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, ttlByKind map[string]time.Duration) *Manager {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewManager(Options{
		Directory:  t.TempDir(),
		DefaultTTL: time.Minute,
		TTLByKind:  ttlByKind,
	}, logger)
}

func TestGetMissThenHit(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	_, found, err := m.Get(ctx, "security", "/repo")
	require.NoError(t, err)
	assert.False(t, found)

	stored := m.Set(ctx, "security", "/repo", map[string]int{"findings": 3})

	entry, found, err := m.Get(ctx, "security", "/repo")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, stored.CachedAt, entry.CachedAt, "a hit within the TTL returns the identical entry")
	assert.Equal(t, map[string]int{"findings": 3}, entry.Payload)
}

func TestScopeAndKindIsolation(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	m.Set(ctx, "security", "/repo-a", "a")
	m.Set(ctx, "security", "/repo-b", "b")
	m.Set(ctx, "complexity", "/repo-a", "c")

	entry, found, _ := m.Get(ctx, "security", "/repo-a")
	require.True(t, found)
	assert.Equal(t, "a", entry.Payload)

	entry, found, _ = m.Get(ctx, "complexity", "/repo-a")
	require.True(t, found)
	assert.Equal(t, "c", entry.Payload)
}

func TestTTLFor(t *testing.T) {
	m := newTestManager(t, map[string]time.Duration{"impact": 5 * time.Second})
	assert.Equal(t, 5*time.Second, m.TTLFor("impact"))
	assert.Equal(t, time.Minute, m.TTLFor("security"), "unconfigured kinds fall back to the default")
}

func TestExpiry(t *testing.T) {
	m := newTestManager(t, map[string]time.Duration{"impact": 20 * time.Millisecond})
	ctx := context.Background()

	m.Set(ctx, "impact", "sym", 1)
	_, found, _ := m.Get(ctx, "impact", "sym")
	require.True(t, found)

	time.Sleep(40 * time.Millisecond)
	_, found, _ = m.Get(ctx, "impact", "sym")
	assert.False(t, found, "entry must expire after its kind's TTL")
}

func TestInvalidateAndClear(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	m.Set(ctx, "security", "/repo", 1)
	m.Set(ctx, "complexity", "/repo", 2)

	m.Invalidate(ctx, "security", "/repo")
	_, found, _ := m.Get(ctx, "security", "/repo")
	assert.False(t, found)
	_, found, _ = m.Get(ctx, "complexity", "/repo")
	assert.True(t, found)

	m.Clear(ctx)
	assert.Zero(t, m.ItemCount())
}

func TestInvalidateKind(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	m.Set(ctx, "security", "/repo-a", 1)
	m.Set(ctx, "security", "/repo-b", 2)
	m.Set(ctx, "complexity", "/repo-a", 3)

	m.InvalidateKind(ctx, "security")

	_, found, _ := m.Get(ctx, "security", "/repo-a")
	assert.False(t, found)
	_, found, _ = m.Get(ctx, "security", "/repo-b")
	assert.False(t, found)
	_, found, _ = m.Get(ctx, "complexity", "/repo-a")
	assert.True(t, found)
}
