// Package cache holds the TTL-bounded analytics result cache: an
// in-process memory tier keyed by (analysis kind, scope), with an
// optional Redis tier so several processes watching the same graph can
// share results.
package cache

import (
	"context"
	"fmt"
	"os"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// Entry is one cached analysis result. Payload is whatever the analysis
// produced; CachedAt lets callers distinguish a cache hit from a fresh
// computation.
type Entry struct {
	Kind     string    `json:"kind"`
	ScopeKey string    `json:"scopeKey"`
	Payload  any       `json:"payload"`
	CachedAt time.Time `json:"cachedAt"`
}

// Options configures a Manager.
type Options struct {
	Directory  string
	DefaultTTL time.Duration
	TTLByKind  map[string]time.Duration
	Redis      *Client // nil disables the shared tier
}

// Manager handles analytics cache operations
type Manager struct {
	logger     *logrus.Logger
	memCache   *gocache.Cache
	redis      *Client
	defaultTTL time.Duration
	ttlByKind  map[string]time.Duration
}

// NewManager creates a new cache manager
func NewManager(opts Options, logger *logrus.Logger) *Manager {
	// Ensure cache directory exists
	if opts.Directory != "" {
		if err := os.MkdirAll(opts.Directory, 0755); err != nil {
			logger.WithError(err).Warn("Failed to create cache directory")
		}
	}

	defaultTTL := opts.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = 15 * time.Minute
	}

	return &Manager{
		logger:     logger,
		memCache:   gocache.New(defaultTTL, 2*defaultTTL),
		redis:      opts.Redis,
		defaultTTL: defaultTTL,
		ttlByKind:  opts.TTLByKind,
	}
}

// TTLFor returns the TTL configured for an analysis kind, falling back
// to the default.
func (m *Manager) TTLFor(kind string) time.Duration {
	if ttl, ok := m.ttlByKind[kind]; ok && ttl > 0 {
		return ttl
	}
	return m.defaultTTL
}

// Key builds the cache key for one (kind, scope) pair.
func Key(kind, scopeKey string) string {
	return fmt.Sprintf("analytics:%s:%s", kind, scopeKey)
}

// Get returns the cached entry for (kind, scopeKey), trying the memory
// tier first and the Redis tier second. A Redis hit is backfilled into
// memory. Returns (nil, false, nil) on a clean miss.
func (m *Manager) Get(ctx context.Context, kind, scopeKey string) (*Entry, bool, error) {
	key := Key(kind, scopeKey)

	if cached, found := m.memCache.Get(key); found {
		entry := cached.(*Entry)
		return entry, true, nil
	}

	if m.redis != nil {
		var entry Entry
		found, err := m.redis.Get(ctx, key, &entry)
		if err != nil {
			// A degraded shared tier must not fail reads; the memory
			// tier and a recompute still serve the caller.
			m.logger.WithError(err).WithField("key", key).Warn("Redis tier read failed")
			return nil, false, nil
		}
		if found {
			remaining := m.TTLFor(kind) - time.Since(entry.CachedAt)
			if remaining > 0 {
				m.memCache.Set(key, &entry, remaining)
				return &entry, true, nil
			}
		}
	}

	return nil, false, nil
}

// Set stores payload for (kind, scopeKey) in both tiers, stamping
// CachedAt, and returns the stored entry.
func (m *Manager) Set(ctx context.Context, kind, scopeKey string, payload any) *Entry {
	entry := &Entry{
		Kind:     kind,
		ScopeKey: scopeKey,
		Payload:  payload,
		CachedAt: time.Now(),
	}

	key := Key(kind, scopeKey)
	ttl := m.TTLFor(kind)
	m.memCache.Set(key, entry, ttl)

	if m.redis != nil {
		if err := m.redis.SetWithTTL(ctx, key, entry, ttl); err != nil {
			m.logger.WithError(err).WithField("key", key).Warn("Redis tier write failed")
		}
	}

	return entry
}

// Invalidate removes one (kind, scopeKey) entry from both tiers.
func (m *Manager) Invalidate(ctx context.Context, kind, scopeKey string) {
	key := Key(kind, scopeKey)
	m.memCache.Delete(key)
	if m.redis != nil {
		if err := m.redis.Delete(ctx, key); err != nil {
			m.logger.WithError(err).WithField("key", key).Warn("Redis tier delete failed")
		}
	}
}

// InvalidateKind removes every entry of one analysis kind.
func (m *Manager) InvalidateKind(ctx context.Context, kind string) {
	prefix := fmt.Sprintf("analytics:%s:", kind)
	for key := range m.memCache.Items() {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			m.memCache.Delete(key)
		}
	}
	if m.redis != nil {
		if _, err := m.redis.DeletePattern(ctx, prefix+"*"); err != nil {
			m.logger.WithError(err).WithField("kind", kind).Warn("Redis tier pattern delete failed")
		}
	}
}

// Clear empties both tiers.
func (m *Manager) Clear(ctx context.Context) {
	m.logger.Info("Clearing analytics cache")
	m.memCache.Flush()
	if m.redis != nil {
		if _, err := m.redis.DeletePattern(ctx, "analytics:*"); err != nil {
			m.logger.WithError(err).Warn("Redis tier clear failed")
		}
	}
}

// ItemCount reports how many entries the memory tier currently holds
// (expired-but-unswept items included, matching the underlying store).
func (m *Manager) ItemCount() int {
	return m.memCache.ItemCount()
}

// Keys lists the memory tier's current keys, for the cache-inspection
// surface.
func (m *Manager) Keys() []string {
	items := m.memCache.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	return keys
}
