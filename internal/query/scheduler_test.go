package query

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgraph/kgraph/internal/cache"
	"github.com/kgraph/kgraph/internal/config"
	"github.com/kgraph/kgraph/internal/kgerrors"
)

func newTestScheduler(t *testing.T, cfg config.AnalyticsConfig, backend *stubBackend) *Scheduler {
	t.Helper()
	logger := quietLogger()
	results := cache.NewManager(cache.Options{
		Directory:  t.TempDir(),
		DefaultTTL: time.Minute,
	}, logger)
	sched, err := NewScheduler(NewEngine(backend, logger), results, cfg,
		filepath.Join(t.TempDir(), "jobs.db"), logger)
	require.NoError(t, err)
	t.Cleanup(sched.Stop)
	return sched
}

func TestRunCachesWithinTTL(t *testing.T) {
	sched := newTestScheduler(t, config.AnalyticsConfig{HistoryLimit: 10}, &stubBackend{})
	ctx := context.Background()

	first, err := sched.Run(ctx, KindSecurity, "/repo", false)
	require.NoError(t, err)

	second, err := sched.Run(ctx, KindSecurity, "/repo", false)
	require.NoError(t, err)
	assert.Equal(t, first.CachedAt, second.CachedAt, "a second call within the TTL serves the cached entry")

	refreshed, err := sched.Run(ctx, KindSecurity, "/repo", true)
	require.NoError(t, err)
	assert.True(t, refreshed.CachedAt.After(first.CachedAt) || refreshed.CachedAt.Equal(first.CachedAt))
	assert.NotSame(t, first, refreshed, "forceRefresh recomputes")
}

func TestRunRejectsUnknownAnalysisKind(t *testing.T) {
	sched := newTestScheduler(t, config.AnalyticsConfig{HistoryLimit: 10}, &stubBackend{})

	_, err := sched.Run(context.Background(), "nonsense", "", false)
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindValidation, kgerrors.KindOf(err))
}

func TestRunRecordsJobHistory(t *testing.T) {
	sched := newTestScheduler(t, config.AnalyticsConfig{HistoryLimit: 10}, &stubBackend{})

	_, err := sched.Run(context.Background(), KindComplexity, "/repo", true)
	require.NoError(t, err)

	jobs := sched.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, KindComplexity, jobs[0].Kind)
	assert.Equal(t, "/repo", jobs[0].Scope)
	assert.Equal(t, JobCompleted, jobs[0].State)
	assert.Equal(t, "manual", jobs[0].Trigger)
	assert.NotEmpty(t, jobs[0].ID)
}

func TestHistoryIsBounded(t *testing.T) {
	sched := newTestScheduler(t, config.AnalyticsConfig{HistoryLimit: 3}, &stubBackend{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := sched.Run(ctx, KindSummary, "", true)
		require.NoError(t, err)
	}
	assert.Len(t, sched.Jobs(), 3)
}

func TestOnIngestionTriggerRespectsEnabledFlag(t *testing.T) {
	cfg := config.AnalyticsConfig{
		HistoryLimit: 10,
		OnIngestion:  config.TriggerConfig{Enabled: false, Analyses: []string{KindSummary}},
	}
	sched := newTestScheduler(t, cfg, &stubBackend{})
	sched.Start(context.Background())

	sched.OnIngestion("/repo")
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sched.Jobs(), "disabled trigger runs nothing")
}

func TestOnFileChangeDebounces(t *testing.T) {
	cfg := config.AnalyticsConfig{
		HistoryLimit: 10,
		OnFileChange: config.FileChangeTriggerConfig{
			Enabled:    true,
			Analyses:   []string{KindComplexity},
			DebounceMs: 40,
		},
	}
	sched := newTestScheduler(t, cfg, &stubBackend{})
	sched.Start(context.Background())

	for i := 0; i < 5; i++ {
		sched.OnFileChange("/repo/a.ts")
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return len(sched.Jobs()) == 1
	}, time.Second, 10*time.Millisecond, "five rapid events collapse to one run")

	// Quiet period: no further runs appear.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, sched.Jobs(), 1)
}

func TestUpdateScheduleValidatesKinds(t *testing.T) {
	sched := newTestScheduler(t, config.AnalyticsConfig{HistoryLimit: 10}, &stubBackend{})

	err := sched.UpdateSchedule(config.AnalyticsConfig{
		OnIngestion: config.TriggerConfig{Analyses: []string{"astrology"}},
	})
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindValidation, kgerrors.KindOf(err))

	err = sched.UpdateSchedule(config.AnalyticsConfig{
		OnIngestion: config.TriggerConfig{Enabled: true, Analyses: []string{KindSummary}},
	})
	require.NoError(t, err)
	assert.True(t, sched.Schedule().OnIngestion.Enabled)
}

func TestClearCacheEmptiesResults(t *testing.T) {
	sched := newTestScheduler(t, config.AnalyticsConfig{HistoryLimit: 10}, &stubBackend{})
	ctx := context.Background()

	_, err := sched.Run(ctx, KindSecurity, "/repo", false)
	require.NoError(t, err)
	require.NotEmpty(t, sched.CacheKeys())

	sched.ClearCache(ctx)
	assert.Empty(t, sched.CacheKeys())
}
