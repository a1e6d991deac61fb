package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "bolt://localhost:7687", cfg.Graph.URI)
	assert.Equal(t, "neo4j", cfg.Graph.Database)
	assert.Equal(t, 500, cfg.Watch.DebounceMs)
	assert.Equal(t, 300, cfg.Watch.StabilityMs)
	assert.Equal(t, 5000, cfg.Analytics.OnFileChange.DebounceMs)
	assert.True(t, cfg.Analytics.OnIngestion.Enabled)
	assert.Positive(t, cfg.Budget.MaxParseWorkers)

	// Every default TTL entry names a known analysis kind.
	for kind := range cfg.Cache.TTLByKind {
		assert.True(t, isKnownAnalysisKind(kind), "unknown kind %q in defaults", kind)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NEO4J_URI", "bolt://graph.internal:7687")
	t.Setenv("NEO4J_PASSWORD", "s3cret")
	t.Setenv("WATCH_DEBOUNCE_MS", "250")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")
	t.Setenv("INGEST_DEEP_ANALYSIS", "true")

	cfg := Default()
	applyEnvOverrides(cfg)

	assert.Equal(t, "bolt://graph.internal:7687", cfg.Graph.URI)
	assert.Equal(t, "s3cret", cfg.Graph.Password)
	assert.Equal(t, 250, cfg.Watch.DebounceMs)
	assert.True(t, cfg.Redis.Enabled, "setting REDIS_ADDR enables the tier")
	assert.True(t, cfg.Ingest.DeepAnalysis)
}

func TestValidateUnknownAnalysisKind(t *testing.T) {
	cfg := Default()
	cfg.Graph.Password = "some-password"
	cfg.Analytics.OnIngestion.Analyses = append(cfg.Analytics.OnIngestion.Analyses, "telemetry")

	result := cfg.ValidateWithMode(ValidationContextServer, ModeDevelopment)
	require.True(t, result.HasErrors())
	assert.Contains(t, result.Error(), "telemetry")
}

func TestValidateMissingGraphPassword(t *testing.T) {
	cfg := Default()
	cfg.Graph.Password = ""

	result := cfg.ValidateWithMode(ValidationContextIngest, ModeDevelopment)
	require.True(t, result.HasErrors())
	assert.Contains(t, result.Error(), "NEO4J_PASSWORD")
}

func TestValidateInsecurePasswordByMode(t *testing.T) {
	cfg := Default()
	cfg.Graph.URI = "bolt://graph.internal:7687"
	cfg.Graph.Password = "neo4j"

	dev := cfg.ValidateWithMode(ValidationContextIngest, ModeDevelopment)
	assert.False(t, dev.HasErrors(), "development mode downgrades to a warning: %s", dev.Error())
	assert.NotEmpty(t, dev.Warnings)

	ci := cfg.ValidateWithMode(ValidationContextIngest, ModeCI)
	assert.True(t, ci.HasErrors(), "CI mode rejects insecure defaults")
}

func TestValidateWatchTimers(t *testing.T) {
	cfg := Default()
	cfg.Graph.Password = "some-password"
	cfg.Watch.DebounceMs = -1

	result := cfg.ValidateWithMode(ValidationContextIngest, ModeDevelopment)
	require.True(t, result.HasErrors())
	assert.Contains(t, result.Error(), "debounce")
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Default()
	cfg.Graph.URI = "bolt://roundtrip:7687"
	cfg.Cache.DefaultTTL = 42 * time.Minute
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "bolt://roundtrip:7687", loaded.Graph.URI)
	assert.Equal(t, 42*time.Minute, loaded.Cache.DefaultTTL)
}

func TestRequireGraph(t *testing.T) {
	cfg := Default()
	cfg.Graph.Password = ""
	assert.Error(t, cfg.RequireGraph())

	cfg.Graph.Password = "pw"
	assert.NoError(t, cfg.RequireGraph())
}
