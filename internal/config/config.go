package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config holds all configuration settings
type Config struct {
	// Deployment mode
	Mode string `yaml:"mode"` // "development", "packaged", "ci"

	// Graph database (Neo4j) configuration
	Graph GraphConfig `yaml:"graph"`

	// Redis configuration (optional shared analytics-cache tier)
	Redis RedisConfig `yaml:"redis"`

	// Analytics result cache configuration
	Cache CacheConfig `yaml:"cache"`

	// Ingestion settings
	Ingest IngestConfig `yaml:"ingest"`

	// Watcher timers
	Watch WatchConfig `yaml:"watch"`

	// Analytics scheduler settings
	Analytics AnalyticsConfig `yaml:"analytics"`

	// Worker budget limits
	Budget BudgetConfig `yaml:"budget"`
}

type GraphConfig struct {
	URI          string        `yaml:"uri"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	Database     string        `yaml:"database"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type CacheConfig struct {
	Directory  string                   `yaml:"directory"`
	DefaultTTL time.Duration            `yaml:"default_ttl"`
	TTLByKind  map[string]time.Duration `yaml:"ttl_by_kind"` // per analysis kind
}

type IngestConfig struct {
	Extensions       []string      `yaml:"extensions"`
	Ignore           []string      `yaml:"ignore"` // appended to the scanner defaults
	DeepAnalysis     bool          `yaml:"deep_analysis"`
	IncludeExternals bool          `yaml:"include_externals"`
	ParseTimeout     time.Duration `yaml:"parse_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

type WatchConfig struct {
	DebounceMs  int `yaml:"debounce_ms"`
	StabilityMs int `yaml:"stability_ms"`
}

// TriggerConfig is one analytics trigger: an enabled flag plus the
// analyses it runs.
type TriggerConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Analyses []string `yaml:"analyses"`
}

// FileChangeTriggerConfig adds the per-trigger debounce to TriggerConfig.
type FileChangeTriggerConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Analyses   []string `yaml:"analyses"`
	DebounceMs int      `yaml:"debounce_ms"`
}

// PeriodicTriggerConfig runs its analyses on a fixed interval.
type PeriodicTriggerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Every    time.Duration `yaml:"every"`
	Analyses []string      `yaml:"analyses"`
}

type AnalyticsConfig struct {
	OnIngestion  TriggerConfig           `yaml:"on_ingestion"`
	OnFileChange FileChangeTriggerConfig `yaml:"on_file_change"`
	OnGitCommit  TriggerConfig           `yaml:"on_git_commit"`
	Periodic     []PeriodicTriggerConfig `yaml:"periodic"`
	HistoryLimit int                     `yaml:"history_limit"` // bounded recent-job history
}

// BudgetConfig caps the concurrency the process may spend. MaxParseWorkers
// sets the orchestrator's parse workers; MaxWatchQueue and AlertAt are
// validated but not read elsewhere (the watcher's notification buffer has
// a fixed size of 256).
type BudgetConfig struct {
	MaxParseWorkers int     `yaml:"max_parse_workers"`
	MaxWatchQueue   int     `yaml:"max_watch_queue"`
	AlertAt         float64 `yaml:"alert_at"` // Fraction (0-1) of queue depth
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Mode: "development",
		Graph: GraphConfig{
			URI:          "bolt://localhost:7687",
			Username:     "neo4j",
			Database:     "neo4j",
			QueryTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Cache: CacheConfig{
			Directory:  filepath.Join(homeDir, ".kgraph", "cache"),
			DefaultTTL: 15 * time.Minute,
			TTLByKind: map[string]time.Duration{
				"security":    15 * time.Minute,
				"complexity":  30 * time.Minute,
				"refactoring": 30 * time.Minute,
				"dataflow":    15 * time.Minute,
				"impact":      5 * time.Minute,
				"summary":     5 * time.Minute,
			},
		},
		Ingest: IngestConfig{
			DeepAnalysis:     false,
			IncludeExternals: true,
			ParseTimeout:     30 * time.Second,
			WriteTimeout:     30 * time.Second,
		},
		Watch: WatchConfig{
			DebounceMs:  500,
			StabilityMs: 300,
		},
		Analytics: AnalyticsConfig{
			OnIngestion:  TriggerConfig{Enabled: true, Analyses: []string{"summary", "complexity"}},
			OnFileChange: FileChangeTriggerConfig{Enabled: true, Analyses: []string{"complexity"}, DebounceMs: 5000},
			OnGitCommit:  TriggerConfig{Enabled: false},
			HistoryLimit: 50,
		},
		Budget: BudgetConfig{
			MaxParseWorkers: 20,
			MaxWatchQueue:   256,
			AlertAt:         0.80,
		},
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	// Load .env files first (in order of precedence)
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	// Set defaults
	cfg := Default()
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("graph", cfg.Graph)
	v.SetDefault("redis", cfg.Redis)
	v.SetDefault("cache", cfg.Cache)
	v.SetDefault("ingest", cfg.Ingest)
	v.SetDefault("watch", cfg.Watch)
	v.SetDefault("analytics", cfg.Analytics)
	v.SetDefault("budget", cfg.Budget)

	// Load from environment variables
	v.SetEnvPrefix("KGRAPH")
	v.AutomaticEnv()

	// Try to find config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search for config in standard locations
		v.SetConfigName("config")
		v.AddConfigPath(".kgraph")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".kgraph"))
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	// Unmarshal into struct, matching keys by the same yaml tags Save writes
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence
func loadEnvFiles() {
	envFiles := []string{
		".env.local",   // Local overrides (highest precedence)
		".env",         // Main environment file
		".env.example", // Example file as fallback
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			if err := godotenv.Load(file); err == nil {
				continue
			}
		}
	}

	// Also try loading from home directory
	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".kgraph", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) {
	// Graph configuration
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		cfg.Graph.URI = uri
	}
	if user := os.Getenv("NEO4J_USERNAME"); user != "" {
		cfg.Graph.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		cfg.Graph.Password = pass
	}
	if db := os.Getenv("NEO4J_DATABASE"); db != "" {
		cfg.Graph.Database = db
	}
	if timeout := os.Getenv("NEO4J_QUERY_TIMEOUT_SECONDS"); timeout != "" {
		if secs, err := strconv.Atoi(timeout); err == nil {
			cfg.Graph.QueryTimeout = time.Duration(secs) * time.Second
		}
	}

	// Redis configuration
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		cfg.Redis.Password = pass
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			cfg.Redis.DB = n
		}
	}

	// Cache configuration
	if dir := os.Getenv("CACHE_DIRECTORY"); dir != "" {
		cfg.Cache.Directory = expandPath(dir)
	}
	if ttl := os.Getenv("CACHE_DEFAULT_TTL_MINUTES"); ttl != "" {
		if minutes, err := strconv.Atoi(ttl); err == nil {
			cfg.Cache.DefaultTTL = time.Duration(minutes) * time.Minute
		}
	}

	// Ingest configuration
	if deep := os.Getenv("INGEST_DEEP_ANALYSIS"); deep != "" {
		cfg.Ingest.DeepAnalysis = deep == "true"
	}
	if ext := os.Getenv("INGEST_INCLUDE_EXTERNALS"); ext != "" {
		cfg.Ingest.IncludeExternals = ext == "true"
	}

	// Watch configuration
	if ms := os.Getenv("WATCH_DEBOUNCE_MS"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil {
			cfg.Watch.DebounceMs = n
		}
	}
	if ms := os.Getenv("WATCH_STABILITY_MS"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil {
			cfg.Watch.StabilityMs = n
		}
	}

	// Budget configuration
	if workers := os.Getenv("BUDGET_MAX_PARSE_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil {
			cfg.Budget.MaxParseWorkers = n
		}
	}
	if queue := os.Getenv("BUDGET_MAX_WATCH_QUEUE"); queue != "" {
		if n, err := strconv.Atoi(queue); err == nil {
			cfg.Budget.MaxWatchQueue = n
		}
	}

	// Mode configuration
	if mode := os.Getenv("KGRAPH_MODE"); mode != "" {
		cfg.Mode = mode
	}
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	// Convert struct to map for Viper
	v.Set("mode", c.Mode)
	v.Set("graph", c.Graph)
	v.Set("redis", c.Redis)
	v.Set("cache", c.Cache)
	v.Set("ingest", c.Ingest)
	v.Set("watch", c.Watch)
	v.Set("analytics", c.Analytics)
	v.Set("budget", c.Budget)

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write config file
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
