package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationContext specifies what configuration is required
type ValidationContext string

const (
	// ValidationContextIngest - one-shot and watch-mode ingestion require the graph
	ValidationContextIngest ValidationContext = "ingest"
	// ValidationContextServer - the query service requires the graph and cache
	ValidationContextServer ValidationContext = "server"
	// ValidationContextAll - validate all configuration
	ValidationContextAll ValidationContext = "all"
)

// KnownAnalysisKinds is the closed set of analysis kinds the scheduler
// recognizes. Unknown kinds in any trigger's analysis list are a
// validation error, not a silent skip.
var KnownAnalysisKinds = []string{
	"summary", "security", "complexity", "refactoring", "dataflow", "impact",
}

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n")
	for _, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  ❌ %s\n", err))
	}

	if len(vr.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, warn := range vr.Warnings {
			sb.WriteString(fmt.Sprintf("  ⚠️  %s\n", warn))
		}
	}

	return sb.String()
}

// Validate validates configuration for the given context with auto-detected mode
func (c *Config) Validate(ctx ValidationContext) *ValidationResult {
	mode := DetectMode()
	return c.ValidateWithMode(ctx, mode)
}

// ValidateWithMode validates configuration for the given context and deployment mode
func (c *Config) ValidateWithMode(ctx ValidationContext, mode DeploymentMode) *ValidationResult {
	result := &ValidationResult{Valid: true}

	switch ctx {
	case ValidationContextIngest:
		c.validateGraph(result, true, mode)
		c.validateIngest(result)
		c.validateWatch(result)
	case ValidationContextServer:
		c.validateGraph(result, true, mode)
		c.validateCache(result)
		c.validateRedis(result)
		c.validateAnalytics(result)
	case ValidationContextAll:
		c.validateGraph(result, true, mode)
		c.validateIngest(result)
		c.validateWatch(result)
		c.validateCache(result)
		c.validateRedis(result)
		c.validateAnalytics(result)
		c.validateBudget(result)
	}

	return result
}

func (c *Config) validateGraph(result *ValidationResult, required bool, mode DeploymentMode) {
	if c.Graph.URI == "" {
		if required {
			result.AddError("NEO4J_URI is required but not set")
		} else {
			result.AddWarning("NEO4J_URI is not set")
		}
	} else {
		// Validate URI format
		if _, err := url.Parse(c.Graph.URI); err != nil {
			result.AddError("NEO4J_URI is invalid: %v", err)
		}

		// Check for localhost URI - only matters in packaged/CI mode
		if strings.Contains(c.Graph.URI, "localhost") && mode.RequiresSecureCredentials() {
			result.AddError("Neo4j URI uses localhost. In %s mode (%s), you must provide a remote database URI.", mode, mode.Description())
		}
	}

	if c.Graph.Username == "" {
		if required {
			result.AddError("NEO4J_USERNAME is required but not set")
		} else {
			result.AddWarning("NEO4J_USERNAME is not set")
		}
	}

	if c.Graph.Password == "" {
		if required {
			result.AddError("NEO4J_PASSWORD is required but not set. Set it via environment variable or .env file.")
		} else {
			result.AddWarning("NEO4J_PASSWORD is not set")
		}
	} else {
		// Check for insecure default passwords - MODE-AWARE
		insecurePasswords := []string{
			"kgraph123",
			"CHANGE_THIS_PASSWORD_IN_PRODUCTION_123",
			"password",
			"neo4j",
		}

		// In packaged/CI mode, reject any insecure defaults
		if mode.RequiresSecureCredentials() {
			for _, insecure := range insecurePasswords {
				if c.Graph.Password == insecure {
					result.AddError("NEO4J_PASSWORD is set to an insecure default (%s). This is not allowed in %s mode.", insecure, mode)
				}
			}
		} else if mode.AllowsDevelopmentDefaults() {
			// In development mode, .env defaults are acceptable for local Docker
			// Only warn if using extremely common passwords
			veryInsecure := []string{"password", "neo4j"}
			for _, insecure := range veryInsecure {
				if c.Graph.Password == insecure {
					result.AddWarning("NEO4J_PASSWORD is set to a very common password (%s). Consider changing it even for local development.", insecure)
				}
			}
		}
	}

	if c.Graph.Database == "" {
		result.AddWarning("NEO4J_DATABASE is not set, will use 'neo4j' as default")
	}
}

func (c *Config) validateRedis(result *ValidationResult) {
	if !c.Redis.Enabled {
		return
	}
	if c.Redis.Addr == "" {
		result.AddError("Redis is enabled but REDIS_ADDR is not set")
	}
}

func (c *Config) validateCache(result *ValidationResult) {
	if c.Cache.Directory == "" {
		result.AddError("cache directory is not set")
	}
	if c.Cache.DefaultTTL <= 0 {
		result.AddError("cache default TTL must be positive, got %v", c.Cache.DefaultTTL)
	}
	for kind, ttl := range c.Cache.TTLByKind {
		if !isKnownAnalysisKind(kind) {
			result.AddError("cache TTL configured for unknown analysis kind %q", kind)
		}
		if ttl <= 0 {
			result.AddError("cache TTL for %q must be positive, got %v", kind, ttl)
		}
	}
}

func (c *Config) validateIngest(result *ValidationResult) {
	if c.Ingest.ParseTimeout <= 0 {
		result.AddError("ingest parse timeout must be positive, got %v", c.Ingest.ParseTimeout)
	}
	if c.Ingest.WriteTimeout <= 0 {
		result.AddError("ingest write timeout must be positive, got %v", c.Ingest.WriteTimeout)
	}
	for _, ext := range c.Ingest.Extensions {
		if !strings.HasPrefix(ext, ".") {
			result.AddError("ingest extension %q must start with a dot", ext)
		}
	}
}

func (c *Config) validateWatch(result *ValidationResult) {
	if c.Watch.DebounceMs < 0 {
		result.AddError("watch debounce must be non-negative, got %d", c.Watch.DebounceMs)
	}
	if c.Watch.StabilityMs < 0 {
		result.AddError("watch stability must be non-negative, got %d", c.Watch.StabilityMs)
	}
}

func (c *Config) validateAnalytics(result *ValidationResult) {
	checkKinds := func(trigger string, analyses []string) {
		for _, kind := range analyses {
			if !isKnownAnalysisKind(kind) {
				result.AddError("analytics %s trigger names unknown analysis kind %q", trigger, kind)
			}
		}
	}
	checkKinds("on_ingestion", c.Analytics.OnIngestion.Analyses)
	checkKinds("on_file_change", c.Analytics.OnFileChange.Analyses)
	checkKinds("on_git_commit", c.Analytics.OnGitCommit.Analyses)
	for i, p := range c.Analytics.Periodic {
		checkKinds(fmt.Sprintf("periodic[%d]", i), p.Analyses)
		if p.Enabled && p.Every <= 0 {
			result.AddError("analytics periodic[%d] interval must be positive, got %v", i, p.Every)
		}
	}
	if c.Analytics.OnFileChange.Enabled && c.Analytics.OnFileChange.DebounceMs < 0 {
		result.AddError("analytics on_file_change debounce must be non-negative, got %d", c.Analytics.OnFileChange.DebounceMs)
	}
	if c.Analytics.HistoryLimit < 0 {
		result.AddError("analytics history limit must be non-negative, got %d", c.Analytics.HistoryLimit)
	}
}

func (c *Config) validateBudget(result *ValidationResult) {
	if c.Budget.MaxParseWorkers <= 0 {
		result.AddError("budget max parse workers must be positive, got %d", c.Budget.MaxParseWorkers)
	}
	if c.Budget.MaxWatchQueue <= 0 {
		result.AddError("budget max watch queue must be positive, got %d", c.Budget.MaxWatchQueue)
	}
	if c.Budget.AlertAt < 0 || c.Budget.AlertAt > 1 {
		result.AddWarning("budget alert threshold should be between 0 and 1, got %.2f", c.Budget.AlertAt)
	}
}

func isKnownAnalysisKind(kind string) bool {
	for _, k := range KnownAnalysisKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// RequireGraph returns an error if the graph connection settings are
// incomplete; used by entrypoints that cannot run without the store.
func (c *Config) RequireGraph() error {
	if c.Graph.URI == "" || c.Graph.Username == "" || c.Graph.Password == "" {
		return fmt.Errorf("graph database configuration incomplete: NEO4J_URI, NEO4J_USERNAME and NEO4J_PASSWORD are required")
	}
	return nil
}
