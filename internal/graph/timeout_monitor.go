package graph

import (
	"context"
	"log/slog"
	"time"
)

// TimeoutMonitor bounds query execution and warns when a query is
// approaching its deadline, so a slow BatchUpsert or read surfaces in
// the logs before it actually times out.
type TimeoutMonitor struct {
	logger       *slog.Logger
	warningRatio float64 // Warn when execution reaches this % of timeout
}

// NewTimeoutMonitor creates a monitor with default settings
func NewTimeoutMonitor() *TimeoutMonitor {
	return &TimeoutMonitor{
		logger:       slog.Default().With("component", "timeout_monitor"),
		warningRatio: 0.8, // Warn at 80% of timeout
	}
}

// MonitorWithContext wraps an operation with a context deadline,
// cancelling it if it exceeds timeout. Every query exec issues runs
// under this wrapper:
//
//	err := monitor.MonitorWithContext(ctx, "MERGE", defaultQueryTimeout, func(ctx context.Context) error {
//	  _, execErr := neo4j.ExecuteQuery(ctx, driver, query, params, ...)
//	  return execErr
//	})
func (tm *TimeoutMonitor) MonitorWithContext(
	ctx context.Context,
	operation string,
	timeout time.Duration,
	fn func(context.Context) error,
) error {
	// Create context with timeout
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	// Execute with timeout context
	err := fn(timeoutCtx)
	duration := time.Since(start)

	// Log results
	if err != nil {
		if timeoutCtx.Err() == context.DeadlineExceeded {
			tm.logger.Error("operation timed out",
				"operation", operation,
				"duration_seconds", duration.Seconds(),
				"timeout_seconds", timeout.Seconds())
		} else {
			tm.logger.Warn("operation failed",
				"operation", operation,
				"duration_seconds", duration.Seconds(),
				"error", err)
		}
		return err
	}

	// Warn if using significant portion of timeout
	warningThreshold := time.Duration(float64(timeout) * tm.warningRatio)
	if duration >= warningThreshold {
		percentUsed := (duration.Seconds() / timeout.Seconds()) * 100
		tm.logger.Warn("operation approaching timeout",
			"operation", operation,
			"duration_seconds", duration.Seconds(),
			"timeout_seconds", timeout.Seconds(),
			"percent_used", percentUsed)
	} else {
		tm.logger.Debug("operation completed",
			"operation", operation,
			"duration_seconds", duration.Seconds())
	}

	return nil
}
