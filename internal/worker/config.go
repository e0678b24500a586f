package worker

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds the configuration for the background job scheduler.
type Config struct {
	// CleanupSchedule is the cron expression (standard five fields, UTC) for
	// the expired quota bucket sweep.
	// Default: @hourly
	CleanupSchedule string

	// Retention is how long a quota bucket is kept after its window ends.
	// Default: 48 hours
	Retention time.Duration

	// JobTimeout is the maximum time a single job run is allowed to take.
	// If a run exceeds this timeout, its context is canceled and it's recorded as failed.
	// Default: 5 minutes
	JobTimeout time.Duration

	// ShutdownTimeout is how long to wait for running jobs to complete during graceful shutdown.
	// Default: 30 seconds
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		CleanupSchedule: "@hourly",
		Retention:       48 * time.Hour,
		JobTimeout:      5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if _, err := cron.ParseStandard(c.CleanupSchedule); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", c.CleanupSchedule, err)
	}
	if c.Retention < time.Hour {
		return fmt.Errorf("retention must be at least 1 hour, got %v", c.Retention)
	}
	if c.JobTimeout < 1*time.Second {
		return fmt.Errorf("job timeout must be at least 1 second, got %v", c.JobTimeout)
	}
	if c.ShutdownTimeout < 1*time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	}
	return nil
}
