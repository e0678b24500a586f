package worker

import (
	"context"
)

// Job type identifiers. They label job metrics and logs.
const (
	JobTypeExpireQuotaBuckets = "expire_quota_buckets"
)

// JobHandler defines the interface that all scheduled jobs must implement.
type JobHandler interface {
	// Type returns the job type identifier used in logs and metrics.
	Type() string

	// Handle runs the job once. The context carries the job timeout.
	Handle(ctx context.Context) error
}
