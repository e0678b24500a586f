// Package jobs holds the scheduled maintenance jobs run by the worker.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/chatquota/internal/worker"
)

// BucketPurger deletes quota buckets whose window ended before a cutoff.
type BucketPurger interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ExpireBucketsHandler removes durable quota buckets once they are older
// than the retention period. Expired buckets are never read again: the
// next charge in a new window rolls the row forward instead.
type ExpireBucketsHandler struct {
	store     BucketPurger
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewExpireBucketsHandler creates a new handler for the bucket sweep.
func NewExpireBucketsHandler(store BucketPurger, retention time.Duration, logger *slog.Logger) *ExpireBucketsHandler {
	return &ExpireBucketsHandler{
		store:     store,
		retention: retention,
		now:       time.Now,
		logger:    logger,
	}
}

// Type returns the job type identifier.
func (h *ExpireBucketsHandler) Type() string {
	return worker.JobTypeExpireQuotaBuckets
}

// Handle deletes every bucket whose window ended before now minus retention.
func (h *ExpireBucketsHandler) Handle(ctx context.Context) error {
	cutoff := h.now().UTC().Add(-h.retention)

	n, err := h.store.DeleteExpired(ctx, cutoff)
	if err != nil {
		return err
	}

	h.logger.Info("Expired quota buckets deleted", "count", n, "cutoff", cutoff)
	return nil
}

var _ worker.JobHandler = (*ExpireBucketsHandler)(nil)
