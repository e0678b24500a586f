// Package ledger counts metered usage per identity and window.
//
// Each Store is one backing layer and owns the atomicity of its own
// check-and-increment: a row lock in Postgres, a Lua script in Redis. No
// store keeps counters in process memory, so any number of server
// processes can share a ledger.
//
// Ledger chains stores in failover order and never returns an error: when
// every layer fails it fails open and logs the outage.
package ledger

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/DukeRupert/chatquota/internal/domain"
	"github.com/DukeRupert/chatquota/internal/metrics"
)

// Result is the state of a bucket after a ledger call.
type Result struct {
	Allowed     bool
	Count       int
	Limit       int
	Remaining   int
	WindowStart time.Time
	WindowEnd   time.Time
	Layer       domain.Layer
}

// Store is one backing layer of the ledger.
type Store interface {
	// CheckAndIncrement consumes one unit if the bucket is below limit,
	// as a single atomic operation in the store.
	CheckAndIncrement(ctx context.Context, key string, resource domain.ResourceType, limit int, w Window, now time.Time) (Result, error)

	// Peek reports the bucket without changing it.
	Peek(ctx context.Context, key string, resource domain.ResourceType, limit int, w Window, now time.Time) (Result, error)

	// Layer names the store in results and response headers.
	Layer() domain.Layer
}

// Ensure interface compliance at compile time.
var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*RedisStore)(nil)
)

// Ledger tries each store in order and returns the first answer.
type Ledger struct {
	stores []Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger over stores, tried in the given order.
func New(logger *slog.Logger, stores []Store, opts ...Option) *Ledger {
	l := &Ledger{
		stores: stores,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Layers returns the configured layers in order.
func (l *Ledger) Layers() []domain.Layer {
	layers := make([]domain.Layer, 0, len(l.stores))
	for _, s := range l.stores {
		layers = append(layers, s.Layer())
	}
	return layers
}

// CheckAndIncrement consumes one unit of resource for key.
func (l *Ledger) CheckAndIncrement(ctx context.Context, key string, resource domain.ResourceType, limit, windowHours int) Result {
	return l.do(ctx, "check_and_increment", key, resource, limit, windowHours, Store.CheckAndIncrement)
}

// Peek reports the bucket for key without consuming anything.
func (l *Ledger) Peek(ctx context.Context, key string, resource domain.ResourceType, limit, windowHours int) Result {
	return l.do(ctx, "peek", key, resource, limit, windowHours, Store.Peek)
}

type storeCall func(Store, context.Context, string, domain.ResourceType, int, Window, time.Time) (Result, error)

func (l *Ledger) do(ctx context.Context, op, key string, resource domain.ResourceType, limit, windowHours int, call storeCall) Result {
	now := l.now()
	w := WindowFor(now, windowHours)

	for i, s := range l.stores {
		res, err := call(s, ctx, key, resource, limit, w, now)
		if err == nil {
			return res
		}

		metrics.LedgerErrors.WithLabelValues(string(s.Layer()), op).Inc()
		if i < len(l.stores)-1 {
			l.logger.Warn("ledger layer failed, trying next",
				"layer", s.Layer(),
				"op", op,
				"resource", resource,
				"error", err,
			)
		} else {
			l.logger.Error("ledger unavailable, failing open",
				"layer", s.Layer(),
				"op", op,
				"resource", resource,
				"error", err,
			)
		}
	}

	metrics.QuotaFailOpen.WithLabelValues(op).Inc()
	return failOpen(limit, w)
}

// failOpen is the in-process answer used when no store could respond. A
// non-positive limit still denies.
func failOpen(limit int, w Window) Result {
	return Result{
		Allowed:     limit > 0,
		Count:       0,
		Limit:       limit,
		Remaining:   max(limit, 0),
		WindowStart: w.Start,
		WindowEnd:   w.End,
		Layer:       domain.LayerFailOpen,
	}
}

func newResult(allowed bool, count, limit int, start, end time.Time, layer domain.Layer) Result {
	return Result{
		Allowed:     allowed,
		Count:       count,
		Limit:       limit,
		Remaining:   max(limit-count, 0),
		WindowStart: start,
		WindowEnd:   end,
		Layer:       layer,
	}
}

// storeLimit clamps limit to what the stores can hold.
func storeLimit(limit int) int32 {
	if limit > math.MaxInt32 {
		return math.MaxInt32
	}
	if limit < 0 {
		return 0
	}
	return int32(limit)
}
