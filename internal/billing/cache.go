package billing

import (
	"context"
	"time"

	"github.com/DukeRupert/chatquota/internal/domain"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Cache defaults used when the configured values are not positive.
const (
	DefaultCacheSize = 10000
	DefaultCacheTTL  = 30 * time.Second
)

// cachedSubscription wraps a lookup so "no subscription" can be cached too.
type cachedSubscription struct {
	record *domain.SubscriptionRecord
}

// CachedReader keeps recent lookups in a bounded, expiring LRU and collapses
// concurrent misses for the same user into one read. Failed reads are never
// cached.
type CachedReader struct {
	next  Reader
	cache *lru.LRU[uuid.UUID, cachedSubscription]
	group singleflight.Group
}

// NewCachedReader wraps next with a cache of size entries living for ttl.
func NewCachedReader(next Reader, size int, ttl time.Duration) *CachedReader {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedReader{
		next:  next,
		cache: lru.NewLRU[uuid.UUID, cachedSubscription](size, nil, ttl),
	}
}

// ReadSubscription implements Reader.
func (c *CachedReader) ReadSubscription(ctx context.Context, userID uuid.UUID) (*domain.SubscriptionRecord, error) {
	if hit, ok := c.cache.Get(userID); ok {
		return copyRecord(hit.record), nil
	}

	v, err, _ := c.group.Do(userID.String(), func() (interface{}, error) {
		rec, err := c.next.ReadSubscription(ctx, userID)
		if err != nil {
			return nil, err
		}
		c.cache.Add(userID, cachedSubscription{record: rec})
		return rec, nil
	})
	if err != nil {
		return nil, err
	}

	return copyRecord(v.(*domain.SubscriptionRecord)), nil
}

// copyRecord keeps callers from mutating cached entries.
func copyRecord(rec *domain.SubscriptionRecord) *domain.SubscriptionRecord {
	if rec == nil {
		return nil
	}
	cp := *rec
	cp.CurrentPeriodEnd = copyTime(rec.CurrentPeriodEnd)
	cp.NextBillingAt = copyTime(rec.NextBillingAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
