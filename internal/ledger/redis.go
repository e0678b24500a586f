package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/DukeRupert/chatquota/internal/domain"
	"github.com/redis/go-redis/v9"
)

// checkAndIncrementScript rolls the bucket forward when its window has
// ended, then consumes one unit if below the limit. Redis runs scripts
// atomically, so concurrent callers are serialized here.
//
// KEYS[1] bucket; ARGV limit, window_start_ms, window_end_ms, now_ms.
// Returns {allowed, count, window_start_ms, window_end_ms}.
var checkAndIncrementScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local ws = tonumber(ARGV[2])
local we = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local b = redis.call('HMGET', KEYS[1], 'count', 'window_start', 'window_end')
local count = tonumber(b[1])
local start = tonumber(b[2])
local stop = tonumber(b[3])

if count == nil or start == nil or stop == nil or now >= stop then
  count = 0
  start = ws
  stop = we
end

local allowed = 0
if limit > 0 and count < limit then
  count = count + 1
  allowed = 1
end

redis.call('HSET', KEYS[1], 'count', count, 'window_start', start, 'window_end', stop)
local ttl = stop - now
if ttl < 1 then
  ttl = 1
end
redis.call('PEXPIRE', KEYS[1], ttl)

return {allowed, count, start, stop}
`)

// rekeyScript moves a live bucket from KEYS[1] onto KEYS[2], adding to a
// live target bucket. ARGV now_ms. Returns the number of buckets moved.
var rekeyScript = redis.NewScript(`
local now = tonumber(ARGV[1])

local g = redis.call('HMGET', KEYS[1], 'count', 'window_start', 'window_end')
local gcount = tonumber(g[1])
local gstop = tonumber(g[3])
if gcount == nil or gstop == nil then
  return 0
end
if now >= gstop then
  redis.call('DEL', KEYS[1])
  return 0
end

local u = redis.call('HMGET', KEYS[2], 'count', 'window_start', 'window_end')
local ucount = tonumber(u[1])
local ustop = tonumber(u[3])
if ucount ~= nil and ustop ~= nil and now < ustop then
  redis.call('HINCRBY', KEYS[2], 'count', gcount)
else
  redis.call('HSET', KEYS[2], 'count', gcount, 'window_start', g[2], 'window_end', g[3])
  local ttl = gstop - now
  if ttl < 1 then
    ttl = 1
  end
  redis.call('PEXPIRE', KEYS[2], ttl)
end

redis.call('DEL', KEYS[1])
return 1
`)

// RedisStore is the fast ledger layer.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed ledger layer. Keys are written as
// <prefix>:<resource>:<identity key>.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "quota"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

// Layer implements Store.
func (s *RedisStore) Layer() domain.Layer {
	return domain.LayerCache
}

func (s *RedisStore) key(resource domain.ResourceType, identityKey string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, resource, identityKey)
}

// CheckAndIncrement implements Store.
func (s *RedisStore) CheckAndIncrement(ctx context.Context, key string, resource domain.ResourceType, limit int, w Window, now time.Time) (Result, error) {
	const op = "ledger.redis.check_and_increment"

	raw, err := checkAndIncrementScript.Run(ctx, s.client,
		[]string{s.key(resource, key)},
		storeLimit(limit),
		w.Start.UnixMilli(),
		w.End.UnixMilli(),
		now.UnixMilli(),
	).Int64Slice()
	if err != nil {
		return Result{}, domain.Unavailable(err, op, "failed to run quota script")
	}
	if len(raw) != 4 {
		return Result{}, domain.Unavailable(fmt.Errorf("unexpected reply length %d", len(raw)), op, "malformed quota script reply")
	}

	return newResult(
		raw[0] == 1,
		int(raw[1]),
		limit,
		time.UnixMilli(raw[2]).UTC(),
		time.UnixMilli(raw[3]).UTC(),
		domain.LayerCache,
	), nil
}

// Peek implements Store. It only issues HMGET.
func (s *RedisStore) Peek(ctx context.Context, key string, resource domain.ResourceType, limit int, w Window, now time.Time) (Result, error) {
	const op = "ledger.redis.peek"

	vals, err := s.client.HMGet(ctx, s.key(resource, key), "count", "window_start", "window_end").Result()
	if err != nil {
		return Result{}, domain.Unavailable(err, op, "failed to read quota")
	}

	count, start, end, ok := parseBucket(vals)
	if !ok || !now.Before(end) {
		count, start, end = 0, w.Start, w.End
	}

	allowed := limit > 0 && count < limit
	return newResult(allowed, count, limit, start, end, domain.LayerCache), nil
}

// Rekey moves the buckets of one identity onto another. Called before the
// durable migration transaction commits.
func (s *RedisStore) Rekey(ctx context.Context, resource domain.ResourceType, fromKey, toKey string, now time.Time) (int64, error) {
	const op = "ledger.redis.rekey"

	moved, err := rekeyScript.Run(ctx, s.client,
		[]string{s.key(resource, fromKey), s.key(resource, toKey)},
		now.UnixMilli(),
	).Int64()
	if err != nil {
		return 0, domain.Unavailable(err, op, "failed to re-key quota bucket")
	}
	return moved, nil
}

// parseBucket decodes an HMGET reply of count, window_start, window_end.
func parseBucket(vals []interface{}) (count int, start, end time.Time, ok bool) {
	if len(vals) != 3 {
		return 0, time.Time{}, time.Time{}, false
	}
	nums := make([]int64, 3)
	for i, v := range vals {
		s, isString := v.(string)
		if !isString {
			return 0, time.Time{}, time.Time{}, false
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, time.Time{}, time.Time{}, false
		}
		nums[i] = n
	}
	return int(nums[0]), time.UnixMilli(nums[1]).UTC(), time.UnixMilli(nums[2]).UTC(), true
}
