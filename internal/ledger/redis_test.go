package ledger

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DukeRupert/chatquota/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client, "quota"), mr
}

func TestRedisStore_SequentialCallsDenyAfterLimit(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()
	w := WindowFor(testNow, 24)

	for i := 1; i <= 5; i++ {
		res, err := store.CheckAndIncrement(ctx, "guest:abc", domain.ResourceChatMessage, 5, w, testNow)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "call %d", i)
		assert.Equal(t, i, res.Count)
		assert.Equal(t, 5-i, res.Remaining)
		assert.Equal(t, w.End, res.WindowEnd)
	}

	res, err := store.CheckAndIncrement(ctx, "guest:abc", domain.ResourceChatMessage, 5, w, testNow)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 5, res.Count)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, domain.LayerCache, res.Layer)
}

func TestRedisStore_ConcurrentCallsNeverExceedLimit(t *testing.T) {
	store, _ := setupRedisStore(t)
	w := WindowFor(testNow, 24)
	const limit = 20

	var allowed atomic.Int64
	var g errgroup.Group
	for i := 0; i < limit+5; i++ {
		g.Go(func() error {
			res, err := store.CheckAndIncrement(context.Background(), "user:1", domain.ResourceChatMessage, limit, w, testNow)
			if err != nil {
				return err
			}
			if res.Allowed {
				allowed.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(limit), allowed.Load())

	res, err := store.Peek(context.Background(), "user:1", domain.ResourceChatMessage, limit, w, testNow)
	require.NoError(t, err)
	assert.Equal(t, limit, res.Count)
}

func TestRedisStore_ZeroLimitAlwaysDenied(t *testing.T) {
	store, _ := setupRedisStore(t)
	w := WindowFor(testNow, 24)

	res, err := store.CheckAndIncrement(context.Background(), "guest:abc", domain.ResourceChatMessage, 0, w, testNow)
	require.NoError(t, err)

	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Count)
	assert.Equal(t, 0, res.Remaining)
}

func TestRedisStore_WindowRollsForward(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()
	w := WindowFor(testNow, 24)

	for i := 0; i < 5; i++ {
		_, err := store.CheckAndIncrement(ctx, "guest:abc", domain.ResourceChatMessage, 5, w, testNow)
		require.NoError(t, err)
	}

	tomorrow := testNow.Add(24 * time.Hour)
	next := WindowFor(tomorrow, 24)
	res, err := store.CheckAndIncrement(ctx, "guest:abc", domain.ResourceChatMessage, 5, next, tomorrow)
	require.NoError(t, err)

	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, next.Start, res.WindowStart)
}

func TestRedisStore_PeekDoesNotConsume(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()
	w := WindowFor(testNow, 24)

	res, err := store.Peek(ctx, "user:1", domain.ResourceChatMessage, 20, w, testNow)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
	assert.Equal(t, 20, res.Remaining)
	assert.Equal(t, w.End, res.WindowEnd)

	_, err = store.CheckAndIncrement(ctx, "user:1", domain.ResourceChatMessage, 20, w, testNow)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err = store.Peek(ctx, "user:1", domain.ResourceChatMessage, 20, w, testNow)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Count)
		assert.Equal(t, 19, res.Remaining)
	}
}

func TestRedisStore_PeekIgnoresEndedWindow(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()
	w := WindowFor(testNow, 24)

	_, err := store.CheckAndIncrement(ctx, "user:1", domain.ResourceChatMessage, 20, w, testNow)
	require.NoError(t, err)

	later := testNow.Add(48 * time.Hour)
	res, err := store.Peek(ctx, "user:1", domain.ResourceChatMessage, 20, WindowFor(later, 24), later)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
}

func TestRedisStore_RekeyMergesIntoLiveUserBucket(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()
	w := WindowFor(testNow, 24)

	for i := 0; i < 3; i++ {
		_, err := store.CheckAndIncrement(ctx, "guest:abc", domain.ResourceChatMessage, 5, w, testNow)
		require.NoError(t, err)
	}
	_, err := store.CheckAndIncrement(ctx, "user:1", domain.ResourceChatMessage, 20, w, testNow)
	require.NoError(t, err)

	moved, err := store.Rekey(ctx, domain.ResourceChatMessage, "guest:abc", "user:1", testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)
	assert.False(t, mr.Exists("quota:chat_message:guest:abc"))

	res, err := store.Peek(ctx, "user:1", domain.ResourceChatMessage, 20, w, testNow)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Count)

	moved, err = store.Rekey(ctx, domain.ResourceChatMessage, "guest:abc", "user:1", testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(0), moved)
}

func TestRedisStore_RekeyRenamesWhenUserHasNoBucket(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()
	w := WindowFor(testNow, 24)

	_, err := store.CheckAndIncrement(ctx, "guest:abc", domain.ResourceChatMessage, 5, w, testNow)
	require.NoError(t, err)

	moved, err := store.Rekey(ctx, domain.ResourceChatMessage, "guest:abc", "user:1", testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	res, err := store.Peek(ctx, "user:1", domain.ResourceChatMessage, 20, w, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, w.End, res.WindowEnd)
}

func TestRedisStore_UnavailableServer(t *testing.T) {
	store, mr := setupRedisStore(t)
	mr.Close()

	_, err := store.CheckAndIncrement(context.Background(), "guest:abc", domain.ResourceChatMessage, 5, WindowFor(testNow, 24), testNow)

	assert.True(t, domain.IsUnavailable(err))
}

func TestLedger_RedisOutageFallsBackToSecondLayer(t *testing.T) {
	store, mr := setupRedisStore(t)
	mr.Close()
	db := &stubStore{layer: domain.LayerDatabase}

	l := newTestLedger(store, db)
	res := l.CheckAndIncrement(context.Background(), "guest:abc", domain.ResourceChatMessage, 5, 24)

	assert.True(t, res.Allowed)
	assert.Equal(t, domain.LayerDatabase, res.Layer)
	assert.Equal(t, 1, db.calls)
}
