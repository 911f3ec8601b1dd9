package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := rdb.NewClient(&rdb.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(client, "rl"), mr
}

func TestAllow_CountsDownThenBlocks(t *testing.T) {
	lim, _ := newLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := lim.Allow(ctx, "login:10.0.0.1", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, res.Allowed, "hit %d should pass", i+1)
		require.Equal(t, int64(3-i-1), res.Remaining)
	}

	res, err := lim.Allow(ctx, "login:10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, int64(0), res.Remaining)
	require.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	lim, _ := newLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := lim.Allow(ctx, "login:10.0.0.1", 5, time.Minute)
		require.NoError(t, err)
	}
	blocked, err := lim.Allow(ctx, "login:10.0.0.1", 5, time.Minute)
	require.NoError(t, err)
	require.False(t, blocked.Allowed)

	other, err := lim.Allow(ctx, "login:10.0.0.2", 5, time.Minute)
	require.NoError(t, err)
	require.True(t, other.Allowed, "a different IP must not share the window")
}

func TestAllow_WindowKeyExpires(t *testing.T) {
	lim, mr := newLimiter(t)
	ctx := context.Background()

	res, err := lim.Allow(ctx, "reset:10.0.0.9", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	// the counter key must carry the window TTL so stale windows self-clean
	keys := mr.Keys()
	require.Len(t, keys, 1)
	require.Greater(t, mr.TTL(keys[0]), time.Duration(0))
}
