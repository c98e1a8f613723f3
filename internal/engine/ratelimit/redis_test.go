package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "zyphon:ratelimit:"), mr
}

func TestRedisStore_FixedWindow(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		w, err := s.Hit(ctx, "image:key_1:10.0.0.1", 10, time.Hour)
		require.NoError(t, err)
		assert.True(t, w.Admitted, "hit %d", i)
		assert.Equal(t, i, w.Count)
	}

	w, err := s.Hit(ctx, "image:key_1:10.0.0.1", 10, time.Hour)
	require.NoError(t, err)
	assert.False(t, w.Admitted)
	assert.Equal(t, 10, w.Count)

	got, err := mr.Get("zyphon:ratelimit:image:key_1:10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "10", got)
	assert.Greater(t, mr.TTL("zyphon:ratelimit:image:key_1:10.0.0.1"), 59*time.Minute)

	mr.FastForward(time.Hour)

	w, err = s.Hit(ctx, "image:key_1:10.0.0.1", 10, time.Hour)
	require.NoError(t, err)
	assert.True(t, w.Admitted)
	assert.Equal(t, 1, w.Count)
}

func TestRedisStore_ResetAtFollowsTTL(t *testing.T) {
	s, _ := newRedisStore(t)
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }

	w, err := s.Hit(context.Background(), "k", 5, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*time.Second), w.ResetAt)
}

func TestRedisStore_Unavailable(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.Close()

	_, err := s.Hit(context.Background(), "k", 5, time.Minute)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
