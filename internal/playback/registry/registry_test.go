package registry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client, *RedisRegistry) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	reg := NewRedisRegistry(client, nil, "", time.Minute)
	t.Cleanup(func() { _ = reg.Close() })
	return mr, client, reg
}

func implementations(t *testing.T) map[string]Registry {
	_, _, redisReg := setupTestRedis(t)
	return map[string]Registry{
		"redis":  redisReg,
		"memory": NewMemoryRegistry(),
	}
}

func TestRegistryLifecycle(t *testing.T) {
	for name, reg := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := &Session{ID: "s1", Status: StatusStarting, Backend: "native", VideoFormat: "h264 1280x720@30"}
			require.NoError(t, reg.Register(ctx, s))

			got, err := reg.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, StatusStarting, got.Status)
			assert.Equal(t, "native", got.Backend)
			assert.False(t, got.CreatedAt.IsZero())
			created := got.CreatedAt

			require.NoError(t, reg.UpdateStatus(ctx, "s1", StatusError, "decoder lost"))
			got, err = reg.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, StatusError, got.Status)
			assert.Equal(t, "decoder lost", got.Error)

			require.NoError(t, reg.UpdateStatus(ctx, "s1", StatusPlaying, ""))
			got, err = reg.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, StatusPlaying, got.Status)
			assert.Empty(t, got.Error)

			require.NoError(t, reg.UpdateStats(ctx, "s1", &SessionStats{AudioDecoded: 10, VideoDecoded: 4, Dropped: 1, VideoQueued: 2}))
			require.NoError(t, reg.UpdateHeartbeat(ctx, "s1"))
			got, err = reg.Get(ctx, "s1")
			require.NoError(t, err)
			require.NotNil(t, got.Stats)
			assert.Equal(t, uint64(10), got.Stats.AudioDecoded)
			assert.Equal(t, 2, got.Stats.VideoQueued)
			assert.Equal(t, StatusPlaying, got.Status, "heartbeat keeps the status")

			// Re-registering keeps the creation time.
			again := &Session{ID: "s1", Status: StatusPlaying}
			require.NoError(t, reg.Register(ctx, again))
			got, err = reg.Get(ctx, "s1")
			require.NoError(t, err)
			assert.True(t, created.Equal(got.CreatedAt))

			list, err := reg.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "s1", list[0].ID)

			require.NoError(t, reg.Unregister(ctx, "s1"))
			_, err = reg.Get(ctx, "s1")
			assert.ErrorIs(t, err, ErrSessionNotFound)
			assert.ErrorIs(t, reg.Unregister(ctx, "s1"), ErrSessionNotFound)
		})
	}
}

func TestRegistryUnknownSession(t *testing.T) {
	for name, reg := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			assert.ErrorIs(t, reg.UpdateHeartbeat(ctx, "nope"), ErrSessionNotFound)
			assert.ErrorIs(t, reg.UpdateStatus(ctx, "nope", StatusStopped, ""), ErrSessionNotFound)
			assert.ErrorIs(t, reg.UpdateStats(ctx, "nope", &SessionStats{}), ErrSessionNotFound)
			assert.Error(t, reg.UpdateStatus(ctx, "nope", "", ""))
			assert.Error(t, reg.Register(ctx, &Session{}))
		})
	}
}

func TestRedisRegistryExpiry(t *testing.T) {
	mr, client, reg := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, &Session{ID: "a", Status: StatusPlaying}))
	require.NoError(t, reg.Register(ctx, &Session{ID: "b", Status: StatusPlaying}))

	ttl := mr.TTL("nanoplay:sessions:a")
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(2 * time.Minute)
	require.NoError(t, reg.Register(ctx, &Session{ID: "b", Status: StatusPlaying}))

	list, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].ID)

	members, err := client.SMembers(ctx, "nanoplay:sessions:active").Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, members, "expired ids are pruned from the active set")
}

func TestRedisRegistryHeartbeatRefreshesTTL(t *testing.T) {
	mr, _, reg := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, &Session{ID: "a", Status: StatusPlaying}))
	mr.FastForward(50 * time.Second)
	require.NoError(t, reg.UpdateHeartbeat(ctx, "a"))
	mr.FastForward(50 * time.Second)

	_, err := reg.Get(ctx, "a")
	assert.NoError(t, err)
}

func TestRedisRegistryCustomPrefix(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	reg := NewRedisRegistry(client, nil, "test:", 0)
	defer reg.Close()

	require.NoError(t, reg.Register(context.Background(), &Session{ID: "x"}))
	assert.True(t, mr.Exists("test:x"))
	assert.Equal(t, 30*time.Second, mr.TTL("test:x"))
}
