package vectorsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwinyue/next-sync/internal/config"
)

func setupLocker(t *testing.T, wait time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client, time.Minute, wait), s
}

func TestRedisLocker_Exclusive(t *testing.T) {
	locker, s := setupLocker(t, 150*time.Millisecond)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "S:kb:1")
	require.NoError(t, err)
	assert.True(t, s.Exists("next-sync:lock:S:kb:1"))

	_, err = locker.Lock(ctx, "S:kb:1")
	assert.True(t, errors.Is(err, ErrLockTimeout))

	other, err := locker.Lock(ctx, "S:kb:2")
	require.NoError(t, err)
	other()

	unlock()
	assert.False(t, s.Exists("next-sync:lock:S:kb:1"))

	again, err := locker.Lock(ctx, "S:kb:1")
	require.NoError(t, err)
	again()
}

func TestRedisLocker_UnlockOnlyOwnToken(t *testing.T) {
	locker, s := setupLocker(t, 0)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "k")
	require.NoError(t, err)

	// 锁过期后被别人拿走，旧持有者释放不能删掉新锁
	s.FastForward(2 * time.Minute)
	require.NoError(t, s.Set("next-sync:lock:k", "someone-else"))
	unlock()

	got, err := s.Get("next-sync:lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLocker_ContextCanceled(t *testing.T) {
	locker, _ := setupLocker(t, time.Minute)
	_, err := locker.Lock(context.Background(), "busy")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locker.Lock(ctx, "busy")
	assert.Error(t, err)
}

func TestUpload_UsesLockerWhenEnabled(t *testing.T) {
	locker, s := setupLocker(t, 50*time.Millisecond)
	h := newHarness(t, func(c *config.SyncConfig) { c.KeyLock = true }, consultantStore("S", "C1"))
	h.svc.locker = locker

	// 预先占住锁，上传应失败且不调用远程
	require.NoError(t, s.Set("next-sync:lock:S:knowledge_base:kb-1", "held"))
	res, err := h.svc.UploadFromContent(context.Background(), "x", kbRequest("kb-1"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrLockTimeout)
	assert.Zero(t, h.remote.uploads)

	s.Del("next-sync:lock:S:knowledge_base:kb-1")
	res, err = h.svc.UploadFromContent(context.Background(), "x", kbRequest("kb-1"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, s.Exists("next-sync:lock:S:knowledge_base:kb-1"), "lock released after upload")
}

func TestNoopLocker(t *testing.T) {
	unlock, err := NoopLocker{}.Lock(context.Background(), "anything")
	require.NoError(t, err)
	unlock()
}
