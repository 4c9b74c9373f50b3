package vectorsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout 等待锁超时
var ErrLockTimeout = errors.New("timed out waiting for document lock")

// Locker 按 (storeID, sourceType, sourceID) 串行化替换上传
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// NoopLocker 不加锁
type NoopLocker struct{}

// Lock 直接返回
func (NoopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

// 只有持有者才能释放
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 基于 SET NX 的分布式锁
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewRedisLocker 创建 Redis 锁。ttl 应覆盖一次上传加轮询的最长耗时
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{
		client: client,
		prefix: "next-sync:lock:",
		ttl:    ttl,
		wait:   wait,
		retry:  100 * time.Millisecond,
	}
}

// Lock 获取锁，wait 内拿不到返回 ErrLockTimeout
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.New().String()
	fullKey := l.prefix + key
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	return func() {
		// 释放时不受调用方 ctx 取消影响
		_ = releaseScript.Run(context.Background(), l.client, []string{fullKey}, token).Err()
	}, nil
}

func lockKey(storeID string, sourceType string, sourceID string) string {
	return storeID + ":" + sourceType + ":" + sourceID
}
