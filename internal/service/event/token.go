package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	ErrTokenInvalid = errors.New("progress token is invalid")
	ErrTokenExpired = errors.New("progress token has expired")
)

// Grant 进度令牌授予的权限：某个租户订阅某个通道
type Grant struct {
	TenantID  string    `json:"tenant_id"`
	Channel   string    `json:"channel"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenStore 令牌存储
type TokenStore interface {
	Put(ctx context.Context, token string, grant *Grant) error
	// Get 不存在时返回 ErrTokenInvalid
	Get(ctx context.Context, token string) (*Grant, error)
	Delete(ctx context.Context, token string) error
	// Sweep 删除已过期的令牌，返回删除数量
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// ========== MemoryTokenStore ==========

// MemoryTokenStore 进程内令牌存储
type MemoryTokenStore struct {
	mu     sync.Mutex
	grants map[string]*Grant
}

// NewMemoryTokenStore 创建内存令牌存储
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{grants: make(map[string]*Grant)}
}

// Put 保存令牌
func (s *MemoryTokenStore) Put(ctx context.Context, token string, grant *Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *grant
	s.grants[token] = &cp
	return nil
}

// Get 获取令牌
func (s *MemoryTokenStore) Get(ctx context.Context, token string) (*Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[token]
	if !ok {
		return nil, ErrTokenInvalid
	}
	cp := *g
	return &cp, nil
}

// Delete 删除令牌
func (s *MemoryTokenStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, token)
	return nil
}

// Sweep 清理过期令牌
func (s *MemoryTokenStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for token, g := range s.grants {
		if !now.Before(g.ExpiresAt) {
			delete(s.grants, token)
			n++
		}
	}
	return n, nil
}

// Len 当前令牌数
func (s *MemoryTokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.grants)
}

// ========== RedisTokenStore ==========

// RedisTokenStore 令牌存在 Redis 中，依赖 key 过期
type RedisTokenStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisTokenStore 创建 Redis 令牌存储
func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client, prefix: "next-sync:progress:", now: time.Now}
}

func (s *RedisTokenStore) key(token string) string {
	return s.prefix + token
}

// Put 保存令牌，TTL 取自 ExpiresAt
func (s *RedisTokenStore) Put(ctx context.Context, token string, grant *Grant) error {
	data, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("marshal grant: %w", err)
	}
	ttl := grant.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return ErrTokenExpired
	}
	if err := s.client.Set(ctx, s.key(token), data, ttl).Err(); err != nil {
		return fmt.Errorf("save progress token: %w", err)
	}
	return nil
}

// Get 获取令牌
func (s *RedisTokenStore) Get(ctx context.Context, token string) (*Grant, error) {
	data, err := s.client.Get(ctx, s.key(token)).Bytes()
	if err == redis.Nil {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("lookup progress token: %w", err)
	}
	var g Grant
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("unmarshal grant: %w", err)
	}
	return &g, nil
}

// Delete 删除令牌
func (s *RedisTokenStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("revoke progress token: %w", err)
	}
	return nil
}

// Sweep Redis 自行过期，无需清理
func (s *RedisTokenStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

// ========== TokenService ==========

// TokenService 签发短期、单用途的进度订阅令牌
type TokenService struct {
	store TokenStore
	ttl   time.Duration
	now   func() time.Time
	log   logrus.FieldLogger
}

// NewTokenService 创建令牌服务
func NewTokenService(store TokenStore, ttl time.Duration, log logrus.FieldLogger) *TokenService {
	return &TokenService{store: store, ttl: ttl, now: time.Now, log: log}
}

// WithClock 替换时钟
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

// Issue 为 (tenant, channel) 签发令牌
func (s *TokenService) Issue(ctx context.Context, tenantID, channel string) (string, *Grant, error) {
	if channel == "" {
		return "", nil, fmt.Errorf("channel is required")
	}
	token := uuid.New().String()
	grant := &Grant{TenantID: tenantID, Channel: channel, ExpiresAt: s.now().Add(s.ttl)}
	if err := s.store.Put(ctx, token, grant); err != nil {
		return "", nil, err
	}
	return token, grant, nil
}

// Validate 校验令牌是否有效且属于该通道；过期令牌会被删除
func (s *TokenService) Validate(ctx context.Context, token, channel string) (*Grant, error) {
	if token == "" {
		return nil, ErrTokenInvalid
	}
	grant, err := s.store.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if !s.now().Before(grant.ExpiresAt) {
		_ = s.store.Delete(ctx, token)
		return nil, ErrTokenExpired
	}
	if grant.Channel != channel {
		return nil, ErrTokenInvalid
	}
	return grant, nil
}

// Revoke 连接关闭时作废令牌
func (s *TokenService) Revoke(ctx context.Context, token string) error {
	return s.store.Delete(ctx, token)
}

// Sweep 清理一次过期令牌
func (s *TokenService) Sweep(ctx context.Context) (int, error) {
	return s.store.Sweep(ctx, s.now())
}

// RunSweeper 按 interval 周期清理，直到 ctx 取消
func (s *TokenService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.log.WithError(err).Warn("progress token sweep failed")
				continue
			}
			if n > 0 {
				s.log.WithField("removed", n).Debug("expired progress tokens swept")
			}
		}
	}
}
