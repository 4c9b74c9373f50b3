// Package credential 解析存储所属者对应的租户，并按优先级选择远程 API Key
package credential

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/sirupsen/logrus"

	"github.com/ashwinyue/next-sync/internal/model"
	"github.com/ashwinyue/next-sync/internal/remote"
	"github.com/ashwinyue/next-sync/internal/repository"
)

var (
	// ErrNoCredentials 没有任何可用凭证
	ErrNoCredentials = errors.New("no credentials configured")
	// ErrNoTenant 未提供租户 ID
	ErrNoTenant = errors.New("tenant id is required")
)

// NoCredentialsError 租户没有可用凭证
type NoCredentialsError struct {
	TenantID string
	Hint     string
}

func (e *NoCredentialsError) Error() string {
	return fmt.Sprintf("no credentials configured for tenant %s: %s", e.TenantID, e.Hint)
}

// Unwrap 使 errors.Is(err, ErrNoCredentials) 成立
func (e *NoCredentialsError) Unwrap() error {
	return ErrNoCredentials
}

const configureHint = "add own API keys in tenant settings or opt in to the shared pool"

// Service 凭证服务
type Service struct {
	tenants    repository.TenantRepository
	users      repository.UserRepository
	agents     repository.AgentConfigRepository
	pool       repository.CredentialRepository
	staticPool []string
	factory    remote.Factory
	log        logrus.FieldLogger

	// pick 返回 [0,n) 的随机数，测试可替换
	pick func(n int) int
}

// Option 服务选项
type Option func(*Service)

// WithStaticPool 追加配置文件中的共享密钥
func WithStaticPool(keys []string) Option {
	return func(s *Service) { s.staticPool = keys }
}

// WithPicker 替换随机选择函数
func WithPicker(pick func(n int) int) Option {
	return func(s *Service) { s.pick = pick }
}

// WithLogger 设置 logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) { s.log = log }
}

// NewService 创建凭证服务
func NewService(repos *repository.Repositories, factory remote.Factory, opts ...Option) *Service {
	s := &Service{
		tenants: repos.Tenant,
		users:   repos.User,
		agents:  repos.AgentConfig,
		pool:    repos.Credential,
		factory: factory,
		log:     logrus.StandardLogger(),
		pick:    rand.IntN,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveCredentialOwner 返回应使用其凭证的租户 ID；空串表示使用共享池。
// 显式给出的 userID 优先。该方法不返回错误。
func (s *Service) ResolveCredentialOwner(ctx context.Context, store *model.VectorStore, explicitUserID string) string {
	if explicitUserID != "" {
		return explicitUserID
	}

	owner, ok := OwnerOf(store)
	if !ok {
		s.log.WithFields(logrus.Fields{
			"store_id":   store.ID,
			"owner_type": store.OwnerType,
		}).Warn("unknown store owner type, falling back to shared pool")
		return ""
	}
	return owner.resolveTenant(ctx, s)
}

// GetClientForTenant 按优先级选择凭证：
// 共享池（租户同意时，随机）-> 自有密钥（轮换索引）-> 上级租户自有密钥（随机）
func (s *Service) GetClientForTenant(ctx context.Context, tenantID string) (remote.Client, error) {
	if tenantID == "" {
		return nil, ErrNoTenant
	}

	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NoCredentialsError{TenantID: tenantID, Hint: "tenant does not exist"}
		}
		return nil, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}

	if tenant.SharedPoolOptIn {
		keys, err := s.sharedKeys(ctx)
		if err != nil {
			return nil, err
		}
		if len(keys) > 0 {
			return s.factory(keys[s.pick(len(keys))])
		}
	}

	// 轮换索引由凭证管理方推进，这里只读
	if len(tenant.OwnKeys) > 0 {
		return s.factory(tenant.OwnKeys[keyIndex(tenant.OwnKeyIndex, len(tenant.OwnKeys))])
	}

	if tenant.IsDependent() {
		parent, err := s.tenants.GetByID(ctx, tenant.ParentID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to load parent tenant %s: %w", tenant.ParentID, err)
		}
		if parent != nil && len(parent.OwnKeys) > 0 {
			return s.factory(parent.OwnKeys[s.pick(len(parent.OwnKeys))])
		}
	}

	return nil, &NoCredentialsError{TenantID: tenantID, Hint: configureHint}
}

// EnsureClient 在 GetClientForTenant 之外再兜底共享池，不会返回 nil 客户端
func (s *Service) EnsureClient(ctx context.Context, tenantID string) (remote.Client, error) {
	if tenantID != "" {
		client, err := s.GetClientForTenant(ctx, tenantID)
		if err == nil {
			return client, nil
		}
		s.log.WithField("tenant_id", tenantID).WithError(err).
			Warn("tenant credentials unavailable, falling back to shared pool")
	}

	keys, err := s.sharedKeys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, &NoCredentialsError{TenantID: tenantID, Hint: configureHint}
	}
	return s.factory(keys[s.pick(len(keys))])
}

// ClientForStore 解析存储的凭证并返回客户端
func (s *Service) ClientForStore(ctx context.Context, store *model.VectorStore, explicitTenantID string) (remote.Client, error) {
	return s.EnsureClient(ctx, s.ResolveCredentialOwner(ctx, store, explicitTenantID))
}

// sharedKeys 合并数据库与配置中的共享密钥
func (s *Service) sharedKeys(ctx context.Context) ([]string, error) {
	dbKeys, err := s.pool.ListActiveSharedKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load shared pool: %w", err)
	}

	seen := make(map[string]bool, len(dbKeys)+len(s.staticPool))
	keys := make([]string, 0, len(dbKeys)+len(s.staticPool))
	for _, k := range append(dbKeys, s.staticPool...) {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys, nil
}

func keyIndex(stored, n int) int {
	i := stored % n
	if i < 0 {
		i += n
	}
	return i
}
