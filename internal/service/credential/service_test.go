// Package credential 提供凭证服务单元测试
package credential

import (
	"context"
	"errors"
	"testing"

	"github.com/ashwinyue/next-sync/internal/logger"
	"github.com/ashwinyue/next-sync/internal/model"
	"github.com/ashwinyue/next-sync/internal/remote"
	"github.com/ashwinyue/next-sync/internal/repository"
)

// ========== Mock 实现 ==========

type mockTenantRepository struct {
	tenants map[string]*model.Tenant
	updates int
}

func (m *mockTenantRepository) Create(ctx context.Context, tenant *model.Tenant) error {
	m.tenants[tenant.ID] = tenant
	return nil
}

func (m *mockTenantRepository) GetByID(ctx context.Context, id string) (*model.Tenant, error) {
	t, ok := m.tenants[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockTenantRepository) Update(ctx context.Context, tenant *model.Tenant) error {
	m.updates++
	m.tenants[tenant.ID] = tenant
	return nil
}

type mockUserRepository struct {
	getByIDFunc func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockUserRepository) Create(ctx context.Context, user *model.User) error { return nil }
func (m *mockUserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, repository.ErrNotFound
}
func (m *mockUserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return nil, repository.ErrNotFound
}
func (m *mockUserRepository) ListClientIDs(ctx context.Context, consultantID string) ([]string, error) {
	return nil, nil
}

type mockAgentConfigRepository struct {
	getByIDFunc func(ctx context.Context, id string) (*model.WhatsappAgentConfig, error)
}

func (m *mockAgentConfigRepository) GetByID(ctx context.Context, id string) (*model.WhatsappAgentConfig, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, repository.ErrNotFound
}

type mockCredentialRepository struct {
	keys []string
	err  error
}

func (m *mockCredentialRepository) ListActiveSharedKeys(ctx context.Context) ([]string, error) {
	return m.keys, m.err
}
func (m *mockCredentialRepository) AddSharedKey(ctx context.Context, key *model.SharedCredentialKey) error {
	return nil
}

var (
	_ repository.TenantRepository      = (*mockTenantRepository)(nil)
	_ repository.UserRepository        = (*mockUserRepository)(nil)
	_ repository.AgentConfigRepository = (*mockAgentConfigRepository)(nil)
	_ repository.CredentialRepository  = (*mockCredentialRepository)(nil)
)

// keyClient 记录构造时使用的 key
type keyClient struct {
	remote.Client
	key string
}

func keyFactory(apiKey string) (remote.Client, error) {
	return &keyClient{key: apiKey}, nil
}

func usedKey(t *testing.T, c remote.Client) string {
	t.Helper()
	kc, ok := c.(*keyClient)
	if !ok {
		t.Fatalf("client type = %T, want *keyClient", c)
	}
	return kc.key
}

type fixture struct {
	tenants *mockTenantRepository
	users   *mockUserRepository
	agents  *mockAgentConfigRepository
	pool    *mockCredentialRepository
}

func newFixture() *fixture {
	return &fixture{
		tenants: &mockTenantRepository{tenants: map[string]*model.Tenant{}},
		users:   &mockUserRepository{},
		agents:  &mockAgentConfigRepository{},
		pool:    &mockCredentialRepository{},
	}
}

func (f *fixture) service(opts ...Option) *Service {
	repos := &repository.Repositories{
		Tenant:      f.tenants,
		User:        f.users,
		AgentConfig: f.agents,
		Credential:  f.pool,
	}
	opts = append([]Option{WithLogger(logger.Discard()), WithPicker(func(n int) int { return n - 1 })}, opts...)
	return NewService(repos, keyFactory, opts...)
}

// ========== ResolveCredentialOwner 测试 ==========

func TestResolveCredentialOwner(t *testing.T) {
	f := newFixture()
	f.users.getByIDFunc = func(ctx context.Context, id string) (*model.User, error) {
		switch id {
		case "client-1":
			return &model.User{ID: id, ConsultantID: "consultant-9"}, nil
		case "orphan-client":
			return &model.User{ID: id}, nil
		}
		return nil, repository.ErrNotFound
	}
	f.agents.getByIDFunc = func(ctx context.Context, id string) (*model.WhatsappAgentConfig, error) {
		if id == "agent-1" {
			return &model.WhatsappAgentConfig{ID: id, ConsultantID: "consultant-7"}, nil
		}
		return nil, repository.ErrNotFound
	}
	svc := f.service()

	tests := []struct {
		name     string
		store    *model.VectorStore
		explicit string
		want     string
	}{
		{"显式用户优先", &model.VectorStore{OwnerID: "c1", OwnerType: model.OwnerTypeConsultant}, "override", "override"},
		{"顾问即租户", &model.VectorStore{OwnerID: "c1", OwnerType: model.OwnerTypeConsultant}, "", "c1"},
		{"客户使用顾问凭证", &model.VectorStore{OwnerID: "client-1", OwnerType: model.OwnerTypeClient}, "", "consultant-9"},
		{"客户无顾问", &model.VectorStore{OwnerID: "orphan-client", OwnerType: model.OwnerTypeClient}, "", ""},
		{"客户不存在", &model.VectorStore{OwnerID: "ghost", OwnerType: model.OwnerTypeClient}, "", ""},
		{"机器人使用顾问凭证", &model.VectorStore{OwnerID: "agent-1", OwnerType: model.OwnerTypeWhatsappAgent}, "", "consultant-7"},
		{"机器人配置缺失", &model.VectorStore{OwnerID: "agent-x", OwnerType: model.OwnerTypeWhatsappAgent}, "", ""},
		{"系统存储", &model.VectorStore{OwnerID: "sys", OwnerType: model.OwnerTypeSystem}, "", ""},
		{"未知类型", &model.VectorStore{OwnerID: "x", OwnerType: "martian"}, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := svc.ResolveCredentialOwner(context.Background(), tt.store, tt.explicit)
			if got != tt.want {
				t.Errorf("ResolveCredentialOwner() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ========== GetClientForTenant 测试 ==========

func TestGetClientForTenant_EmptyTenant(t *testing.T) {
	svc := newFixture().service()
	if _, err := svc.GetClientForTenant(context.Background(), ""); !errors.Is(err, ErrNoTenant) {
		t.Errorf("error = %v, want ErrNoTenant", err)
	}
}

func TestGetClientForTenant_SharedPoolWins(t *testing.T) {
	f := newFixture()
	f.pool.keys = []string{"pool-a", "pool-b"}
	f.tenants.tenants["t1"] = &model.Tenant{ID: "t1", SharedPoolOptIn: true, OwnKeys: model.StringList{"own-a"}}

	client, err := f.service().GetClientForTenant(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetClientForTenant() error = %v", err)
	}
	if got := usedKey(t, client); got != "pool-b" {
		t.Errorf("key = %q, want pool-b", got)
	}
}

func TestGetClientForTenant_StaticPoolMerged(t *testing.T) {
	f := newFixture()
	f.pool.keys = []string{"pool-a"}
	f.tenants.tenants["t1"] = &model.Tenant{ID: "t1", SharedPoolOptIn: true}

	svc := f.service(WithStaticPool([]string{"pool-a", "static-z"}))
	client, err := svc.GetClientForTenant(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetClientForTenant() error = %v", err)
	}
	// 去重后为 [pool-a static-z]，picker 取最后一个
	if got := usedKey(t, client); got != "static-z" {
		t.Errorf("key = %q, want static-z", got)
	}
}

func TestGetClientForTenant_OptInButEmptyPoolUsesOwnKeys(t *testing.T) {
	f := newFixture()
	f.tenants.tenants["t1"] = &model.Tenant{ID: "t1", SharedPoolOptIn: true, OwnKeys: model.StringList{"own-a"}}

	client, err := f.service().GetClientForTenant(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetClientForTenant() error = %v", err)
	}
	if got := usedKey(t, client); got != "own-a" {
		t.Errorf("key = %q, want own-a", got)
	}
}

func TestGetClientForTenant_OwnKeysByStoredIndex(t *testing.T) {
	f := newFixture()
	f.pool.keys = []string{"pool-a"}
	f.tenants.tenants["t1"] = &model.Tenant{
		ID:              "t1",
		SharedPoolOptIn: false,
		OwnKeys:         model.StringList{"k0", "k1", "k2"},
		OwnKeyIndex:     5,
	}
	svc := f.service()

	// 5 mod 3 = 2，重复调用结果不变
	for i := 0; i < 3; i++ {
		client, err := svc.GetClientForTenant(context.Background(), "t1")
		if err != nil {
			t.Fatalf("GetClientForTenant() error = %v", err)
		}
		if got := usedKey(t, client); got != "k2" {
			t.Errorf("call %d key = %q, want k2", i, got)
		}
	}
	if f.tenants.tenants["t1"].OwnKeyIndex != 5 || f.tenants.updates != 0 {
		t.Errorf("tenant record was written: index=%d updates=%d", f.tenants.tenants["t1"].OwnKeyIndex, f.tenants.updates)
	}
}

func TestGetClientForTenant_ExternalIndexIncrement(t *testing.T) {
	tests := []struct {
		name  string
		keys  model.StringList
		start int
	}{
		{"两个密钥", model.StringList{"k0", "k1"}, 0},
		{"三个密钥", model.StringList{"k0", "k1", "k2"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.tenants.tenants["t1"] = &model.Tenant{ID: "t1", OwnKeys: tt.keys, OwnKeyIndex: tt.start}
			svc := f.service()

			first, err := svc.GetClientForTenant(context.Background(), "t1")
			if err != nil {
				t.Fatalf("GetClientForTenant() error = %v", err)
			}
			f.tenants.tenants["t1"].OwnKeyIndex++
			second, err := svc.GetClientForTenant(context.Background(), "t1")
			if err != nil {
				t.Fatalf("GetClientForTenant() error = %v", err)
			}

			want := tt.keys[(tt.start+1)%len(tt.keys)]
			if got := usedKey(t, second); got != want {
				t.Errorf("second key = %q, want %q", got, want)
			}
			if usedKey(t, first) == usedKey(t, second) {
				t.Error("incremented index should select a different key")
			}
			if got := f.tenants.tenants["t1"].OwnKeyIndex; got != tt.start+1 {
				t.Errorf("stored index = %d, want %d", got, tt.start+1)
			}
		})
	}
}

func TestGetClientForTenant_ParentKeys(t *testing.T) {
	f := newFixture()
	f.tenants.tenants["parent"] = &model.Tenant{ID: "parent", OwnKeys: model.StringList{"p0", "p1"}}
	f.tenants.tenants["child"] = &model.Tenant{ID: "child", Kind: model.TenantKindClient, ParentID: "parent"}

	client, err := f.service().GetClientForTenant(context.Background(), "child")
	if err != nil {
		t.Fatalf("GetClientForTenant() error = %v", err)
	}
	if got := usedKey(t, client); got != "p1" {
		t.Errorf("key = %q, want p1", got)
	}
}

func TestGetClientForTenant_NoCredentials(t *testing.T) {
	f := newFixture()
	f.tenants.tenants["t1"] = &model.Tenant{ID: "t1", SharedPoolOptIn: true}

	_, err := f.service().GetClientForTenant(context.Background(), "t1")
	var noCreds *NoCredentialsError
	if !errors.As(err, &noCreds) {
		t.Fatalf("error = %v, want *NoCredentialsError", err)
	}
	if noCreds.TenantID != "t1" || noCreds.Hint == "" {
		t.Errorf("NoCredentialsError = %+v", noCreds)
	}
	if !errors.Is(err, ErrNoCredentials) {
		t.Error("errors.Is(err, ErrNoCredentials) = false")
	}
}

// ========== EnsureClient 测试 ==========

func TestEnsureClient_FallsBackToPool(t *testing.T) {
	f := newFixture()
	f.pool.keys = []string{"pool-a"}
	f.tenants.tenants["t1"] = &model.Tenant{ID: "t1", SharedPoolOptIn: false}

	client, err := f.service().EnsureClient(context.Background(), "t1")
	if err != nil {
		t.Fatalf("EnsureClient() error = %v", err)
	}
	if got := usedKey(t, client); got != "pool-a" {
		t.Errorf("key = %q, want pool-a", got)
	}
}

func TestEnsureClient_NoTenantUsesPool(t *testing.T) {
	f := newFixture()
	f.pool.keys = []string{"pool-a"}

	client, err := f.service().EnsureClient(context.Background(), "")
	if err != nil {
		t.Fatalf("EnsureClient() error = %v", err)
	}
	if client == nil {
		t.Fatal("EnsureClient() returned nil client")
	}
}

func TestEnsureClient_NothingAvailable(t *testing.T) {
	_, err := newFixture().service().EnsureClient(context.Background(), "missing")
	if !errors.Is(err, ErrNoCredentials) {
		t.Errorf("error = %v, want ErrNoCredentials", err)
	}
}

func TestEnsureClient_PoolError(t *testing.T) {
	f := newFixture()
	f.pool.err = errors.New("db down")

	if _, err := f.service().EnsureClient(context.Background(), ""); err == nil {
		t.Error("EnsureClient() error = nil, want pool error")
	}
}

func TestKeyIndex(t *testing.T) {
	tests := []struct{ stored, n, want int }{
		{0, 3, 0}, {4, 3, 1}, {-1, 3, 2},
	}
	for _, tt := range tests {
		if got := keyIndex(tt.stored, tt.n); got != tt.want {
			t.Errorf("keyIndex(%d, %d) = %d, want %d", tt.stored, tt.n, got, tt.want)
		}
	}
}
