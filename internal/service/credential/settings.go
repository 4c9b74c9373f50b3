package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ashwinyue/next-sync/internal/model"
)

// Settings 租户凭证设置，密钥只返回掩码
type Settings struct {
	TenantID        string           `json:"tenant_id"`
	Kind            model.TenantKind `json:"kind"`
	ParentID        string           `json:"parent_id,omitempty"`
	SharedPoolOptIn bool             `json:"shared_pool_opt_in"`
	OwnKeys         []string         `json:"own_keys"`
}

// UpdateSettingsRequest 更新请求，字段为 nil 时保持不变
type UpdateSettingsRequest struct {
	OwnKeys         []string `json:"own_keys"`
	SharedPoolOptIn *bool    `json:"shared_pool_opt_in"`
}

// GetSettings 读取租户凭证设置
func (s *Service) GetSettings(ctx context.Context, tenantID string) (*Settings, error) {
	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}
	return settingsOf(tenant), nil
}

// UpdateSettings 替换自有密钥或修改共享池同意。替换密钥会重置轮换索引
func (s *Service) UpdateSettings(ctx context.Context, tenantID string, req *UpdateSettingsRequest) (*Settings, error) {
	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}

	if req.OwnKeys != nil {
		tenant.OwnKeys = normalizeKeys(req.OwnKeys)
		tenant.OwnKeyIndex = 0
	}
	if req.SharedPoolOptIn != nil {
		tenant.SharedPoolOptIn = *req.SharedPoolOptIn
	}

	if err := s.tenants.Update(ctx, tenant); err != nil {
		return nil, fmt.Errorf("failed to update tenant %s: %w", tenantID, err)
	}
	s.log.WithField("tenant_id", tenantID).WithField("own_keys", len(tenant.OwnKeys)).Info("tenant credentials updated")
	return settingsOf(tenant), nil
}

// AddSharedKey 向共享池添加密钥
func (s *Service) AddSharedKey(ctx context.Context, key, label string) (*model.SharedCredentialKey, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("key is required")
	}
	k := &model.SharedCredentialKey{Key: key, Label: label, IsActive: true}
	if err := s.pool.AddSharedKey(ctx, k); err != nil {
		return nil, fmt.Errorf("failed to add shared key: %w", err)
	}
	return k, nil
}

func settingsOf(t *model.Tenant) *Settings {
	masked := make([]string, len(t.OwnKeys))
	for i, k := range t.OwnKeys {
		masked[i] = maskKey(k)
	}
	return &Settings{
		TenantID:        t.ID,
		Kind:            t.Kind,
		ParentID:        t.ParentID,
		SharedPoolOptIn: t.SharedPoolOptIn,
		OwnKeys:         masked,
	}
}

// normalizeKeys 去空白、去空、去重，保留顺序
func normalizeKeys(keys []string) model.StringList {
	out := make(model.StringList, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

func maskKey(k string) string {
	if len(k) <= 8 {
		return "****"
	}
	return k[:4] + "****" + k[len(k)-4:]
}
