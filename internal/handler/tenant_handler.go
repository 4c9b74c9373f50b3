package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/next-sync/internal/middleware"
	"github.com/ashwinyue/next-sync/internal/model"
	"github.com/ashwinyue/next-sync/internal/service/credential"
)

// CredentialSettings 租户凭证设置
type CredentialSettings interface {
	GetSettings(ctx context.Context, tenantID string) (*credential.Settings, error)
	UpdateSettings(ctx context.Context, tenantID string, req *credential.UpdateSettingsRequest) (*credential.Settings, error)
	AddSharedKey(ctx context.Context, key, label string) (*model.SharedCredentialKey, error)
}

// TenantHandler 租户处理器
type TenantHandler struct {
	settings CredentialSettings
}

// NewTenantHandler 创建租户处理器
func NewTenantHandler(settings CredentialSettings) *TenantHandler {
	return &TenantHandler{settings: settings}
}

// GetSettings 当前租户的凭证设置
// GET /api/v1/tenant/settings
func (h *TenantHandler) GetSettings(c *gin.Context) {
	settings, err := h.settings.GetSettings(c.Request.Context(), middleware.GetTenantID(c))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, settings)
}

// UpdateSettings 更新自有密钥 / 共享池同意
// PUT /api/v1/tenant/settings
func (h *TenantHandler) UpdateSettings(c *gin.Context) {
	var req credential.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid parameters: "+err.Error())
		return
	}

	settings, err := h.settings.UpdateSettings(c.Request.Context(), middleware.GetTenantID(c), &req)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, settings)
}

// SharedKeyRequest 共享密钥请求
type SharedKeyRequest struct {
	Key   string `json:"key" binding:"required"`
	Label string `json:"label"`
}

// AddSharedKey 向共享池添加密钥（管理员）
// POST /api/v1/admin/shared-keys
func (h *TenantHandler) AddSharedKey(c *gin.Context) {
	var req SharedKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid parameters: "+err.Error())
		return
	}

	key, err := h.settings.AddSharedKey(c.Request.Context(), req.Key, req.Label)
	if err != nil {
		Error(c, err)
		return
	}
	Created(c, key)
}
