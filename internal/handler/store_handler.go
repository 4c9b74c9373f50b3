package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/next-sync/internal/middleware"
	"github.com/ashwinyue/next-sync/internal/model"
	"github.com/ashwinyue/next-sync/internal/service/vectorsync"
)

// StoreHandler 向量存储处理器
type StoreHandler struct {
	stores StoreService
	access AccessChecker
}

// NewStoreHandler 创建存储处理器
func NewStoreHandler(stores StoreService, access AccessChecker) *StoreHandler {
	return &StoreHandler{stores: stores, access: access}
}

// ownedStore 校验当前用户能否操作路径中的存储
func (h *StoreHandler) ownedStore(c *gin.Context) (string, bool) {
	user, ok := currentUser(c)
	if !ok {
		return "", false
	}
	store, err := h.access.CheckStore(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		Error(c, err)
		return "", false
	}
	return store.ID, true
}

// credentialTenant 请求中的 tenant_id 只能是自己的租户（管理员除外）
func (h *StoreHandler) credentialTenant(c *gin.Context, requested string) (string, bool) {
	user, ok := currentUser(c)
	if !ok {
		return "", false
	}
	tenantID, err := h.access.CredentialTenant(user, requested)
	if err != nil {
		Error(c, err)
		return "", false
	}
	return tenantID, true
}

// ListStores 列出存储
// @Summary      列出存储
// @Tags         存储
// @Produce      json
// @Param        owner_id  query  string  false  "所属者ID，默认为当前用户"
// @Param        page      query  int     false  "页码"
// @Param        page_size query  int     false  "每页数量"
// @Router       /stores [get]
func (h *StoreHandler) ListStores(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	ownerID := c.DefaultQuery("owner_id", user.ID)
	if err := h.access.CheckOwnerID(c.Request.Context(), user, ownerID); err != nil {
		Error(c, err)
		return
	}

	page, pageSize := pageParams(c)
	stores, total, err := h.stores.ListStores(c.Request.Context(), ownerID, page, pageSize)
	if err != nil {
		Error(c, err)
		return
	}
	SuccessWithPagination(c, stores, total, page, pageSize)
}

// GetStore 获取存储
func (h *StoreHandler) GetStore(c *gin.Context) {
	storeID, ok := h.ownedStore(c)
	if !ok {
		return
	}
	store, err := h.stores.GetStore(c.Request.Context(), storeID)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, store)
}

// GetStats 存储下各状态文档数
func (h *StoreHandler) GetStats(c *gin.Context) {
	storeID, ok := h.ownedStore(c)
	if !ok {
		return
	}
	stats, err := h.stores.GetStoreStats(c.Request.Context(), storeID)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, stats)
}

// ListDocuments 列出存储下的文档
func (h *StoreHandler) ListDocuments(c *gin.Context) {
	storeID, ok := h.ownedStore(c)
	if !ok {
		return
	}
	page, pageSize := pageParams(c)
	docs, total, err := h.stores.ListDocuments(c.Request.Context(), storeID, page, pageSize)
	if err != nil {
		Error(c, err)
		return
	}
	SuccessWithPagination(c, docs, total, page, pageSize)
}

// DeleteDocument 删除文档（远程 + 本地）
// @Summary      删除文档
// @Description  远程不存在视为成功；远程其他错误时本地记录保留
// @Tags         文档
// @Param        id         path   string  true   "文档ID"
// @Param        tenant_id  query  string  false  "凭证租户，默认为当前用户租户；只有管理员能指定其他租户"
// @Router       /documents/{id} [delete]
func (h *StoreHandler) DeleteDocument(c *gin.Context) {
	tenantID, ok := h.credentialTenant(c, c.Query("tenant_id"))
	if !ok {
		return
	}
	user, _ := middleware.GetCurrentUser(c)
	documentID := c.Param("id")
	if err := h.access.CheckDocument(c.Request.Context(), user, documentID); err != nil {
		Error(c, err)
		return
	}

	res, err := h.stores.DeleteDocument(c.Request.Context(), documentID, tenantID)
	if err != nil {
		Error(c, err)
		return
	}
	if !res.Success {
		Error(c, res.Err)
		return
	}
	Success(c, res)
}

// StoreNames 当前用户检索时使用的远程存储名
func (h *StoreHandler) StoreNames(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	names, err := h.stores.GetStoreNamesForGeneration(c.Request.Context(), user.ID, user.Role, user.ConsultantID)
	if err != nil {
		Error(c, err)
		return
	}
	capped, truncated := vectorsync.CapStoreNames(names)
	Success(c, gin.H{
		"store_names": capped,
		"total":       len(names),
		"truncated":   truncated,
	})
}

// Audit 对比本地与远程
func (h *StoreHandler) Audit(c *gin.Context) {
	storeID, ok := h.ownedStore(c)
	if !ok {
		return
	}
	res, err := h.stores.AuditStoreVsRemote(c.Request.Context(), storeID)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, res)
}

// Cleanup 清理孤儿文档，mode 为 remote（远程多余）或 source（来源已删除）
func (h *StoreHandler) Cleanup(c *gin.Context) {
	ctx := c.Request.Context()
	mode := c.Param("mode")
	if mode != "remote" && mode != "source" {
		BadRequest(c, "mode must be remote or source")
		return
	}
	storeID, ok := h.ownedStore(c)
	if !ok {
		return
	}

	var (
		res *vectorsync.CleanupResult
		err error
	)
	if mode == "remote" {
		res, err = h.stores.CleanupOrphansOnRemote(ctx, storeID)
	} else {
		tenantID, ok := h.credentialTenant(c, c.Query("tenant_id"))
		if !ok {
			return
		}
		res, err = h.stores.CleanupSourceOrphans(ctx, storeID, tenantID)
	}
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, res)
}

// ReconcileRequest 按来源类型对账请求
type ReconcileRequest struct {
	SourceType model.SourceType `json:"source_type" binding:"required"`
	ValidIDs   []string         `json:"valid_ids" binding:"required"`
	TenantID   string           `json:"tenant_id"`
}

// Reconcile 删除某来源类型下不在 valid_ids 中的文档
func (h *StoreHandler) Reconcile(c *gin.Context) {
	var req ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid parameters: "+err.Error())
		return
	}
	storeID, ok := h.ownedStore(c)
	if !ok {
		return
	}
	tenantID, ok := h.credentialTenant(c, req.TenantID)
	if !ok {
		return
	}

	res, err := h.stores.ReconcileBySourceType(c.Request.Context(), storeID, req.SourceType, req.ValidIDs, tenantID)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, res)
}

// ListReports 最近的对账报告
func (h *StoreHandler) ListReports(c *gin.Context) {
	storeID, ok := h.ownedStore(c)
	if !ok {
		return
	}
	reports, err := h.stores.ListReports(c.Request.Context(), storeID, limitParam(c, 20))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, reports)
}
