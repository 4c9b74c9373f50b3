package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ashwinyue/next-sync/internal/model"
	"github.com/ashwinyue/next-sync/internal/service/access"
	"github.com/ashwinyue/next-sync/internal/service/event"
	"github.com/ashwinyue/next-sync/internal/service/orchestrator"
	"github.com/ashwinyue/next-sync/internal/service/outbox"
)

// SyncHandler 同步与后台任务处理器
type SyncHandler struct {
	runner SyncRunner
	queue  TaskQueue
	access AccessChecker
}

// NewSyncHandler 创建同步处理器
func NewSyncHandler(runner SyncRunner, queue TaskQueue, access AccessChecker) *SyncHandler {
	return &SyncHandler{runner: runner, queue: queue, access: access}
}

// SyncRequest 同步请求
type SyncRequest struct {
	// OwnerID 顾问来源默认为当前用户，客户和机器人来源必填
	OwnerID string `json:"owner_id"`
	// TenantID 凭证租户，只有管理员能指定其他租户
	TenantID string `json:"tenant_id"`
	// RunID 进度通道，为空时自动生成
	RunID string `json:"run_id"`
	// Async 为 true 时写入任务队列后台执行
	Async bool `json:"async"`
}

// SyncResponse 同步响应
type SyncResponse struct {
	RunID   string               `json:"run_id"`
	Channel string               `json:"channel"`
	Result  *orchestrator.Result `json:"result,omitempty"`
	Task    *model.SyncTask      `json:"task,omitempty"`
}

// Sources 支持的来源类型
func (h *SyncHandler) Sources(c *gin.Context) {
	Success(c, orchestrator.SupportedSources())
}

// Run 同步一种来源
// @Summary      同步来源
// @Description  同步执行并返回汇总结果，或 async=true 时入队返回 202
// @Tags         同步
// @Accept       json
// @Produce      json
// @Param        source  path  string       true  "来源类型"
// @Param        body    body  SyncRequest  true  "同步参数"
// @Router       /sync/{source} [post]
func (h *SyncHandler) Run(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	sourceType := model.SourceType(c.Param("source"))
	ownerType, ok := orchestrator.OwnerTypeOf(sourceType)
	if !ok {
		BadRequest(c, fmt.Sprintf("unsupported source type: %s", sourceType))
		return
	}

	// 请求体可省略
	var body SyncRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			BadRequest(c, "Invalid parameters: "+err.Error())
			return
		}
	}

	if body.OwnerID == "" {
		if ownerType != model.OwnerTypeConsultant {
			BadRequest(c, fmt.Sprintf("owner_id is required for %s", sourceType))
			return
		}
		body.OwnerID = user.ID
	}
	ctx := c.Request.Context()
	if err := h.access.CheckOwner(ctx, user, ownerType, body.OwnerID); err != nil {
		Error(c, err)
		return
	}
	tenantID, err := h.access.CredentialTenant(user, body.TenantID)
	if err != nil {
		Error(c, err)
		return
	}

	req := orchestrator.Request{
		SourceType: sourceType,
		OwnerID:    body.OwnerID,
		TenantID:   tenantID,
		RunID:      body.RunID,
		Scope:      access.ScopeOf(user),
	}
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}
	resp := SyncResponse{RunID: req.RunID, Channel: event.SyncChannel(req.Scope, req.RunID)}

	if body.Async {
		task, err := h.queue.Enqueue(ctx, orchestrator.TaskSyncSource, req)
		if err != nil {
			Error(c, err)
			return
		}
		resp.Task = task
		Accepted(c, resp)
		return
	}

	res, err := h.runner.Sync(ctx, req)
	if err != nil {
		Error(c, err)
		return
	}
	resp.Result = res
	Success(c, resp)
}

// ReconcileAgent 后台对账机器人知识
func (h *SyncHandler) ReconcileAgent(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	agentID := c.Param("id")
	if err := h.access.CheckOwner(ctx, user, model.OwnerTypeWhatsappAgent, agentID); err != nil {
		Error(c, err)
		return
	}
	tenantID, err := h.access.CredentialTenant(user, c.Query("tenant_id"))
	if err != nil {
		Error(c, err)
		return
	}

	task, err := h.queue.Enqueue(ctx, orchestrator.TaskReconcileAgentKnowledge, orchestrator.ReconcilePayload{
		AgentConfigID: agentID,
		TenantID:      tenantID,
	})
	if err != nil {
		Error(c, err)
		return
	}
	Accepted(c, task)
}

// ListTasks 按状态列出后台任务，默认 failed（管理员）
func (h *SyncHandler) ListTasks(c *gin.Context) {
	status := model.SyncTaskStatus(c.DefaultQuery("status", string(model.SyncTaskStatusFailed)))
	tasks, err := h.queue.List(c.Request.Context(), status, limitParam(c, 50))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, tasks)
}

// GetTask 获取后台任务，只能查看自己有权操作的所属者的任务
func (h *SyncHandler) GetTask(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	task, err := h.queue.Get(ctx, c.Param("id"))
	if err != nil {
		Error(c, err)
		return
	}
	ownerType, ownerID := taskOwner(task)
	if err := h.access.CheckOwner(ctx, user, ownerType, ownerID); err != nil {
		Error(c, err)
		return
	}
	Success(c, task)
}

// taskOwner 任务载荷中的所属者；无法识别时归为系统（仅管理员可见）
func taskOwner(task *model.SyncTask) (model.OwnerType, string) {
	switch task.Kind {
	case orchestrator.TaskSyncSource:
		var req orchestrator.Request
		if outbox.DecodePayload(task, &req) == nil {
			if ownerType, ok := orchestrator.OwnerTypeOf(req.SourceType); ok {
				return ownerType, req.OwnerID
			}
		}
	case orchestrator.TaskReconcileAgentKnowledge:
		var p orchestrator.ReconcilePayload
		if outbox.DecodePayload(task, &p) == nil {
			return model.OwnerTypeWhatsappAgent, p.AgentConfigID
		}
	}
	return model.OwnerTypeSystem, ""
}

// RetryFailed 重新入队失败的任务（管理员）
func (h *SyncHandler) RetryFailed(c *gin.Context) {
	n, err := h.queue.RetryFailed(c.Request.Context(), limitParam(c, 50))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, gin.H{"requeued": n})
}

