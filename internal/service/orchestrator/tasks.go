package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ashwinyue/next-sync/internal/model"
	"github.com/ashwinyue/next-sync/internal/service/credential"
	"github.com/ashwinyue/next-sync/internal/service/outbox"
)

// 后台任务类型
const (
	TaskSyncSource              = "sync_source"
	TaskReconcileAgentKnowledge = "reconcile_agent_knowledge"
)

// ReconcilePayload 机器人知识对账任务载荷
type ReconcilePayload struct {
	AgentConfigID string `json:"agent_config_id"`
	TenantID      string `json:"tenant_id,omitempty"`
}

// RegisterTasks 向任务队列注册同步相关任务
func (s *Service) RegisterTasks(q *outbox.Queue) {
	q.Register(TaskSyncSource, s.handleSyncTask)
	q.Register(TaskReconcileAgentKnowledge, s.handleReconcileTask)
}

func (s *Service) handleSyncTask(ctx context.Context, task *model.SyncTask) error {
	var req Request
	if err := outbox.DecodePayload(task, &req); err != nil {
		return outbox.Permanent(err)
	}

	res, err := s.Sync(ctx, req)
	if err != nil {
		return classify(err)
	}
	// 单行失败不算任务失败
	if res.Failed > 0 {
		s.log.WithFields(logrus.Fields{
			"task_id":     task.ID,
			"source_type": req.SourceType,
			"failed":      res.Failed,
		}).Warn("background sync finished with failed rows")
	}
	return nil
}

func (s *Service) handleReconcileTask(ctx context.Context, task *model.SyncTask) error {
	var p ReconcilePayload
	if err := outbox.DecodePayload(task, &p); err != nil {
		return outbox.Permanent(err)
	}
	if p.AgentConfigID == "" {
		return outbox.Permanent(fmt.Errorf("agent_config_id is required"))
	}

	res, err := s.ReconcileAgentKnowledge(ctx, p.AgentConfigID, p.TenantID)
	if err != nil {
		return classify(err)
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d deletions failed", res.Failed, res.Scanned)
	}
	return nil
}

// classify 配置类错误不自动重试
func classify(err error) error {
	var noCreds *credential.NoCredentialsError
	if errors.As(err, &noCreds) || errors.Is(err, ErrUnsupportedSource) {
		return outbox.Permanent(err)
	}
	return err
}
