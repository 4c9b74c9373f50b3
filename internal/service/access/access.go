// Package access 请求方对存储、文档、凭证租户和进度通道的访问校验
//
// 管理员不受限制。顾问可以操作自己的存储，以及其客户和消息机器人的存储；
// 客户只能操作自己的存储。系统公共池只有管理员能操作。
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashwinyue/next-sync/internal/model"
	"github.com/ashwinyue/next-sync/internal/repository"
	"github.com/ashwinyue/next-sync/internal/service/event"
)

// ErrForbidden 请求方无权访问
var ErrForbidden = errors.New("access denied")

// UserLookup 用户查询
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// AgentLookup 机器人配置查询
type AgentLookup interface {
	GetByID(ctx context.Context, id string) (*model.WhatsappAgentConfig, error)
}

// StoreLookup 存储查询
type StoreLookup interface {
	GetByID(ctx context.Context, id string) (*model.VectorStore, error)
}

// DocumentLookup 文档查询
type DocumentLookup interface {
	GetByID(ctx context.Context, id string) (*model.VectorDocument, error)
}

// Service 访问校验
type Service struct {
	users     UserLookup
	agents    AgentLookup
	stores    StoreLookup
	documents DocumentLookup
}

// NewService 创建访问校验服务
func NewService(users UserLookup, agents AgentLookup, stores StoreLookup, documents DocumentLookup) *Service {
	return &Service{users: users, agents: agents, stores: stores, documents: documents}
}

func forbidden(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

func isAdmin(actor *model.User) bool {
	return actor != nil && actor.Role == model.UserRoleAdmin
}

// CheckOwner 请求方能否操作某个所属者的存储
func (s *Service) CheckOwner(ctx context.Context, actor *model.User, ownerType model.OwnerType, ownerID string) error {
	if actor == nil {
		return forbidden("anonymous request")
	}
	if isAdmin(actor) {
		return nil
	}

	switch ownerType {
	case model.OwnerTypeConsultant:
		if ownerID == actor.ID && actor.Role == model.UserRoleConsultant {
			return nil
		}
	case model.OwnerTypeClient:
		if ownerID == actor.ID {
			return nil
		}
		ok, err := s.isClientOf(ctx, actor, ownerID)
		if err != nil || ok {
			return err
		}
	case model.OwnerTypeWhatsappAgent:
		ok, err := s.isAgentOf(ctx, actor, ownerID)
		if err != nil || ok {
			return err
		}
	}
	return forbidden("%s %s is not accessible", ownerType, ownerID)
}

// CheckOwnerID 所属者类型未知时的校验（按 ID 列出存储）
func (s *Service) CheckOwnerID(ctx context.Context, actor *model.User, ownerID string) error {
	if actor == nil {
		return forbidden("anonymous request")
	}
	if isAdmin(actor) || ownerID == actor.ID {
		return nil
	}
	if ok, err := s.isClientOf(ctx, actor, ownerID); err != nil || ok {
		return err
	}
	if ok, err := s.isAgentOf(ctx, actor, ownerID); err != nil || ok {
		return err
	}
	return forbidden("owner %s is not accessible", ownerID)
}

// CheckStore 加载存储并校验所属关系
func (s *Service) CheckStore(ctx context.Context, actor *model.User, storeID string) (*model.VectorStore, error) {
	store, err := s.stores.GetByID(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if err := s.CheckOwner(ctx, actor, store.OwnerType, store.OwnerID); err != nil {
		return nil, err
	}
	return store, nil
}

// CheckDocument 校验文档所在存储的所属关系。文档或存储不存在时放行，由后续操作报告
func (s *Service) CheckDocument(ctx context.Context, actor *model.User, documentID string) error {
	doc, err := s.documents.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	_, err = s.CheckStore(ctx, actor, doc.StoreID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}

// CredentialTenant 解析凭证租户：默认为请求方租户，只有管理员能指定其他租户
func (s *Service) CredentialTenant(actor *model.User, requested string) (string, error) {
	if actor == nil {
		return "", forbidden("anonymous request")
	}
	if requested == "" || requested == actor.TenantID {
		return actor.TenantID, nil
	}
	if isAdmin(actor) {
		return requested, nil
	}
	return "", forbidden("tenant %s is not accessible", requested)
}

// ScopeOf 请求方发起的运行所在的进度通道范围
func ScopeOf(actor *model.User) string {
	if actor.TenantID != "" {
		return actor.TenantID
	}
	return actor.ID
}

// CheckChannel 只能订阅自己范围内的进度通道
func (s *Service) CheckChannel(actor *model.User, channel string) error {
	if actor == nil {
		return forbidden("anonymous request")
	}
	scope, ok := event.ChannelScope(channel)
	if !ok {
		return fmt.Errorf("%w: malformed channel %q", ErrForbidden, channel)
	}
	if isAdmin(actor) || scope == ScopeOf(actor) {
		return nil
	}
	return forbidden("channel %s is not accessible", channel)
}

// isClientOf ownerID 是否为请求方（顾问）的客户
func (s *Service) isClientOf(ctx context.Context, actor *model.User, ownerID string) (bool, error) {
	if actor.Role != model.UserRoleConsultant {
		return false, nil
	}
	client, err := s.users.GetByID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load client: %w", err)
	}
	return client.Role == model.UserRoleClient && client.ConsultantID == actor.ID, nil
}

// isAgentOf ownerID 是否为请求方（顾问）的消息机器人配置
func (s *Service) isAgentOf(ctx context.Context, actor *model.User, ownerID string) (bool, error) {
	if actor.Role != model.UserRoleConsultant {
		return false, nil
	}
	agent, err := s.agents.GetByID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load agent config: %w", err)
	}
	return agent.ConsultantID == actor.ID, nil
}
