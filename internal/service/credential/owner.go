package credential

import (
	"context"

	"github.com/ashwinyue/next-sync/internal/model"
)

// Owner 存储所属者。变体集合是封闭的（resolveTenant 不导出），
// 新增所属者类型必须在本包内实现该方法。
type Owner interface {
	OwnerID() string
	// resolveTenant 返回应使用其凭证的租户 ID，空串表示使用共享池
	resolveTenant(ctx context.Context, s *Service) string
}

// ConsultantOwner 顾问：所属者本身就是租户
type ConsultantOwner struct{ ID string }

// ClientOwner 客户：使用其顾问的凭证
type ClientOwner struct{ ID string }

// WhatsappAgentOwner 消息机器人：使用所属顾问的凭证
type WhatsappAgentOwner struct{ ID string }

// SystemOwner 系统公共存储：始终使用共享池
type SystemOwner struct{ ID string }

func (o ConsultantOwner) OwnerID() string    { return o.ID }
func (o ClientOwner) OwnerID() string        { return o.ID }
func (o WhatsappAgentOwner) OwnerID() string { return o.ID }
func (o SystemOwner) OwnerID() string        { return o.ID }

func (o ConsultantOwner) resolveTenant(_ context.Context, _ *Service) string {
	return o.ID
}

func (o ClientOwner) resolveTenant(ctx context.Context, s *Service) string {
	user, err := s.users.GetByID(ctx, o.ID)
	if err != nil || user.ConsultantID == "" {
		s.log.WithField("client_id", o.ID).WithError(err).
			Warn("client has no consultant, falling back to shared pool")
		return ""
	}
	return user.ConsultantID
}

func (o WhatsappAgentOwner) resolveTenant(ctx context.Context, s *Service) string {
	cfg, err := s.agents.GetByID(ctx, o.ID)
	if err != nil || cfg.ConsultantID == "" {
		s.log.WithField("agent_config_id", o.ID).WithError(err).
			Warn("agent config has no consultant, falling back to shared pool")
		return ""
	}
	return cfg.ConsultantID
}

func (o SystemOwner) resolveTenant(_ context.Context, _ *Service) string {
	return ""
}

// OwnerOf 将存储行映射为所属者变体；未知类型返回 ok=false
func OwnerOf(store *model.VectorStore) (Owner, bool) {
	switch store.OwnerType {
	case model.OwnerTypeConsultant:
		return ConsultantOwner{ID: store.OwnerID}, true
	case model.OwnerTypeClient:
		return ClientOwner{ID: store.OwnerID}, true
	case model.OwnerTypeWhatsappAgent:
		return WhatsappAgentOwner{ID: store.OwnerID}, true
	case model.OwnerTypeSystem:
		return SystemOwner{ID: store.OwnerID}, true
	default:
		return nil, false
	}
}
