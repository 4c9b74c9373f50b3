package vectorsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashwinyue/next-sync/internal/model"
	"github.com/ashwinyue/next-sync/internal/repository"
)

// MaxStoresPerQuery 单次检索最多使用的存储数，由检索方截断
const MaxStoresPerQuery = 5

// GetStoreNamesForGeneration 返回某个角色检索时应查询的远程存储名（去重，不截断）：
//   - 顾问：自己的存储 + 所有客户的私有存储 + 上级顾问的存储（parentTenantID 非空且不是自己）
//   - 客户：只有自己的私有存储
//   - 所有角色都包含系统存储
func (s *Service) GetStoreNamesForGeneration(ctx context.Context, actorID string, role model.UserRole, parentTenantID string) ([]string, error) {
	var stores []*model.VectorStore

	switch role {
	case model.UserRoleConsultant:
		own, err := s.activeStore(ctx, actorID, model.OwnerTypeConsultant)
		if err != nil {
			return nil, err
		}
		stores = append(stores, own...)

		clientIDs, err := s.users.ListClientIDs(ctx, actorID)
		if err != nil {
			return nil, fmt.Errorf("failed to list clients: %w", err)
		}
		if len(clientIDs) > 0 {
			clientStores, err := s.stores.ListActiveByOwners(ctx, model.OwnerTypeClient, clientIDs)
			if err != nil {
				return nil, fmt.Errorf("failed to list client stores: %w", err)
			}
			stores = append(stores, clientStores...)
		}

		if parentTenantID != "" && parentTenantID != actorID {
			parent, err := s.activeStore(ctx, parentTenantID, model.OwnerTypeConsultant)
			if err != nil {
				return nil, err
			}
			stores = append(stores, parent...)
		}

	case model.UserRoleClient:
		own, err := s.activeStore(ctx, actorID, model.OwnerTypeClient)
		if err != nil {
			return nil, err
		}
		stores = append(stores, own...)
	}

	system, err := s.stores.ListActiveByType(ctx, model.OwnerTypeSystem)
	if err != nil {
		return nil, fmt.Errorf("failed to list system stores: %w", err)
	}
	stores = append(stores, system...)

	seen := make(map[string]bool, len(stores))
	names := make([]string, 0, len(stores))
	for _, st := range stores {
		if st.RemoteName == "" || seen[st.RemoteName] {
			continue
		}
		seen[st.RemoteName] = true
		names = append(names, st.RemoteName)
	}
	return names, nil
}

// CapStoreNames 截断到 MaxStoresPerQuery，返回是否发生截断
func CapStoreNames(names []string) ([]string, bool) {
	if len(names) <= MaxStoresPerQuery {
		return names, false
	}
	return names[:MaxStoresPerQuery], true
}

func (s *Service) activeStore(ctx context.Context, ownerID string, ownerType model.OwnerType) ([]*model.VectorStore, error) {
	store, err := s.stores.FindActiveByOwner(ctx, ownerID, ownerType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find %s store: %w", ownerType, err)
	}
	return []*model.VectorStore{store}, nil
}
