package vectorsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwinyue/next-sync/internal/model"
	"github.com/ashwinyue/next-sync/internal/remote"
)

func ownedStore(id, ownerID string, ownerType model.OwnerType) *model.VectorStore {
	return &model.VectorStore{
		ID:         id,
		RemoteName: remote.StoreName(id),
		OwnerID:    ownerID,
		OwnerType:  ownerType,
		IsActive:   true,
	}
}

// ========== GetStoreNamesForGeneration 测试 ==========

func TestGetStoreNamesForGeneration(t *testing.T) {
	inactive := ownedStore("old-client", "cl-1", model.OwnerTypeClient)
	inactive.IsActive = false

	h := newHarness(t, nil,
		ownedStore("c1", "C1", model.OwnerTypeConsultant),
		ownedStore("c1-dup", "C1", model.OwnerTypeConsultant),
		ownedStore("cl1", "cl-1", model.OwnerTypeClient),
		ownedStore("cl2", "cl-2", model.OwnerTypeClient),
		inactive,
		ownedStore("parent", "P", model.OwnerTypeConsultant),
		ownedStore("sys", "system", model.OwnerTypeSystem),
		ownedStore("agent", "A1", model.OwnerTypeWhatsappAgent),
	)
	h.users.clients["C1"] = []string{"cl-1", "cl-2", "cl-no-store"}

	tests := []struct {
		name   string
		actor  string
		role   model.UserRole
		parent string
		want   []string
	}{
		{
			name:  "顾问：自己 + 客户 + 系统",
			actor: "C1", role: model.UserRoleConsultant,
			want: []string{"stores/c1", "stores/cl1", "stores/cl2", "stores/sys"},
		},
		{
			name:  "顾问同时是他人的客户",
			actor: "C1", role: model.UserRoleConsultant, parent: "P",
			want: []string{"stores/c1", "stores/cl1", "stores/cl2", "stores/parent", "stores/sys"},
		},
		{
			name:  "parent 等于自己时忽略",
			actor: "C1", role: model.UserRoleConsultant, parent: "C1",
			want: []string{"stores/c1", "stores/cl1", "stores/cl2", "stores/sys"},
		},
		{
			name:  "客户只看自己的私有存储",
			actor: "cl-1", role: model.UserRoleClient, parent: "C1",
			want: []string{"stores/cl1", "stores/sys"},
		},
		{
			name:  "没有存储的客户",
			actor: "cl-no-store", role: model.UserRoleClient,
			want: []string{"stores/sys"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.svc.GetStoreNamesForGeneration(context.Background(), tt.actor, tt.role, tt.parent)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetStoreNamesForGeneration_Dedup(t *testing.T) {
	shared := ownedStore("shared", "C1", model.OwnerTypeConsultant)
	h := newHarness(t, nil, shared, &model.VectorStore{
		ID: "sys", RemoteName: shared.RemoteName, OwnerID: "system", OwnerType: model.OwnerTypeSystem, IsActive: true,
	})

	got, err := h.svc.GetStoreNamesForGeneration(context.Background(), "C1", model.UserRoleConsultant, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"stores/shared"}, got)
}

func TestCapStoreNames(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e", "f", "g"}
	capped, truncated := CapStoreNames(names)
	assert.True(t, truncated)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, capped)

	few, truncated := CapStoreNames(names[:3])
	assert.False(t, truncated)
	assert.Len(t, few, 3)
}

// ========== EnsureStore 测试 ==========

func TestEnsureStore(t *testing.T) {
	h := newHarness(t, nil, ownedStore("existing", "C1", model.OwnerTypeConsultant))
	ctx := context.Background()

	got, err := h.svc.EnsureStore(ctx, "C1", model.OwnerTypeConsultant, "C1 store")
	require.NoError(t, err)
	assert.Equal(t, "existing", got.ID)
	assert.Empty(t, h.resolver.tenants, "existing store needs no remote call")

	created, err := h.svc.EnsureStore(ctx, "cl-9", model.OwnerTypeClient, "client store")
	require.NoError(t, err)
	assert.Equal(t, "stores/remote-1", created.RemoteName)
	assert.Equal(t, model.OwnerTypeClient, created.OwnerType)
	assert.True(t, created.IsActive)

	again, err := h.svc.EnsureStore(ctx, "cl-9", model.OwnerTypeClient, "client store")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
}

func TestGetStoreStats(t *testing.T) {
	h := newHarness(t, nil, consultantStore("S", "C1"))
	h.seedDoc("S", "a", model.SourceTypeManual, "", true)
	doc := h.seedDoc("S", "b", model.SourceTypeManual, "", true)
	doc.Status = model.DocumentStatusDegraded

	stats, err := h.svc.GetStoreStats(context.Background(), "S")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DocumentCount)
	assert.Equal(t, int64(1), stats.ByStatus[model.DocumentStatusIndexed])
	assert.Equal(t, int64(1), stats.ByStatus[model.DocumentStatusDegraded])

	_, err = h.svc.GetStoreStats(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrStoreNotFound)
}
