package vectorsync

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ashwinyue/next-sync/internal/config"
	"github.com/ashwinyue/next-sync/internal/logger"
	"github.com/ashwinyue/next-sync/internal/model"
	"github.com/ashwinyue/next-sync/internal/remote"
	"github.com/ashwinyue/next-sync/internal/repository"
)

// ========== 内存仓库 ==========

type memStores struct {
	mu     sync.Mutex
	stores map[string]*model.VectorStore
	order  []string
}

func newMemStores(stores ...*model.VectorStore) *memStores {
	m := &memStores{stores: map[string]*model.VectorStore{}}
	for _, s := range stores {
		_ = m.Create(context.Background(), s)
	}
	return m
}

func (m *memStores) Create(ctx context.Context, store *model.VectorStore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if store.ID == "" {
		store.ID = fmt.Sprintf("store-%d", len(m.order)+1)
	}
	m.stores[store.ID] = store
	m.order = append(m.order, store.ID)
	return nil
}

func (m *memStores) GetByID(ctx context.Context, id string) (*model.VectorStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s, nil
}

func (m *memStores) FindActiveByOwner(ctx context.Context, ownerID string, ownerType model.OwnerType) (*model.VectorStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		s := m.stores[id]
		if s.OwnerID == ownerID && s.OwnerType == ownerType && s.IsActive {
			return s, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStores) ListActiveByOwners(ctx context.Context, ownerType model.OwnerType, ownerIDs []string) ([]*model.VectorStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[string]bool{}
	for _, id := range ownerIDs {
		want[id] = true
	}
	var out []*model.VectorStore
	for _, id := range m.order {
		s := m.stores[id]
		if s.OwnerType == ownerType && s.IsActive && want[s.OwnerID] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStores) ListActiveByType(ctx context.Context, ownerType model.OwnerType) ([]*model.VectorStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.VectorStore
	for _, id := range m.order {
		s := m.stores[id]
		if s.OwnerType == ownerType && s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStores) List(ctx context.Context, ownerID string, offset, limit int) ([]*model.VectorStore, int64, error) {
	return nil, 0, nil
}

func (m *memStores) Deactivate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[id]; ok {
		s.IsActive = false
	}
	return nil
}

func (m *memStores) AdjustDocumentCount(ctx context.Context, id string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[id]; ok {
		s.DocumentCount += delta
		if s.DocumentCount < 0 {
			s.DocumentCount = 0
		}
	}
	return nil
}

type memDocuments struct {
	mu   sync.Mutex
	docs []*model.VectorDocument
	seq  int
	// deleteErr 非空时 Delete 返回该错误
	deleteErr error
}

func (m *memDocuments) Create(ctx context.Context, doc *model.VectorDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if doc.ID == "" {
		doc.ID = fmt.Sprintf("doc-%d", m.seq)
	}
	doc.CreatedAt = time.Unix(int64(m.seq), 0)
	m.docs = append(m.docs, doc)
	return nil
}

func (m *memDocuments) GetByID(ctx context.Context, id string) (*model.VectorDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memDocuments) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	for i, d := range m.docs {
		if d.ID == id {
			m.docs = append(m.docs[:i], m.docs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memDocuments) filter(keep func(*model.VectorDocument) bool) []*model.VectorDocument {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.VectorDocument
	for _, d := range m.docs {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}

func (m *memDocuments) ListByStore(ctx context.Context, storeID string) ([]*model.VectorDocument, error) {
	return m.filter(func(d *model.VectorDocument) bool { return d.StoreID == storeID }), nil
}

func (m *memDocuments) ListByStorePaged(ctx context.Context, storeID string, offset, limit int) ([]*model.VectorDocument, int64, error) {
	all, _ := m.ListByStore(ctx, storeID)
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (m *memDocuments) ListByStoreAndSourceType(ctx context.Context, storeID string, sourceType model.SourceType) ([]*model.VectorDocument, error) {
	return m.filter(func(d *model.VectorDocument) bool {
		return d.StoreID == storeID && d.SourceType == sourceType
	}), nil
}

func matchStore(d *model.VectorDocument, storeID string) bool {
	return storeID == "" || d.StoreID == storeID
}

func (m *memDocuments) FindBySource(ctx context.Context, storeID string, sourceType model.SourceType, sourceID string) ([]*model.VectorDocument, error) {
	return m.filter(func(d *model.VectorDocument) bool {
		return matchStore(d, storeID) && d.SourceType == sourceType && d.SourceID == sourceID
	}), nil
}

func (m *memDocuments) FindIndexedBySource(ctx context.Context, storeID string, sourceType model.SourceType, sourceID string) (*model.VectorDocument, error) {
	docs := m.filter(func(d *model.VectorDocument) bool {
		return matchStore(d, storeID) && d.SourceType == sourceType && d.SourceID == sourceID &&
			(d.Status == model.DocumentStatusIndexed || d.Status == model.DocumentStatusDegraded)
	})
	if len(docs) == 0 {
		return nil, repository.ErrNotFound
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.After(docs[j].CreatedAt) })
	return docs[0], nil
}

func (m *memDocuments) ListChunksBySource(ctx context.Context, storeID string, sourceType model.SourceType, baseID string) ([]*model.VectorDocument, error) {
	return m.filter(func(d *model.VectorDocument) bool {
		return matchStore(d, storeID) && d.SourceType == sourceType && strings.HasPrefix(d.SourceID, baseID+"_chunk_")
	}), nil
}

func (m *memDocuments) CountByStatus(ctx context.Context, storeID string) (map[model.DocumentStatus]int64, error) {
	counts := map[model.DocumentStatus]int64{}
	for _, d := range m.filter(func(d *model.VectorDocument) bool { return d.StoreID == storeID }) {
		counts[d.Status]++
	}
	return counts, nil
}

func (m *memDocuments) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

type memAudits struct {
	mu      sync.Mutex
	reports []*model.SyncAuditReport
}

func (m *memAudits) Create(ctx context.Context, report *model.SyncAuditReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	report.ID = fmt.Sprintf("report-%d", len(m.reports)+1)
	m.reports = append(m.reports, report)
	return nil
}

func (m *memAudits) ListByStore(ctx context.Context, storeID string, limit int) ([]*model.SyncAuditReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.SyncAuditReport
	for _, r := range m.reports {
		if r.StoreID == storeID {
			out = append(out, r)
		}
	}
	return out, nil
}

type memUsers struct {
	clients map[string][]string
}

func (m *memUsers) Create(ctx context.Context, user *model.User) error { return nil }
func (m *memUsers) GetByID(ctx context.Context, id string) (*model.User, error) {
	return nil, repository.ErrNotFound
}
func (m *memUsers) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return nil, repository.ErrNotFound
}
func (m *memUsers) ListClientIDs(ctx context.Context, consultantID string) ([]string, error) {
	return m.clients[consultantID], nil
}

// memSources 只登记 tables 中出现的来源类型
type memSources struct {
	repository.SourceRepository
	tables map[model.SourceType]map[string]bool
}

func (m *memSources) ExistingIDs(ctx context.Context, sourceType model.SourceType, ids []string) (map[string]bool, error) {
	rows, ok := m.tables[sourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrUnmappedSource, sourceType)
	}
	out := map[string]bool{}
	for _, id := range ids {
		if rows[id] {
			out[id] = true
		}
	}
	return out, nil
}

// ========== 远程存储替身 ==========

type fakeRemote struct {
	mu       sync.Mutex
	docs     map[string]remote.Document
	seq      int
	uploads  int
	polls    int
	deleted  []string
	contents []string
	paths    []string

	// pollFunc 为空时第一次轮询即完成并返回 result.name
	pollFunc func(op *remote.Operation) (*remote.Operation, error)
	// deleteErr 按资源名返回的删除错误
	deleteErr map[string]error
	listErr   error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{docs: map[string]remote.Document{}, deleteErr: map[string]error{}}
}

func (f *fakeRemote) CreateStore(ctx context.Context, displayName string) (*remote.Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return &remote.Store{Name: remote.StoreName(fmt.Sprintf("remote-%d", f.seq)), DisplayName: displayName}, nil
}

func (f *fakeRemote) UploadChunked(ctx context.Context, filePath, storeName string, cfg remote.ChunkingConfig, opts remote.UploadOptions) (*remote.Operation, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.uploads++
	f.contents = append(f.contents, string(data))
	f.paths = append(f.paths, filePath)

	name := remote.DocumentName(storeName, fmt.Sprintf("d%d", f.seq))
	f.docs[name] = remote.Document{Name: name, DisplayName: opts.DisplayName}
	return &remote.Operation{
		Name:     fmt.Sprintf("%s/operations/%d", storeName, f.seq),
		Metadata: map[string]interface{}{"pending_name": name},
	}, nil
}

func (f *fakeRemote) PollOperation(ctx context.Context, op *remote.Operation) (*remote.Operation, error) {
	f.mu.Lock()
	f.polls++
	pollFunc := f.pollFunc
	f.mu.Unlock()

	if pollFunc != nil {
		return pollFunc(op)
	}
	return &remote.Operation{
		Name:   op.Name,
		Done:   true,
		Result: map[string]interface{}{"name": op.Metadata["pending_name"]},
	}, nil
}

func (f *fakeRemote) ListDocuments(ctx context.Context, storeName string) ([]remote.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []remote.Document
	for name, d := range f.docs {
		if strings.HasPrefix(name, storeName+"/") {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeRemote) DeleteDocument(ctx context.Context, name string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.deleteErr[name]; ok {
		return err
	}
	if _, ok := f.docs[name]; !ok {
		return fmt.Errorf("%w: %s", remote.ErrNotFound, name)
	}
	delete(f.docs, name)
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeRemote) has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.docs[name]
	return ok
}

type fakeResolver struct {
	client remote.Client
	err    error

	mu      sync.Mutex
	tenants []string
}

func (r *fakeResolver) ClientForStore(ctx context.Context, store *model.VectorStore, explicitTenantID string) (remote.Client, error) {
	r.mu.Lock()
	r.tenants = append(r.tenants, explicitTenantID)
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.client, nil
}

// ========== 组装 ==========

type harness struct {
	svc      *Service
	stores   *memStores
	docs     *memDocuments
	audits   *memAudits
	users    *memUsers
	sources  *memSources
	remote   *fakeRemote
	resolver *fakeResolver
	sleeps   int
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		PollInterval:      2 * time.Second,
		MaxPollAttempts:   240,
		MaxPollErrors:     10,
		PollLogEvery:      15,
		MaxTokensPerChunk: 400,
		MaxOverlapTokens:  40,
		Workers:           3,
		RequestsPerSecond: 2,
		Burst:             4,
		MaxRowChars:       24000,
	}
}

func newHarness(t interface{ TempDir() string }, mutate func(*config.SyncConfig), stores ...*model.VectorStore) *harness {
	cfg := testSyncConfig()
	cfg.TempDir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		stores:  newMemStores(stores...),
		docs:    &memDocuments{},
		audits:  &memAudits{},
		users:   &memUsers{clients: map[string][]string{}},
		sources: &memSources{tables: map[model.SourceType]map[string]bool{}},
		remote:  newFakeRemote(),
	}
	h.resolver = &fakeResolver{client: h.remote}

	repos := &repository.Repositories{
		Store:       h.stores,
		Document:    h.docs,
		AuditReport: h.audits,
		User:        h.users,
		Source:      h.sources,
	}
	h.svc = NewService(repos, h.resolver, cfg,
		WithLogger(logger.Discard()),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			h.sleeps++
			return ctx.Err()
		}),
		WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
	)
	return h
}

func consultantStore(id, ownerID string) *model.VectorStore {
	return &model.VectorStore{
		ID:         id,
		RemoteName: remote.StoreName(id),
		OwnerID:    ownerID,
		OwnerType:  model.OwnerTypeConsultant,
		IsActive:   true,
	}
}
