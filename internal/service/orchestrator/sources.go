package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ashwinyue/next-sync/internal/model"
	"github.com/ashwinyue/next-sync/internal/service/event"
	"github.com/ashwinyue/next-sync/internal/service/vectorsync"
)

// ErrUnsupportedSource 没有对应编排器的来源类型
var ErrUnsupportedSource = errors.New("unsupported source type")

// Request 一次同步请求
type Request struct {
	SourceType model.SourceType `json:"source_type"`
	// OwnerID 顾问 ID、客户 ID 或机器人配置 ID，取决于来源类型
	OwnerID string `json:"owner_id"`
	// TenantID 显式指定凭证租户
	TenantID string `json:"tenant_id,omitempty"`
	// RunID 进度通道，空时不发布进度
	RunID string `json:"run_id,omitempty"`
	// Scope 进度通道所属租户，只有该租户能订阅；空时为 event.SystemScope
	Scope string `json:"scope,omitempty"`
}

// source 一种来源的路由与加载方式
type source struct {
	ownerType model.OwnerType
	storeName func(ownerID string) string
	load      func(s *Service, ctx context.Context, ownerID string) ([]item, error)
}

func consultantStoreName(id string) string { return "Consultant " + id }
func clientStoreName(id string) string     { return "Client " + id }
func agentStoreName(id string) string      { return "Agent " + id }

// 资料库/知识库/练习/课程进顾问存储；客户知识/咨询/财务进客户私有存储；机器人知识进机器人存储
var sourceRoutes = map[model.SourceType]source{
	model.SourceTypeLibrary:                {model.OwnerTypeConsultant, consultantStoreName, (*Service).loadLibrary},
	model.SourceTypeKnowledgeBase:          {model.OwnerTypeConsultant, consultantStoreName, (*Service).loadKnowledgeBase},
	model.SourceTypeExercise:               {model.OwnerTypeConsultant, consultantStoreName, (*Service).loadExercises},
	model.SourceTypeUniversityLesson:       {model.OwnerTypeConsultant, consultantStoreName, (*Service).loadLessons},
	model.SourceTypeClientKnowledge:        {model.OwnerTypeClient, clientStoreName, (*Service).loadClientKnowledge},
	model.SourceTypeConsultation:           {model.OwnerTypeClient, clientStoreName, (*Service).loadConsultations},
	model.SourceTypeFinancialData:          {model.OwnerTypeClient, clientStoreName, (*Service).loadFinancialSnapshots},
	model.SourceTypeWhatsappAgentKnowledge: {model.OwnerTypeWhatsappAgent, agentStoreName, (*Service).loadAgentKnowledge},
}

// OwnerTypeOf 来源类型对应的所属者类型
func OwnerTypeOf(sourceType model.SourceType) (model.OwnerType, bool) {
	src, ok := sourceRoutes[sourceType]
	return src.ownerType, ok
}

// SupportedSources 可编排的来源类型（已排序）
func SupportedSources() []model.SourceType {
	out := make([]model.SourceType, 0, len(sourceRoutes))
	for t := range sourceRoutes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Sync 同步某个所属者的一种来源
func (s *Service) Sync(ctx context.Context, req Request) (*Result, error) {
	src, ok := sourceRoutes[req.SourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, req.SourceType)
	}
	if req.OwnerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}

	t := target{
		SourceType: req.SourceType,
		OwnerID:    req.OwnerID,
		OwnerType:  src.ownerType,
		StoreName:  src.storeName(req.OwnerID),
		TenantID:   req.TenantID,
		Scope:      req.Scope,
	}
	if t.Scope == "" {
		t.Scope = event.SystemScope
	}
	if req.RunID != "" {
		t.RunChannel = event.SyncChannel(t.Scope, req.RunID)
	}
	return s.run(ctx, t, func(ctx context.Context) ([]item, error) {
		return src.load(s, ctx, req.OwnerID)
	})
}

// SyncLibrary 同步顾问资料库
func (s *Service) SyncLibrary(ctx context.Context, consultantID, runID string) (*Result, error) {
	return s.Sync(ctx, Request{SourceType: model.SourceTypeLibrary, OwnerID: consultantID, RunID: runID})
}

// SyncClientKnowledge 同步客户私有知识
func (s *Service) SyncClientKnowledge(ctx context.Context, clientID, runID string) (*Result, error) {
	return s.Sync(ctx, Request{SourceType: model.SourceTypeClientKnowledge, OwnerID: clientID, RunID: runID})
}

// SyncAgentKnowledge 同步机器人知识条目
func (s *Service) SyncAgentKnowledge(ctx context.Context, agentConfigID, runID string) (*Result, error) {
	return s.Sync(ctx, Request{SourceType: model.SourceTypeWhatsappAgentKnowledge, OwnerID: agentConfigID, RunID: runID})
}

// ReconcileAgentKnowledge 机器人知识编辑后，删除存储中已不属于该机器人的条目
func (s *Service) ReconcileAgentKnowledge(ctx context.Context, agentConfigID, tenantID string) (*vectorsync.CleanupResult, error) {
	store, err := s.syncer.EnsureStore(ctx, agentConfigID, model.OwnerTypeWhatsappAgent, agentStoreName(agentConfigID))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store: %w", err)
	}

	items, err := s.sources.ListAgentKnowledge(ctx, agentConfigID)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent knowledge: %w", err)
	}

	// 超长条目被拆成分块，分块 ID 同样有效
	valid := make([]string, 0, len(items))
	for _, it := range items {
		valid = append(valid, it.ID)
		parts, err := s.splitter.Split(ctx, it.Content)
		if err != nil {
			return nil, err
		}
		if len(parts) > 1 {
			for n := range parts {
				valid = append(valid, vectorsync.ChunkSourceID(it.ID, n))
			}
		}
	}
	return s.syncer.ReconcileBySourceType(ctx, store.ID, model.SourceTypeWhatsappAgentKnowledge, valid, tenantID)
}

// ========== 各来源加载 ==========

func (s *Service) loadLibrary(ctx context.Context, consultantID string) ([]item, error) {
	rows, err := s.sources.ListLibraryDocuments(ctx, consultantID)
	if err != nil {
		return nil, err
	}
	items := make([]item, 0, len(rows))
	for _, r := range rows {
		items = append(items, item{
			SourceID:    r.ID,
			DisplayName: titleOr(r.Title, r.FileName),
			Content:     r.Content,
			FilePath:    r.FilePath,
			FileName:    r.FileName,
			Metadata:    map[string]string{"consultant_id": consultantID},
		})
	}
	return items, nil
}

func (s *Service) loadKnowledgeBase(ctx context.Context, consultantID string) ([]item, error) {
	rows, err := s.sources.ListKnowledgeDocuments(ctx, consultantID)
	if err != nil {
		return nil, err
	}
	items := make([]item, 0, len(rows))
	for _, r := range rows {
		items = append(items, item{
			SourceID:    r.ID,
			DisplayName: titleOr(r.Title, r.ID),
			Content:     r.Content,
			Metadata:    map[string]string{"consultant_id": consultantID},
		})
	}
	return items, nil
}

func (s *Service) loadExercises(ctx context.Context, consultantID string) ([]item, error) {
	rows, err := s.sources.ListExercises(ctx, consultantID)
	if err != nil {
		return nil, err
	}
	items := make([]item, 0, len(rows))
	for _, r := range rows {
		items = append(items, item{
			SourceID:    r.ID,
			DisplayName: titleOr(r.Title, r.ID),
			Content:     joinSections("# "+r.Title, r.Instructions),
			Metadata:    map[string]string{"consultant_id": consultantID},
		})
	}
	return items, nil
}

func (s *Service) loadLessons(ctx context.Context, consultantID string) ([]item, error) {
	rows, err := s.sources.ListLessons(ctx, consultantID)
	if err != nil {
		return nil, err
	}
	items := make([]item, 0, len(rows))
	for _, r := range rows {
		items = append(items, item{
			SourceID:    r.ID,
			DisplayName: titleOr(r.Title, r.ID),
			Content:     joinSections("# "+r.Title, r.Content),
			Metadata:    map[string]string{"consultant_id": consultantID},
		})
	}
	return items, nil
}

func (s *Service) loadClientKnowledge(ctx context.Context, clientID string) ([]item, error) {
	rows, err := s.sources.ListClientKnowledge(ctx, clientID)
	if err != nil {
		return nil, err
	}
	items := make([]item, 0, len(rows))
	for _, r := range rows {
		items = append(items, item{
			SourceID:    r.ID,
			DisplayName: titleOr(r.Title, r.ID),
			Content:     r.Content,
			ClientID:    clientID,
		})
	}
	return items, nil
}

func (s *Service) loadConsultations(ctx context.Context, clientID string) ([]item, error) {
	rows, err := s.sources.ListConsultations(ctx, clientID)
	if err != nil {
		return nil, err
	}
	items := make([]item, 0, len(rows))
	for _, r := range rows {
		date := r.ScheduledAt.Format("2006-01-02")
		content := ""
		if r.Summary != "" || r.Transcript != "" {
			content = joinSections("# Consultation "+date, labeled("Summary", r.Summary), labeled("Transcript", r.Transcript))
		}
		items = append(items, item{
			SourceID:    r.ID,
			DisplayName: "Consultation " + date,
			Content:     content,
			ClientID:    clientID,
			Metadata:    map[string]string{"consultant_id": r.ConsultantID},
		})
	}
	return items, nil
}

func (s *Service) loadFinancialSnapshots(ctx context.Context, clientID string) ([]item, error) {
	rows, err := s.sources.ListFinancialSnapshots(ctx, clientID)
	if err != nil {
		return nil, err
	}
	items := make([]item, 0, len(rows))
	for _, r := range rows {
		content := ""
		if len(r.Data) > 0 {
			data, err := json.MarshalIndent(r.Data, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to encode snapshot %s: %w", r.ID, err)
			}
			content = joinSections("# Financial snapshot "+r.Period, string(data))
		}
		items = append(items, item{
			SourceID:    r.ID,
			DisplayName: "Financial snapshot " + r.Period,
			Content:     content,
			MimeType:    "text/plain",
			ClientID:    clientID,
			Metadata:    map[string]string{"period": r.Period},
		})
	}
	return items, nil
}

func (s *Service) loadAgentKnowledge(ctx context.Context, agentConfigID string) ([]item, error) {
	rows, err := s.sources.ListAgentKnowledge(ctx, agentConfigID)
	if err != nil {
		return nil, err
	}
	items := make([]item, 0, len(rows))
	for _, r := range rows {
		items = append(items, item{
			SourceID:    r.ID,
			DisplayName: titleOr(r.Title, r.ID),
			Content:     r.Content,
			Metadata:    map[string]string{"agent_config_id": agentConfigID},
		})
	}
	return items, nil
}

func titleOr(title, fallback string) string {
	if strings.TrimSpace(title) != "" {
		return title
	}
	return fallback
}

func labeled(label, text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return label + ":\n" + text
}

// joinSections 拼接非空段落；只有标题时返回空
func joinSections(heading string, sections ...string) string {
	parts := make([]string, 0, len(sections))
	for _, sec := range sections {
		if strings.TrimSpace(sec) != "" {
			parts = append(parts, sec)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return heading + "\n\n" + strings.Join(parts, "\n\n")
}
