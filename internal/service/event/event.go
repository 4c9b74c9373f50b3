// Package event 同步进度事件：按通道发布/订阅，并支持晚到的订阅者回放
package event

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Phase 进度阶段
type Phase string

const (
	PhaseStart              Phase = "start"
	PhaseExtracting         Phase = "extracting"
	PhaseExtractingComplete Phase = "extracting_complete"
	PhaseSyncing            Phase = "syncing"
	PhaseComplete           Phase = "complete"
	PhaseError              Phase = "error"
)

// Terminal 是否为结束阶段
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// Event 进度事件
type Event struct {
	ID        string                 `json:"id"`
	Channel   string                 `json:"channel"`
	Phase     Phase                  `json:"phase"`
	Percent   int                    `json:"percent"`
	Message   string                 `json:"message,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// 通道名形如 {kind}:{scope}:{id}，scope 为发起同步的租户
const (
	channelSync     = "sync"
	channelDocument = "document"

	// SystemScope 命令行和后台任务发起的运行
	SystemScope = "system"
)

// SyncChannel 一次同步运行的通道名
func SyncChannel(scope, runID string) string {
	return channelSync + ":" + scope + ":" + runID
}

// DocumentChannel 单个文档的通道名
func DocumentChannel(scope, sourceID string) string {
	return channelDocument + ":" + scope + ":" + sourceID
}

// ChannelScope 解析通道所属租户；不是合法通道名时返回 false
func ChannelScope(channel string) (string, bool) {
	parts := strings.SplitN(channel, ":", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", false
	}
	if parts[0] != channelSync && parts[0] != channelDocument {
		return "", false
	}
	return parts[1], true
}

// Store 事件存储接口
type Store interface {
	SaveEvent(ctx context.Context, evt *Event) error
	GetEvents(ctx context.Context, channel string) ([]*Event, error)
	ClearEvents(ctx context.Context, channel string) error
}

// Handler 事件处理器接口
type Handler interface {
	Handle(ctx context.Context, evt *Event) error
}

// HandlerFunc 函数类型的事件处理器
type HandlerFunc func(ctx context.Context, evt *Event) error

// Handle 实现 Handler 接口
func (f HandlerFunc) Handle(ctx context.Context, evt *Event) error {
	return f(ctx, evt)
}

// ========== MemoryStore ==========

const (
	defaultRetention   = 5 * time.Minute
	defaultIdleTimeout = time.Hour
	defaultMaxChannels = 1000
)

type channelLog struct {
	events   []*Event
	lastAt   time.Time
	finished bool // 已收到结束阶段
}

// MemoryStore 每个通道只保留最近 limit 条事件。
// 通道收到结束阶段后再保留 retention 供晚到的订阅者回放；
// 没有结束的通道空闲 idleTimeout 后丢弃；通道数超过 maxChannels 时淘汰最旧的。
type MemoryStore struct {
	mu          sync.Mutex
	channels    map[string]*channelLog
	limit       int
	retention   time.Duration
	idleTimeout time.Duration
	maxChannels int
	now         func() time.Time
}

// MemoryOption MemoryStore 配置项
type MemoryOption func(*MemoryStore)

// WithRetention 结束后的保留时间
func WithRetention(d time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithIdleTimeout 未结束通道的空闲上限
func WithIdleTimeout(d time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		if d > 0 {
			m.idleTimeout = d
		}
	}
}

// WithMaxChannels 同时保留的通道数上限
func WithMaxChannels(n int) MemoryOption {
	return func(m *MemoryStore) {
		if n > 0 {
			m.maxChannels = n
		}
	}
}

// WithStoreClock 替换时钟
func WithStoreClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) { m.now = now }
}

// NewMemoryStore 创建内存事件存储
func NewMemoryStore(limit int, opts ...MemoryOption) *MemoryStore {
	if limit <= 0 {
		limit = 100
	}
	m := &MemoryStore{
		channels:    make(map[string]*channelLog),
		limit:       limit,
		retention:   defaultRetention,
		idleTimeout: defaultIdleTimeout,
		maxChannels: defaultMaxChannels,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SaveEvent 保存事件
func (m *MemoryStore) SaveEvent(ctx context.Context, evt *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cl, ok := m.channels[evt.Channel]
	if !ok {
		if len(m.channels) >= m.maxChannels {
			m.evictOldest()
		}
		cl = &channelLog{}
		m.channels[evt.Channel] = cl
	}

	cl.events = append(cl.events, evt)
	if len(cl.events) > m.limit {
		cl.events = cl.events[len(cl.events)-m.limit:]
	}
	cl.lastAt = m.now()
	cl.finished = evt.Phase.Terminal()
	return nil
}

// evictOldest 优先淘汰已结束的通道；调用方持有锁
func (m *MemoryStore) evictOldest() {
	var victim string
	var victimCl *channelLog
	for name, cl := range m.channels {
		if victimCl == nil ||
			(cl.finished && !victimCl.finished) ||
			(cl.finished == victimCl.finished && cl.lastAt.Before(victimCl.lastAt)) {
			victim, victimCl = name, cl
		}
	}
	if victimCl != nil {
		delete(m.channels, victim)
	}
}

// GetEvents 获取通道事件（副本）
func (m *MemoryStore) GetEvents(ctx context.Context, channel string) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cl, ok := m.channels[channel]
	if !ok {
		return []*Event{}, nil
	}
	out := make([]*Event, len(cl.events))
	copy(out, cl.events)
	return out, nil
}

// ClearEvents 清空通道事件
func (m *MemoryStore) ClearEvents(ctx context.Context, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, channel)
	return nil
}

// Len 当前保留的通道数
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

// Sweep 丢弃过了保留期的通道，返回丢弃数量
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for name, cl := range m.channels {
		ttl := m.idleTimeout
		if cl.finished {
			ttl = m.retention
		}
		if now.Sub(cl.lastAt) >= ttl {
			delete(m.channels, name)
			removed++
		}
	}
	return removed
}

// RunSweeper 按 interval 周期清理，直到 ctx 取消
func (m *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// ========== EventBus ==========

type subscription struct {
	id      uint64
	handler Handler
}

// EventBus 事件总线。同一通道内按发布顺序同步投递
type EventBus struct {
	store       Store
	subscribers map[string][]subscription
	nextID      uint64
	mu          sync.RWMutex
	now         func() time.Time
}

// NewEventBus 创建事件总线，store 可为 nil
func NewEventBus(store Store) *EventBus {
	return &EventBus{
		store:       store,
		subscribers: make(map[string][]subscription),
		now:         time.Now,
	}
}

// GetEvents 获取通道的历史事件
func (b *EventBus) GetEvents(ctx context.Context, channel string) ([]*Event, error) {
	if b.store != nil {
		return b.store.GetEvents(ctx, channel)
	}
	return []*Event{}, nil
}

// ClearEvents 清空通道事件
func (b *EventBus) ClearEvents(ctx context.Context, channel string) error {
	if b.store != nil {
		return b.store.ClearEvents(ctx, channel)
	}
	return nil
}

// Subscribe 订阅通道，返回取消函数
func (b *EventBus) Subscribe(channel string, handler Handler) (func(), error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subscribers[channel] = append(b.subscribers[channel], subscription{id: id, handler: handler})

	return func() { b.unsubscribe(channel, id) }, nil
}

func (b *EventBus) unsubscribe(channel string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[channel]
	for i, s := range subs {
		if s.id == id {
			b.subscribers[channel] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[channel]) == 0 {
		delete(b.subscribers, channel)
	}
}

// Publish 发布事件。处理器错误不影响其他订阅者
func (b *EventBus) Publish(ctx context.Context, evt *Event) error {
	if evt.ID == "" {
		evt.ID = "evt_" + uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.now()
	}

	if b.store != nil {
		if err := b.store.SaveEvent(ctx, evt); err != nil {
			return err
		}
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.subscribers[evt.Channel]...)
	b.mu.RUnlock()

	for _, s := range subs {
		_ = s.handler.Handle(ctx, evt)
	}
	return nil
}

// ========== Reporter ==========

// Reporter 向单个通道报告进度
type Reporter struct {
	bus     *EventBus
	channel string
}

// NewReporter 创建进度报告器，bus 为 nil 时所有调用都是空操作
func NewReporter(bus *EventBus, channel string) *Reporter {
	return &Reporter{bus: bus, channel: channel}
}

// Channel 通道名
func (r *Reporter) Channel() string {
	return r.channel
}

// Report 发布一条进度
func (r *Reporter) Report(ctx context.Context, phase Phase, percent int, message string, extra map[string]interface{}) {
	if r == nil || r.bus == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	_ = r.bus.Publish(ctx, &Event{
		Channel: r.channel,
		Phase:   phase,
		Percent: percent,
		Message: message,
		Extra:   extra,
	})
}
