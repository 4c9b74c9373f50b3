package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// mockStore 模拟事件存储
type mockStore struct {
	events    map[string][]*Event
	mu        sync.Mutex
	saveError error
}

func newMockStore() *mockStore {
	return &mockStore{
		events: make(map[string][]*Event),
	}
}

func (m *mockStore) SaveEvent(ctx context.Context, evt *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveError != nil {
		return m.saveError
	}
	m.events[evt.Channel] = append(m.events[evt.Channel], evt)
	return nil
}

func (m *mockStore) GetEvents(ctx context.Context, channel string) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[channel], nil
}

func (m *mockStore) ClearEvents(ctx context.Context, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, channel)
	return nil
}

// ========== EventBus 测试 ==========

func TestEventBus_Subscribe(t *testing.T) {
	tests := []struct {
		name        string
		handler     Handler
		wantErr     bool
		expectedSub int
	}{
		{
			name: "valid handler",
			handler: HandlerFunc(func(ctx context.Context, evt *Event) error {
				return nil
			}),
			expectedSub: 1,
		},
		{
			name:    "nil handler",
			handler: nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := NewEventBus(nil)

			cancel, err := bus.Subscribe("sync:r1", tt.handler)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Subscribe() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Subscribe() unexpected error: %v", err)
			}
			if len(bus.subscribers["sync:r1"]) != tt.expectedSub {
				t.Errorf("Expected %d subscribers, got %d", tt.expectedSub, len(bus.subscribers["sync:r1"]))
			}
			cancel()
			if _, ok := bus.subscribers["sync:r1"]; ok {
				t.Error("channel should be removed after the last unsubscribe")
			}
		})
	}
}

func TestEventBus_PublishOrderAndIsolation(t *testing.T) {
	store := newMockStore()
	bus := NewEventBus(store)
	ctx := context.Background()

	var got []Phase
	cancel, _ := bus.Subscribe("sync:a", HandlerFunc(func(ctx context.Context, evt *Event) error {
		got = append(got, evt.Phase)
		return nil
	}))
	defer cancel()

	otherCalls := 0
	_, _ = bus.Subscribe("sync:b", HandlerFunc(func(ctx context.Context, evt *Event) error {
		otherCalls++
		return nil
	}))

	phases := []Phase{PhaseStart, PhaseExtracting, PhaseExtractingComplete, PhaseSyncing, PhaseComplete}
	for _, p := range phases {
		if err := bus.Publish(ctx, &Event{Channel: "sync:a", Phase: p}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	if fmt.Sprint(got) != fmt.Sprint(phases) {
		t.Errorf("delivered phases = %v, want %v", got, phases)
	}
	if otherCalls != 0 {
		t.Errorf("subscriber on another channel got %d events", otherCalls)
	}

	events, _ := bus.GetEvents(ctx, "sync:a")
	if len(events) != len(phases) {
		t.Fatalf("stored %d events, want %d", len(events), len(phases))
	}
	if events[0].ID == "" || events[0].Timestamp.IsZero() {
		t.Error("Publish() should assign an id and timestamp")
	}
}

func TestEventBus_HandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := NewEventBus(nil)
	called := false
	_, _ = bus.Subscribe("c", HandlerFunc(func(ctx context.Context, evt *Event) error {
		return errors.New("boom")
	}))
	_, _ = bus.Subscribe("c", HandlerFunc(func(ctx context.Context, evt *Event) error {
		called = true
		return nil
	}))

	if err := bus.Publish(context.Background(), &Event{Channel: "c", Phase: PhaseStart}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !called {
		t.Error("second handler was not called")
	}
}

func TestEventBus_StoreError(t *testing.T) {
	store := newMockStore()
	store.saveError = errors.New("full")
	bus := NewEventBus(store)

	called := false
	_, _ = bus.Subscribe("c", HandlerFunc(func(ctx context.Context, evt *Event) error {
		called = true
		return nil
	}))
	if err := bus.Publish(context.Background(), &Event{Channel: "c"}); err == nil {
		t.Error("Publish() expected store error")
	}
	if called {
		t.Error("handlers should not run when the event could not be saved")
	}
}

func TestEventBus_ClearEvents(t *testing.T) {
	bus := NewEventBus(NewMemoryStore(10))
	ctx := context.Background()
	_ = bus.Publish(ctx, &Event{Channel: "c", Phase: PhaseStart})

	if err := bus.ClearEvents(ctx, "c"); err != nil {
		t.Fatalf("ClearEvents() error = %v", err)
	}
	events, _ := bus.GetEvents(ctx, "c")
	if len(events) != 0 {
		t.Errorf("expected no events after clear, got %d", len(events))
	}

	empty := NewEventBus(nil)
	events, err := empty.GetEvents(ctx, "c")
	if err != nil || len(events) != 0 {
		t.Errorf("GetEvents() without store = %v, %v", events, err)
	}
}

// ========== MemoryStore 测试 ==========

func TestMemoryStore_Limit(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = store.SaveEvent(ctx, &Event{Channel: "c", Percent: i})
	}
	events, _ := store.GetEvents(ctx, "c")
	if len(events) != 3 {
		t.Fatalf("kept %d events, want 3", len(events))
	}
	if events[0].Percent != 2 || events[2].Percent != 4 {
		t.Errorf("kept percents %d..%d, want 2..4", events[0].Percent, events[2].Percent)
	}
}

func TestMemoryStore_SweepFinishedAfterRetention(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	store := NewMemoryStore(10, WithRetention(time.Minute), WithIdleTimeout(time.Hour), WithStoreClock(clock.now))
	ctx := context.Background()

	_ = store.SaveEvent(ctx, &Event{Channel: "sync:T1:done", Phase: PhaseStart})
	_ = store.SaveEvent(ctx, &Event{Channel: "sync:T1:done", Phase: PhaseComplete})
	_ = store.SaveEvent(ctx, &Event{Channel: "sync:T1:live", Phase: PhaseSyncing})

	// 保留期内仍可回放
	clock.t = clock.t.Add(30 * time.Second)
	if n := store.Sweep(); n != 0 {
		t.Fatalf("Sweep() removed %d channels inside retention", n)
	}
	events, _ := store.GetEvents(ctx, "sync:T1:done")
	if len(events) != 2 {
		t.Fatalf("replay has %d events, want 2", len(events))
	}

	clock.t = clock.t.Add(time.Minute)
	if n := store.Sweep(); n != 1 {
		t.Fatalf("Sweep() removed %d channels, want 1", n)
	}
	events, _ = store.GetEvents(ctx, "sync:T1:done")
	if len(events) != 0 {
		t.Errorf("finished channel still has %d events", len(events))
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want the unfinished channel only", store.Len())
	}

	// 没有结束的通道空闲超时后也会丢弃
	clock.t = clock.t.Add(time.Hour)
	if n := store.Sweep(); n != 1 {
		t.Errorf("Sweep() removed %d idle channels, want 1", n)
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d after idle sweep", store.Len())
	}
}

func TestMemoryStore_MaxChannelsEvictsFinishedFirst(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	store := NewMemoryStore(10, WithMaxChannels(2), WithStoreClock(clock.now))
	ctx := context.Background()

	_ = store.SaveEvent(ctx, &Event{Channel: "a", Phase: PhaseSyncing})
	clock.t = clock.t.Add(time.Second)
	_ = store.SaveEvent(ctx, &Event{Channel: "b", Phase: PhaseComplete})
	clock.t = clock.t.Add(time.Second)

	// a 更旧但仍在进行，应淘汰已结束的 b
	_ = store.SaveEvent(ctx, &Event{Channel: "c", Phase: PhaseStart})
	if store.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", store.Len())
	}
	if events, _ := store.GetEvents(ctx, "b"); len(events) != 0 {
		t.Error("finished channel b should have been evicted")
	}
	if events, _ := store.GetEvents(ctx, "a"); len(events) != 1 {
		t.Error("running channel a should be kept")
	}

	// 都未结束时淘汰最久未更新的
	clock.t = clock.t.Add(time.Second)
	_ = store.SaveEvent(ctx, &Event{Channel: "d", Phase: PhaseStart})
	if events, _ := store.GetEvents(ctx, "a"); len(events) != 0 {
		t.Error("oldest channel a should have been evicted")
	}
	if store.Len() != 2 {
		t.Errorf("Len() = %d, want 2", store.Len())
	}
}

func TestMemoryStore_RunSweeperStops(t *testing.T) {
	store := NewMemoryStore(0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSweeper did not return after cancel")
	}
}

// ========== Reporter 测试 ==========

func TestReporter_Report(t *testing.T) {
	bus := NewEventBus(NewMemoryStore(0))
	r := NewReporter(bus, SyncChannel("T1", "r1"))
	ctx := context.Background()

	r.Report(ctx, PhaseSyncing, 140, "almost", map[string]interface{}{"synced": 3})
	r.Report(ctx, PhaseError, -5, "failed", nil)

	events, _ := bus.GetEvents(ctx, "sync:T1:r1")
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Percent != 100 || events[1].Percent != 0 {
		t.Errorf("percent not clamped: %d, %d", events[0].Percent, events[1].Percent)
	}
	if !events[1].Phase.Terminal() || events[0].Phase.Terminal() {
		t.Error("Terminal() mismatch")
	}

	var nilReporter *Reporter
	nilReporter.Report(ctx, PhaseStart, 0, "", nil)
	NewReporter(nil, "x").Report(ctx, PhaseStart, 0, "", nil)
}

func TestChannelNames(t *testing.T) {
	if SyncChannel("T1", "abc") != "sync:T1:abc" {
		t.Errorf("SyncChannel() = %q", SyncChannel("T1", "abc"))
	}
	if DocumentChannel("T1", "d1") != "document:T1:d1" {
		t.Errorf("DocumentChannel() = %q", DocumentChannel("T1", "d1"))
	}
}

func TestChannelScope(t *testing.T) {
	tests := []struct {
		name      string
		channel   string
		wantScope string
		wantOK    bool
	}{
		{"同步通道", SyncChannel("T1", "r1"), "T1", true},
		{"文档通道", DocumentChannel("T2", "kb:1"), "T2", true},
		{"缺少租户", "sync::r1", "", false},
		{"旧格式", "sync:r1", "", false},
		{"未知类型", "chat:T1:r1", "", false},
		{"空字符串", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope, ok := ChannelScope(tt.channel)
			if scope != tt.wantScope || ok != tt.wantOK {
				t.Errorf("ChannelScope(%q) = %q, %v; want %q, %v", tt.channel, scope, ok, tt.wantScope, tt.wantOK)
			}
		})
	}
}

func BenchmarkEventBus_Publish(b *testing.B) {
	bus := NewEventBus(NewMemoryStore(100))
	ctx := context.Background()
	_, _ = bus.Subscribe("c", HandlerFunc(func(ctx context.Context, evt *Event) error { return nil }))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = bus.Publish(ctx, &Event{Channel: "c", Phase: PhaseSyncing, Timestamp: time.Now()})
	}
}
