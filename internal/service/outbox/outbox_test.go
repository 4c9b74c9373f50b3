package outbox

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwinyue/next-sync/internal/config"
	"github.com/ashwinyue/next-sync/internal/model"
	"github.com/ashwinyue/next-sync/internal/repository"
)

// memTasks 内存任务仓库
type memTasks struct {
	mu    sync.Mutex
	tasks map[string]*model.SyncTask
	seq   int
}

func newMemTasks() *memTasks {
	return &memTasks{tasks: map[string]*model.SyncTask{}}
}

func (m *memTasks) Create(ctx context.Context, task *model.SyncTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	m.seq++
	task.CreatedAt = time.Unix(int64(m.seq), 0)
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *memTasks) GetByID(ctx context.Context, id string) (*model.SyncTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTasks) update(id string, fn func(t *model.SyncTask)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(t)
	return nil
}

func (m *memTasks) MarkRunning(ctx context.Context, id string) error {
	return m.update(id, func(t *model.SyncTask) {
		t.Status = model.SyncTaskStatusRunning
		t.Attempts++
	})
}

func (m *memTasks) MarkSucceeded(ctx context.Context, id string) error {
	return m.update(id, func(t *model.SyncTask) {
		t.Status = model.SyncTaskStatusSucceeded
		t.LastError = ""
	})
}

func (m *memTasks) MarkFailed(ctx context.Context, id string, lastErr string) error {
	return m.update(id, func(t *model.SyncTask) {
		t.Status = model.SyncTaskStatusFailed
		t.LastError = lastErr
	})
}

func (m *memTasks) Requeue(ctx context.Context, id string) error {
	return m.update(id, func(t *model.SyncTask) {
		t.Status = model.SyncTaskStatusPending
	})
}

func (m *memTasks) ListByStatus(ctx context.Context, status model.SyncTaskStatus, limit int) ([]*model.SyncTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.SyncTask
	for _, t := range m.tasks {
		if t.Status == status {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestQueue(t *testing.T, maxAttempts int) (*Queue, *memTasks) {
	t.Helper()
	tasks := newMemTasks()
	q := NewQueue(tasks, config.OutboxConfig{Workers: 2, QueueSize: 16, MaxAttempts: maxAttempts}, quietLogger())
	return q, tasks
}

func waitStatus(t *testing.T, q *Queue, id string, want model.SyncTaskStatus) *model.SyncTask {
	t.Helper()
	var got *model.SyncTask
	require.Eventually(t, func() bool {
		task, err := q.Get(context.Background(), id)
		if err != nil {
			return false
		}
		got = task
		return task.Status == want
	}, 2*time.Second, 5*time.Millisecond, "task %s never reached %s", id, want)
	return got
}

type payload struct {
	OwnerID string `json:"owner_id"`
	Count   int    `json:"count"`
}

// ========== Queue 测试 ==========

func TestEnqueue_UnknownKind(t *testing.T) {
	q, tasks := newTestQueue(t, 1)
	_, err := q.Enqueue(context.Background(), "nope", nil)
	assert.True(t, errors.Is(err, ErrUnknownKind))
	assert.Empty(t, tasks.tasks)
}

func TestEnqueue_RunsHandler(t *testing.T) {
	q, _ := newTestQueue(t, 1)
	ctx := context.Background()

	got := make(chan payload, 1)
	q.Register("sync", func(ctx context.Context, task *model.SyncTask) error {
		var p payload
		if err := DecodePayload(task, &p); err != nil {
			return err
		}
		got <- p
		return nil
	})
	require.NoError(t, q.Start(ctx))
	defer q.Stop()

	task, err := q.Enqueue(ctx, "sync", payload{OwnerID: "C1", Count: 3})
	require.NoError(t, err)

	select {
	case p := <-got:
		assert.Equal(t, payload{OwnerID: "C1", Count: 3}, p)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called")
	}
	done := waitStatus(t, q, task.ID, model.SyncTaskStatusSucceeded)
	assert.Equal(t, 1, done.Attempts)
}

func TestProcess_RetriesWithinBudget(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx := context.Background()

	var calls int32
	q.Register("flaky", func(ctx context.Context, task *model.SyncTask) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, q.Start(ctx))
	defer q.Stop()

	task, err := q.Enqueue(ctx, "flaky", nil)
	require.NoError(t, err)

	done := waitStatus(t, q, task.ID, model.SyncTaskStatusSucceeded)
	assert.Equal(t, 3, done.Attempts)
	assert.Empty(t, done.LastError)
}

func TestProcess_FailureThenRetryFailed(t *testing.T) {
	q, _ := newTestQueue(t, 2)
	ctx := context.Background()

	var healthy atomic.Bool
	q.Register("sync", func(ctx context.Context, task *model.SyncTask) error {
		if !healthy.Load() {
			return errors.New("remote down")
		}
		return nil
	})

	_, err := q.RetryFailed(ctx, 10)
	assert.True(t, errors.Is(err, ErrNotRunning))

	require.NoError(t, q.Start(ctx))
	defer q.Stop()

	task, err := q.Enqueue(ctx, "sync", nil)
	require.NoError(t, err)

	failed := waitStatus(t, q, task.ID, model.SyncTaskStatusFailed)
	assert.Equal(t, 2, failed.Attempts)
	assert.Equal(t, "remote down", failed.LastError)

	healthy.Store(true)
	n, err := q.RetryFailed(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	done := waitStatus(t, q, task.ID, model.SyncTaskStatusSucceeded)
	assert.Equal(t, 3, done.Attempts)
}

func TestProcess_PanicBecomesFailure(t *testing.T) {
	q, _ := newTestQueue(t, 1)
	ctx := context.Background()

	q.Register("boom", func(ctx context.Context, task *model.SyncTask) error {
		panic("nil map")
	})
	require.NoError(t, q.Start(ctx))
	defer q.Stop()

	task, err := q.Enqueue(ctx, "boom", nil)
	require.NoError(t, err)

	failed := waitStatus(t, q, task.ID, model.SyncTaskStatusFailed)
	assert.Contains(t, failed.LastError, "task panicked")
}

func TestProcess_PermanentErrorNotRetried(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx := context.Background()

	var calls int32
	q.Register("sync", func(ctx context.Context, task *model.SyncTask) error {
		atomic.AddInt32(&calls, 1)
		return Permanent(errors.New("no credentials configured"))
	})
	require.NoError(t, q.Start(ctx))
	defer q.Stop()

	task, err := q.Enqueue(ctx, "sync", nil)
	require.NoError(t, err)

	failed := waitStatus(t, q, task.ID, model.SyncTaskStatusFailed)
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, "no credentials configured", failed.LastError)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Nil(t, Permanent(nil))
}

func TestStart_RecoversPendingTasks(t *testing.T) {
	q, tasks := newTestQueue(t, 1)
	ctx := context.Background()

	var calls int32
	q.Register("sync", func(ctx context.Context, task *model.SyncTask) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	// 上次进程留下的任务
	stale := []*model.SyncTask{
		{Kind: "sync", Status: model.SyncTaskStatusPending},
		{Kind: "sync", Status: model.SyncTaskStatusRunning, Attempts: 1},
		{Kind: "sync", Status: model.SyncTaskStatusSucceeded},
	}
	for _, s := range stale {
		require.NoError(t, tasks.Create(ctx, s))
	}

	require.NoError(t, q.Start(ctx))
	defer q.Stop()

	waitStatus(t, q, stale[0].ID, model.SyncTaskStatusSucceeded)
	waitStatus(t, q, stale[1].ID, model.SyncTaskStatusSucceeded)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// newNarrowQueue 单 worker、容量 1 的队列，第一个任务阻塞到 release 关闭
func newNarrowQueue(t *testing.T) (*Queue, *memTasks, chan struct{}, chan struct{}) {
	t.Helper()
	tasks := newMemTasks()
	q := NewQueue(tasks, config.OutboxConfig{
		Workers:       1,
		QueueSize:     1,
		MaxAttempts:   1,
		SweepInterval: 20 * time.Millisecond,
	}, quietLogger())

	started := make(chan struct{})
	release := make(chan struct{})
	var first sync.Once
	q.Register("sync", func(ctx context.Context, task *model.SyncTask) error {
		blocked := false
		first.Do(func() { blocked = true })
		if blocked {
			close(started)
			<-release
		}
		return nil
	})
	return q, tasks, started, release
}

func TestEnqueue_QueueFullPickedUpBySweep(t *testing.T) {
	q, _, started, release := newNarrowQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Start(ctx))
	defer q.Stop()

	t1, err := q.Enqueue(ctx, "sync", nil)
	require.NoError(t, err)
	<-started

	// t2 占满通道，t3 投递失败只留在表里
	t2, err := q.Enqueue(ctx, "sync", nil)
	require.NoError(t, err)
	t3, err := q.Enqueue(ctx, "sync", nil)
	require.NoError(t, err)

	stored, err := q.Get(ctx, t3.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncTaskStatusPending, stored.Status)

	close(release)
	waitStatus(t, q, t1.ID, model.SyncTaskStatusSucceeded)
	waitStatus(t, q, t2.ID, model.SyncTaskStatusSucceeded)
	done := waitStatus(t, q, t3.ID, model.SyncTaskStatusSucceeded)
	assert.Equal(t, 1, done.Attempts)
}

func TestRetryFailed_QueueFullStillRequeues(t *testing.T) {
	q, tasks, started, release := newNarrowQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Start(ctx))
	defer q.Stop()

	_, err := q.Enqueue(ctx, "sync", nil)
	require.NoError(t, err)
	<-started
	_, err = q.Enqueue(ctx, "sync", nil)
	require.NoError(t, err)

	failed := []*model.SyncTask{
		{Kind: "sync", Status: model.SyncTaskStatusFailed, Attempts: 1, LastError: "remote down"},
		{Kind: "sync", Status: model.SyncTaskStatusFailed, Attempts: 1, LastError: "remote down"},
	}
	for _, f := range failed {
		require.NoError(t, tasks.Create(ctx, f))
	}

	n, err := q.RetryFailed(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	close(release)
	for _, f := range failed {
		done := waitStatus(t, q, f.ID, model.SyncTaskStatusSucceeded)
		assert.Equal(t, 2, done.Attempts)
	}
}

func TestSweepPending_SkipsQueuedTasks(t *testing.T) {
	tasks := newMemTasks()
	q := NewQueue(tasks, config.OutboxConfig{Workers: 1, QueueSize: 1, MaxAttempts: 1}, quietLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, tasks.Create(ctx, &model.SyncTask{Kind: "sync", Status: model.SyncTaskStatusPending}))
	}

	n, err := q.SweepPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// 第一个仍在通道里，第二个放不进去
	n, err = q.SweepPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, q.queue, 1)
}

func TestProcess_UnregisteredKindFails(t *testing.T) {
	q, tasks := newTestQueue(t, 1)
	ctx := context.Background()

	orphan := &model.SyncTask{Kind: "legacy", Status: model.SyncTaskStatusPending}
	require.NoError(t, tasks.Create(ctx, orphan))

	require.NoError(t, q.Start(ctx))
	defer q.Stop()

	failed := waitStatus(t, q, orphan.ID, model.SyncTaskStatusFailed)
	assert.Contains(t, failed.LastError, "legacy")
}

func TestStop_Idempotent(t *testing.T) {
	q, _ := newTestQueue(t, 1)
	q.Stop()
	require.NoError(t, q.Start(context.Background()))
	require.NoError(t, q.Start(context.Background()))
	q.Stop()
	q.Stop()
}

func TestEncodePayload(t *testing.T) {
	data, err := encodePayload(payload{OwnerID: "C1", Count: 2})
	require.NoError(t, err)
	assert.Equal(t, "C1", data["owner_id"])

	_, err = encodePayload([]string{"not", "an", "object"})
	assert.Error(t, err)

	empty, err := encodePayload(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
