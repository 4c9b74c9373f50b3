// Package outbox 持久化的进程内任务队列
//
// 任务先写入 sync_tasks 表，再交给固定数量的 worker 执行。
// 队列满时任务保持 pending，由周期扫描重新投递；进程重启时 Start 会恢复 pending / running 任务。
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ashwinyue/next-sync/internal/config"
	"github.com/ashwinyue/next-sync/internal/model"
	"github.com/ashwinyue/next-sync/internal/repository"
)

var (
	ErrUnknownKind = errors.New("no handler registered for task kind")
	ErrNotRunning  = errors.New("outbox is not running")
)

// Handler 任务处理函数
type Handler func(ctx context.Context, task *model.SyncTask) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记不应自动重试的错误（例如配置错误），任务直接失败
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 是否为 Permanent 错误
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Queue 任务队列
type Queue struct {
	tasks       repository.SyncTaskRepository
	handlers    map[string]Handler
	queue       chan string
	workers       int
	maxAttempts   int
	sweepInterval time.Duration
	log           logrus.FieldLogger

	mu      sync.Mutex
	running bool
	queued  map[string]bool // 在通道中等待或正在执行的任务，避免重复投递
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewQueue 创建任务队列
func NewQueue(tasks repository.SyncTaskRepository, cfg config.OutboxConfig, log logrus.FieldLogger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	return &Queue{
		tasks:         tasks,
		handlers:      make(map[string]Handler),
		queue:         make(chan string, cfg.QueueSize),
		workers:       cfg.Workers,
		maxAttempts:   cfg.MaxAttempts,
		sweepInterval: cfg.SweepInterval,
		log:           log,
		queued:        make(map[string]bool),
	}
}

// Register 注册任务处理函数，需在 Start 之前调用
func (q *Queue) Register(kind string, handler Handler) {
	q.handlers[kind] = handler
}

// Enqueue 持久化任务并尝试投递；队列已满时任务保持 pending，等待下次扫描
func (q *Queue) Enqueue(ctx context.Context, kind string, payload interface{}) (*model.SyncTask, error) {
	if _, ok := q.handlers[kind]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	data, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	task := &model.SyncTask{Kind: kind, Payload: data, Status: model.SyncTaskStatusPending}
	if err := q.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to save task: %w", err)
	}

	if !q.offer(task.ID) {
		q.log.WithFields(logrus.Fields{"task_id": task.ID, "kind": kind}).
			Warn("outbox queue full, task left pending")
	}
	return task, nil
}

// Start 启动 worker 与 pending 扫描，并重新投递 pending / running（上次未完成）的任务
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = true
	q.stopCh = make(chan struct{})
	q.mu.Unlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	q.wg.Add(1)
	go q.sweeper(ctx)

	for _, status := range []model.SyncTaskStatus{model.SyncTaskStatusRunning, model.SyncTaskStatusPending} {
		stale, err := q.tasks.ListByStatus(ctx, status, cap(q.queue))
		if err != nil {
			return fmt.Errorf("failed to load %s tasks: %w", status, err)
		}
		for _, t := range stale {
			if !q.offer(t.ID) {
				break
			}
		}
	}
	return nil
}

// Stop 停止接收新任务并等待正在执行的任务结束
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.stopCh)
	q.mu.Unlock()

	q.wg.Wait()
}

// RetryFailed 将最多 limit 个失败任务重新入队
func (q *Queue) RetryFailed(ctx context.Context, limit int) (int, error) {
	if !q.isRunning() {
		return 0, ErrNotRunning
	}
	failed, err := q.tasks.ListByStatus(ctx, model.SyncTaskStatusFailed, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list failed tasks: %w", err)
	}

	// 已改回 pending 的任务即使这次没投递进通道，也会被扫描补上
	n := 0
	for _, t := range failed {
		if err := q.tasks.Requeue(ctx, t.ID); err != nil {
			return n, fmt.Errorf("failed to requeue task %s: %w", t.ID, err)
		}
		n++
		if !q.offer(t.ID) {
			q.log.WithField("task_id", t.ID).Debug("outbox queue full, retried task left pending")
		}
	}
	return n, nil
}

// SweepPending 重新投递 pending 任务，返回本次投递的数量
func (q *Queue) SweepPending(ctx context.Context) (int, error) {
	pending, err := q.tasks.ListByStatus(ctx, model.SyncTaskStatusPending, cap(q.queue))
	if err != nil {
		return 0, fmt.Errorf("failed to list pending tasks: %w", err)
	}
	n := 0
	for _, t := range pending {
		if q.isQueued(t.ID) {
			continue
		}
		if !q.offer(t.ID) {
			break
		}
		n++
	}
	return n, nil
}

// Get 查询任务
func (q *Queue) Get(ctx context.Context, id string) (*model.SyncTask, error) {
	return q.tasks.GetByID(ctx, id)
}

// List 按状态列出任务
func (q *Queue) List(ctx context.Context, status model.SyncTaskStatus, limit int) ([]*model.SyncTask, error) {
	return q.tasks.ListByStatus(ctx, status, limit)
}

func (q *Queue) isRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *Queue) isQueued(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued[id]
}

// offer 非阻塞投递；已在队列中的任务视为投递成功
func (q *Queue) offer(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.queued[id] {
		return true
	}
	select {
	case q.queue <- id:
		q.queued[id] = true
		return true
	default:
		return false
	}
}

func (q *Queue) done(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queued, id)
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case id := <-q.queue:
			q.process(ctx, id)
			q.done(id)
		}
	}
}

func (q *Queue) sweeper(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			n, err := q.SweepPending(ctx)
			if err != nil {
				q.log.WithError(err).Warn("outbox pending sweep failed")
				continue
			}
			if n > 0 {
				q.log.WithField("offered", n).Debug("outbox pending tasks re-offered")
			}
		}
	}
}

// process 执行单个任务，失败时在本 worker 内立即重试
func (q *Queue) process(ctx context.Context, id string) {
	log := q.log.WithField("task_id", id)

	task, err := q.tasks.GetByID(ctx, id)
	if err != nil {
		log.WithError(err).Warn("outbox task not found")
		return
	}
	// 扫描与 worker 并发时可能投递已结束的任务
	if task.Status != model.SyncTaskStatusPending && task.Status != model.SyncTaskStatusRunning {
		return
	}
	log = log.WithField("kind", task.Kind)

	handler, ok := q.handlers[task.Kind]
	if !ok {
		_ = q.tasks.MarkFailed(ctx, id, fmt.Sprintf("%v: %s", ErrUnknownKind, task.Kind))
		log.Error("outbox task has no handler")
		return
	}

	// 每次投递有 maxAttempts 次机会；Attempts 记录累计次数
	var lastErr error
	for i := 0; i < q.maxAttempts; i++ {
		if err := q.tasks.MarkRunning(ctx, id); err != nil {
			log.WithError(err).Warn("failed to mark task running")
		}
		task.Attempts++

		lastErr = safeRun(ctx, handler, task)
		if lastErr == nil {
			if err := q.tasks.MarkSucceeded(ctx, id); err != nil {
				log.WithError(err).Warn("failed to mark task succeeded")
			}
			log.WithField("attempt", task.Attempts).Info("outbox task succeeded")
			return
		}
		log.WithField("attempt", task.Attempts).WithError(lastErr).Warn("outbox task attempt failed")

		if IsPermanent(lastErr) || ctx.Err() != nil {
			break
		}
	}

	if err := q.tasks.MarkFailed(ctx, id, lastErr.Error()); err != nil {
		log.WithError(err).Warn("failed to mark task failed")
	}
	log.WithError(lastErr).Error("outbox task failed")
}

// safeRun 处理函数 panic 时转为错误
func safeRun(ctx context.Context, handler Handler, task *model.SyncTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return handler(ctx, task)
}

// DecodePayload 将任务载荷解码到 v
func DecodePayload(task *model.SyncTask, v interface{}) error {
	data, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

func encodePayload(payload interface{}) (model.JSON, error) {
	if payload == nil {
		return model.JSON{}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	var out model.JSON
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	return out, nil
}
