package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ashwinyue/next-sync/internal/config"
	"github.com/ashwinyue/next-sync/internal/remote"
	"github.com/ashwinyue/next-sync/internal/repository"
	"github.com/ashwinyue/next-sync/internal/service/access"
	"github.com/ashwinyue/next-sync/internal/service/auth"
	"github.com/ashwinyue/next-sync/internal/service/credential"
	"github.com/ashwinyue/next-sync/internal/service/event"
	"github.com/ashwinyue/next-sync/internal/service/extract"
	"github.com/ashwinyue/next-sync/internal/service/file"
	"github.com/ashwinyue/next-sync/internal/service/orchestrator"
	"github.com/ashwinyue/next-sync/internal/service/outbox"
	"github.com/ashwinyue/next-sync/internal/service/vectorsync"
)

// 锁最多等待的时间；锁的 TTL 覆盖一次完整的上传轮询
const lockWait = 30 * time.Second

// Services 服务集合
type Services struct {
	Config *config.Config

	Access       *access.Service
	Auth         *auth.Service
	Credentials  *credential.Service
	Sync         *vectorsync.Service
	Orchestrator *orchestrator.Service
	Files        *file.Service
	Events       *event.EventBus
	EventStore   *event.MemoryStore
	Tokens       *event.TokenService
	Outbox       *outbox.Queue
}

// NewServices 创建所有服务。redisClient 只在启用键锁或 redis 令牌存储时需要
func NewServices(ctx context.Context, cfg *config.Config, repos *repository.Repositories, redisClient *redis.Client, log logrus.FieldLogger) (*Services, error) {
	factory, err := remote.NewFactory(cfg.Remote)
	if err != nil {
		return nil, err
	}

	creds := credential.NewService(repos, factory,
		credential.WithStaticPool(cfg.Credentials.SharedPool),
		credential.WithLogger(log.WithField("component", "credential")),
	)

	syncOpts := []vectorsync.Option{vectorsync.WithLogger(log.WithField("component", "vectorsync"))}
	if cfg.Sync.KeyLock {
		if redisClient == nil {
			return nil, fmt.Errorf("sync.keyLock requires redis")
		}
		ttl := cfg.Sync.PollInterval*time.Duration(cfg.Sync.MaxPollAttempts) + time.Minute
		syncOpts = append(syncOpts, vectorsync.WithLocker(vectorsync.NewRedisLocker(redisClient, ttl, lockWait)))
	}
	syncSvc := vectorsync.NewService(repos, creds, cfg.Sync, syncOpts...)

	files, err := file.NewServiceFromConfig(ctx, repos.File, cfg.Storage)
	if err != nil {
		return nil, err
	}

	eventStore := event.NewMemoryStore(0,
		event.WithRetention(cfg.Events.Retention),
		event.WithMaxChannels(cfg.Events.MaxChannels),
	)
	bus := event.NewEventBus(eventStore)

	var tokenStore event.TokenStore
	switch cfg.Events.TokenBackend {
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("events.tokenBackend=redis requires redis")
		}
		tokenStore = event.NewRedisTokenStore(redisClient)
	default:
		tokenStore = event.NewMemoryTokenStore()
	}
	tokens := event.NewTokenService(tokenStore, cfg.Events.TokenTTL, log.WithField("component", "progress"))

	orch, err := orchestrator.NewService(ctx, syncSvc, creds, repos.Source, cfg.Sync,
		orchestrator.WithEventBus(bus),
		orchestrator.WithExtractor(extract.NewService(files.Storage())),
		orchestrator.WithLogger(log.WithField("component", "orchestrator")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	queue := outbox.NewQueue(repos.SyncTask, cfg.Outbox, log.WithField("component", "outbox"))
	orch.RegisterTasks(queue)

	authSvc, err := auth.NewService(repos.User, repos.Tenant, cfg.Auth.JWTSecret)
	if err != nil {
		return nil, err
	}

	return &Services{
		Config:       cfg,
		Access:       access.NewService(repos.User, repos.AgentConfig, repos.Store, repos.Document),
		Auth:         authSvc,
		Credentials:  creds,
		Sync:         syncSvc,
		Orchestrator: orch,
		Files:        files,
		Events:       bus,
		EventStore:   eventStore,
		Tokens:       tokens,
		Outbox:       queue,
	}, nil
}
