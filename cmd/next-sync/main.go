package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ashwinyue/next-sync/internal/config"
	"github.com/ashwinyue/next-sync/internal/database"
	"github.com/ashwinyue/next-sync/internal/logger"
	"github.com/ashwinyue/next-sync/internal/repository"
	"github.com/ashwinyue/next-sync/internal/service"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "next-sync",
	Short:         "Vector store synchronization service",
	Long:          `Keeps per-owner remote vector stores in sync with the source tables and serves the sync API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "./configs/config.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultPath, "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app 一次进程运行所需的依赖
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	db       *database.DB
	redis    *redis.Client
	services *service.Services
}

// bootstrap 加载配置并初始化各层
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	gin.SetMode(cfg.Server.Mode)

	db, err := database.New(cfg, log)
	if err != nil {
		return nil, err
	}
	log.WithField("database", cfg.Database.DBName).Info("database connected")

	a := &app{cfg: cfg, log: log, db: db}

	// Redis 只在键锁或 redis 令牌存储时使用
	if cfg.Sync.KeyLock || cfg.Events.TokenBackend == "redis" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect redis: %w", err)
		}
	}

	repos := repository.NewRepositories(db.DB)
	a.services, err = service.NewServices(ctx, cfg, repos, a.redis, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// printJSON 命令行结果统一输出 JSON
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
