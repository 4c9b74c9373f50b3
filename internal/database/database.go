package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ashwinyue/next-sync/internal/config"
	"github.com/ashwinyue/next-sync/internal/model"
)

// 慢查询阈值；批量同步的 IN 查询超过该值会以 warn 级别记录
const slowQueryThreshold = time.Second

// DB 数据库封装
type DB struct {
	*gorm.DB
}

// New 连接数据库并迁移表结构，SQL 日志写入 log
func New(cfg *config.Config, log logrus.FieldLogger) (*DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.Database.GetDSN()), &gorm.Config{
		Logger: newGormLogger(cfg, log),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.MaxLifetime) * time.Second)

	wrapped := &DB{DB: db}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wrapped.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := wrapped.Migrate(); err != nil {
		return nil, err
	}
	return wrapped, nil
}

// Migrate 迁移所有模型
func (db *DB) Migrate() error {
	if err := db.AutoMigrate(model.AllModels...); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

// newGormLogger debug 模式记录全部 SQL，生产环境只记录错误，其余只记录慢查询
func newGormLogger(cfg *config.Config, log logrus.FieldLogger) gormlogger.Interface {
	level := gormlogger.Warn
	switch {
	case cfg.App.Debug:
		level = gormlogger.Info
	case cfg.App.Environment == "production":
		level = gormlogger.Error
	}
	return gormlogger.New(log.WithField("component", "gorm"), gormlogger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})
}

// Close 关闭数据库连接
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping 检查数据库连接
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
