package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App         AppConfig
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Log         LogConfig
	Auth        AuthConfig
	Remote      RemoteConfig
	Sync        SyncConfig
	Events      EventsConfig
	Outbox      OutboxConfig
	Storage     StorageConfig
	Credentials CredentialsConfig
}

// AppConfig 应用配置
type AppConfig struct {
	Name        string
	Environment string
	Version     string
	Debug       bool
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string
	Port         int `validate:"gt=0,lt=65536"`
	Mode         string
	ReadTimeout  int
	WriteTimeout int
	CORSOrigins  []string // 为空时允许所有来源
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `validate:"oneof=debug info warn error"`
	Format     string `validate:"oneof=text json"`
	File       string // 为空时只输出到 stdout
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// AuthConfig 会话认证配置
type AuthConfig struct {
	JWTSecret string
}

// RemoteConfig 远程向量存储配置
type RemoteConfig struct {
	Provider string `validate:"oneof=meili elastic"`
	Meili    MeiliConfig
	Elastic  ElasticConfig
}

// MeiliConfig Meilisearch 配置
type MeiliConfig struct {
	Host string
}

// ElasticConfig Elasticsearch配置
type ElasticConfig struct {
	Addresses []string
	Username  string
}

// SyncConfig 同步引擎配置
type SyncConfig struct {
	PollInterval      time.Duration `validate:"gt=0"`
	MaxPollAttempts   int           `validate:"gt=0"`
	MaxPollErrors     int           `validate:"gt=0"`
	PollLogEvery      int           `validate:"gt=0"`
	MaxTokensPerChunk int           `validate:"gt=0"`
	MaxOverlapTokens  int           `validate:"gte=0"`
	Workers           int           `validate:"gt=0,lte=16"`
	RequestsPerSecond float64       `validate:"gt=0"`
	Burst             int           `validate:"gt=0"`
	MaxRowChars       int           `validate:"gt=0"`
	KeyLock           bool
	FailOnSyntheticID bool
	TempDir           string
}

// EventsConfig 进度事件配置
type EventsConfig struct {
	TokenTTL      time.Duration `validate:"gt=0"`
	SweepInterval time.Duration `validate:"gt=0"`
	TokenBackend  string        `validate:"oneof=memory redis"`
	// Retention 运行结束后保留事件供回放的时间
	Retention     time.Duration `validate:"gt=0"`
	MaxChannels   int           `validate:"gt=0"`
}

// OutboxConfig 任务队列配置
type OutboxConfig struct {
	Workers       int           `validate:"gt=0"`
	QueueSize     int           `validate:"gt=0"`
	MaxAttempts   int           `validate:"gt=0"`
	SweepInterval time.Duration `validate:"gt=0"`
}

// StorageConfig 文件存储配置
type StorageConfig struct {
	Type  string `validate:"oneof=local minio"`
	Local LocalStorageConfig
	MinIO MinIOStorageConfig
}

// LocalStorageConfig 本地存储配置
type LocalStorageConfig struct {
	BasePath string
}

// MinIOStorageConfig MinIO 配置
type MinIOStorageConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	BucketName string
	UseSSL     bool
}

// CredentialsConfig 静态共享密钥池（与数据库中的共享池合并）
type CredentialsConfig struct {
	SharedPool []string
}

var globalConfig *Config

// Load 加载配置
func Load(path string) (*Config, error) {
	// .env 只用于本地开发，不存在时忽略
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// 环境变量
	v.SetEnvPrefix("NEXT_SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Validate 校验配置
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("config not loaded")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// GetAddr 获取服务器地址
func (c *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAddr 获取 Redis 地址
func (c *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "next-sync")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.debug", false)

	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.readTimeout", 30)
	// SSE 连接是长连接，写超时为 0
	v.SetDefault("server.writeTimeout", 0)

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "next_sync")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.maxLifetime", 300)

	// Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.maxSizeMB", 100)
	v.SetDefault("log.maxBackups", 5)
	v.SetDefault("log.maxAgeDays", 30)

	// Remote
	v.SetDefault("remote.provider", "meili")
	v.SetDefault("remote.meili.host", "http://localhost:7700")
	v.SetDefault("remote.elastic.addresses", []string{"http://localhost:9200"})

	// Sync
	v.SetDefault("sync.pollInterval", 2*time.Second)
	v.SetDefault("sync.maxPollAttempts", 240)
	v.SetDefault("sync.maxPollErrors", 10)
	v.SetDefault("sync.pollLogEvery", 15)
	v.SetDefault("sync.maxTokensPerChunk", 400)
	v.SetDefault("sync.maxOverlapTokens", 40)
	v.SetDefault("sync.workers", 3)
	v.SetDefault("sync.requestsPerSecond", 2.0)
	v.SetDefault("sync.burst", 4)
	v.SetDefault("sync.maxRowChars", 24000)
	v.SetDefault("sync.keyLock", false)
	v.SetDefault("sync.failOnSyntheticId", false)

	// Events
	v.SetDefault("events.tokenTTL", 5*time.Minute)
	v.SetDefault("events.sweepInterval", time.Minute)
	v.SetDefault("events.tokenBackend", "memory")
	v.SetDefault("events.retention", 5*time.Minute)
	v.SetDefault("events.maxChannels", 1000)

	// Outbox
	v.SetDefault("outbox.workers", 2)
	v.SetDefault("outbox.queueSize", 256)
	v.SetDefault("outbox.maxAttempts", 3)
	v.SetDefault("outbox.sweepInterval", 30*time.Second)

	// Storage
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local.basePath", "./data/files")
}
