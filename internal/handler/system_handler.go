package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/next-sync/internal/config"
	"github.com/ashwinyue/next-sync/internal/service/orchestrator"
)

// Pinger 依赖健康检查
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler 系统处理器
type SystemHandler struct {
	cfg    *config.Config
	checks map[string]Pinger
}

// NewSystemHandler 创建系统处理器，checks 为按名称的依赖检查
func NewSystemHandler(cfg *config.Config, checks map[string]Pinger) *SystemHandler {
	return &SystemHandler{cfg: cfg, checks: checks}
}

// Health 健康检查
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "dependencies": deps})
}

// GetSystemInfo 获取系统信息
// GET /api/v1/system/info
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	Success(c, gin.H{
		"name":            h.cfg.App.Name,
		"version":         h.cfg.App.Version,
		"environment":     h.cfg.App.Environment,
		"remote_provider": h.cfg.Remote.Provider,
		"storage_type":    h.cfg.Storage.Type,
		"token_backend":   h.cfg.Events.TokenBackend,
		"key_lock":        h.cfg.Sync.KeyLock,
		"sources":         orchestrator.SupportedSources(),
	})
}
