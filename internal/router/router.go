package router

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ashwinyue/next-sync/internal/handler"
	"github.com/ashwinyue/next-sync/internal/middleware"
	"github.com/ashwinyue/next-sync/internal/model"
)

// Options 路由依赖
type Options struct {
	Handlers    *handler.Handlers
	System      *handler.SystemHandler
	Auth        middleware.TokenValidator
	CORSOrigins []string
	Log         logrus.FieldLogger
}

// SetupRouter 设置路由
func SetupRouter(opts Options) *gin.Engine {
	h := opts.Handlers
	r := gin.New()

	// 中间件
	r.Use(middleware.RecoveryMiddleware(opts.Log))
	r.Use(middleware.LoggingMiddleware(opts.Log))
	r.Use(middleware.CORSMiddleware(opts.CORSOrigins))

	// 健康检查
	if opts.System != nil {
		r.GET("/health", opts.System.Health)
	}

	v1 := r.Group("/api/v1")

	// 认证（无需登录）
	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/register", h.Auth.Register)
		authGroup.POST("/login", h.Auth.Login)
	}

	// 进度流使用一次性令牌，不走 JWT（EventSource 无法携带请求头）
	v1.GET("/progress/stream", h.Progress.Stream)

	api := v1.Group("")
	api.Use(middleware.RequireAuth(opts.Auth))
	{
		api.GET("/auth/me", h.Auth.Me)
		if opts.System != nil {
			api.GET("/system/info", opts.System.GetSystemInfo)
		}

		api.POST("/progress/token", h.Progress.IssueToken)

		// 租户凭证
		tenant := api.Group("/tenant")
		{
			tenant.GET("/settings", h.Tenant.GetSettings)
			tenant.PUT("/settings", h.Tenant.UpdateSettings)
		}

		// 存储
		stores := api.Group("/stores")
		{
			stores.GET("", h.Store.ListStores)
			stores.GET("/names", h.Store.StoreNames)
			stores.GET("/:id", h.Store.GetStore)
			stores.GET("/:id/stats", h.Store.GetStats)
			stores.GET("/:id/documents", h.Store.ListDocuments)
			stores.GET("/:id/reports", h.Store.ListReports)
		}

		// 文档
		api.DELETE("/documents/:id", h.Store.DeleteDocument)

		// 资料库文件
		files := api.Group("/files")
		{
			files.GET("", h.File.ListFiles)
			files.POST("", h.File.UploadFile)
			files.GET("/:id", h.File.GetFile)
			files.DELETE("/:id", h.File.DeleteFile)
		}

		// 同步与对账只允许顾问和管理员，处理器内再校验所属关系
		ops := api.Group("")
		ops.Use(middleware.RequireRole(model.UserRoleConsultant, model.UserRoleAdmin))
		{
			ops.GET("/sync/sources", h.Sync.Sources)
			ops.POST("/sync/:source", h.Sync.Run)
			ops.GET("/sync/tasks/:id", h.Sync.GetTask)
			ops.POST("/agents/:id/reconcile", h.Sync.ReconcileAgent)

			ops.POST("/stores/:id/audit", h.Store.Audit)
			ops.POST("/stores/:id/cleanup/:mode", h.Store.Cleanup)
			ops.POST("/stores/:id/reconcile", h.Store.Reconcile)
		}

		admin := api.Group("/admin")
		admin.Use(middleware.RequireRole(model.UserRoleAdmin))
		{
			admin.POST("/shared-keys", h.Tenant.AddSharedKey)
			admin.GET("/sync/tasks", h.Sync.ListTasks)
			admin.POST("/sync/tasks/retry", h.Sync.RetryFailed)
		}
	}

	return r
}
