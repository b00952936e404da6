package handler

import (
	"walletledger/internal/infrastructure/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, m *metrics.Metrics, logger *zap.Logger) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	// API 路由组
	api := r.Group("/api/v1")
	{
		api.POST("/transact", h.Transact)
		api.GET("/balance/:user_id", h.GetBalance)
		api.GET("/transactions/:user_id", h.ListTransactions)
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(m.Handler()))

	return r
}
