package handler

import (
	"escrowsystem/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 账户相关
		account := api.Group("/account")
		{
			account.GET("/balance", h.GetBalance)
			account.POST("/deposit", h.Deposit)
			account.GET("/ledger", h.ListLedger)
		}

		// 托管单相关
		escrow := api.Group("/escrow")
		{
			escrow.POST("/create", h.CreateEscrow)
			escrow.POST("/accept", h.AcceptEscrow)
			escrow.POST("/fund", h.FundEscrow)
			escrow.POST("/confirm", h.ConfirmEscrow)
			escrow.POST("/cancel", h.CancelEscrow)
			escrow.GET("/detail", h.GetEscrow)
			escrow.GET("/list", h.ListEscrows)
			escrow.GET("/pending", h.ListPendingEscrows)
			escrow.GET("/events", h.ListEscrowEvents)
		}

		// 自动接单规则
		rule := api.Group("/autoaccept/rule")
		{
			rule.POST("/create", h.CreateAutoAcceptRule)
			rule.GET("/list", h.ListAutoAcceptRules)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
