package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"cardforge/internal/config"
	"cardforge/internal/storage"
	"cardforge/internal/worker"
)

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(
	router *gin.Engine,
	db *gorm.DB,
	asynqClient *asynq.Client,
	redisClient *redis.Client,
	logger *slog.Logger,
	storageClient *storage.Client,
	cfg *config.Config,
) {
	signals := &worker.JobSignals{Redis: redisClient}
	jobHandler := NewJobHandler(db, asynqClient, signals, storageClient, cfg.Render)
	templateHandler := NewTemplateHandler(db)
	assetHandler := NewAssetHandler(storageClient, logger, cfg.API.ClamdAddr)
	wsHandler := NewWsHandler(redisClient, logger, cfg.API.AllowedOrigins)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		renderGroup := v1.Group("/render")
		{
			renderGroup.POST("", jobHandler.CreateRenderJob)
			renderGroup.POST("/batch", jobHandler.CreateRenderBatch)
			renderGroup.GET("", jobHandler.ListRenderJobs)
			renderGroup.GET("/:id", jobHandler.GetRenderJob)
			renderGroup.POST("/:id/cancel", jobHandler.CancelRenderJob)
		}

		templateGroup := v1.Group("/templates")
		{
			templateGroup.POST("", templateHandler.CreateTemplate)
			templateGroup.GET("", templateHandler.ListTemplates)
			templateGroup.GET("/:id", templateHandler.GetTemplate)
			templateGroup.PUT("/:id", templateHandler.UpdateTemplate)
			templateGroup.DELETE("/:id", templateHandler.DeleteTemplate)
		}

		assetGroup := v1.Group("/assets")
		{
			assetGroup.POST("/upload", assetHandler.UploadAsset)
			assetGroup.GET("", assetHandler.ListAssets)
			assetGroup.GET("/view", assetHandler.GetAssetURL)
		}
	}
}
