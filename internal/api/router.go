package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter 构建 Gin 路由引擎，暴露健康检查端点。
func NewRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}
