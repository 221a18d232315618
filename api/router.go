package api

import (
	"github.com/gin-gonic/gin"

	"mediaforge/config"
)

func SetupRouter(h *Handler, cfg *config.Config) *gin.Engine {
	r := gin.Default()

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.POST("/tasks", h.handleCreateTask)
		v1.GET("/tasks", h.handleListTasks)
		v1.GET("/tasks/:taskId", h.handleGetTaskStatus)
		v1.GET("/tasks/:taskId/log", h.handleGetTaskLog)
		v1.PATCH("/tasks/:taskId/cancel", h.handleCancelTask)

		// File download endpoint (does not need auth if URLs are unguessable)
		// but we put it here for consistency.
		v1.GET("/files/:filename", h.handleGetFile)
	}
	return r
}
