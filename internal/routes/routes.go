package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sqlgateway/internal/handlers"
)

func RegisterRoutes(router *gin.Engine, auth gin.HandlerFunc, authHandler *handlers.AuthHandler, targetHandler *handlers.TargetHandler, queryHandler *handlers.QueryHandler) {
	api := router.Group("/api/v1")

	authRoutes := NewAuthRoutes(authHandler, auth)
	authRoutes.RegisterRoutes(api)

	targetRoutes := NewTargetRoutes(targetHandler, auth)
	targetRoutes.RegisterRoutes(api)

	queryRoutes := NewQueryRoutes(queryHandler, auth)
	queryRoutes.RegisterRoutes(api)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})
}
