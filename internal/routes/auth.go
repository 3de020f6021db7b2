package routes

import (
	"github.com/gin-gonic/gin"

	"sqlgateway/internal/handlers"
)

type AuthRoutes struct {
	handler *handlers.AuthHandler
	auth    gin.HandlerFunc
}

func NewAuthRoutes(handler *handlers.AuthHandler, auth gin.HandlerFunc) *AuthRoutes {
	return &AuthRoutes{handler: handler, auth: auth}
}

func (r *AuthRoutes) RegisterRoutes(router *gin.RouterGroup) {
	authGroup := router.Group("/auth")
	authGroup.Use(r.auth)
	{
		authGroup.POST("/logout", r.handler.Logout)
	}
}
