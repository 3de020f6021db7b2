package routes

import (
	"github.com/gin-gonic/gin"

	"sqlgateway/internal/handlers"
)

type TargetRoutes struct {
	handler *handlers.TargetHandler
	auth    gin.HandlerFunc
}

func NewTargetRoutes(handler *handlers.TargetHandler, auth gin.HandlerFunc) *TargetRoutes {
	return &TargetRoutes{handler: handler, auth: auth}
}

func (r *TargetRoutes) RegisterRoutes(router *gin.RouterGroup) {
	targets := router.Group("/targets")
	targets.Use(r.auth)
	{
		targets.POST("", r.handler.Register)
		targets.GET("", r.handler.List)
		targets.GET("/:id", r.handler.Get)
		targets.DELETE("/:id", r.handler.Delete)
	}

	router.GET("/tenants/:tenant_id/targets", r.auth, r.handler.ListTenant)
}
