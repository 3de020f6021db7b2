package routes

import (
	"github.com/gin-gonic/gin"

	"sqlgateway/internal/handlers"
)

type QueryRoutes struct {
	handler *handlers.QueryHandler
	auth    gin.HandlerFunc
}

func NewQueryRoutes(handler *handlers.QueryHandler, auth gin.HandlerFunc) *QueryRoutes {
	return &QueryRoutes{handler: handler, auth: auth}
}

func (r *QueryRoutes) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/targets/:id/query", r.auth, r.handler.ExecuteQuery)

	query := router.Group("/query")
	query.Use(r.auth)
	{
		query.GET("/history", r.handler.GetQueryHistory)
	}
}
