package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"sqlgateway/internal/logger"
	"sqlgateway/internal/models"
	"sqlgateway/internal/responses"
	"sqlgateway/internal/services"
)

type QueryExecutor interface {
	Execute(ctx context.Context, callerID, targetID, query string) (*services.QueryResult, error)
	GetQueryHistory(ctx context.Context, callerID string, limit int) ([]models.QueryHistory, error)
}

type QueryHandler struct {
	queryService QueryExecutor
	historyLimit int
	log          *logger.Logger
}

func NewQueryHandler(queryService QueryExecutor, historyLimit int, log *logger.Logger) *QueryHandler {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &QueryHandler{
		queryService: queryService,
		historyLimit: historyLimit,
		log:          log,
	}
}

// ExecuteQuery handles POST /api/v1/targets/:id/query
func (h *QueryHandler) ExecuteQuery(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		responses.Fail(c, http.StatusUnauthorized, nil, "Unauthorized")
		return
	}

	targetID := c.Param("id")
	if targetID == "" {
		responses.Fail(c, http.StatusBadRequest, nil, "Database id is required")
		return
	}

	var req services.ExecuteQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.Fail(c, http.StatusBadRequest, err, "Invalid request body: query is required")
		return
	}

	result, err := h.queryService.Execute(c.Request.Context(), caller, targetID, req.Query)
	if err != nil {
		fail(c, h.log, err, "Failed to execute query")
		return
	}

	responses.Success(c, http.StatusOK, result, "Query executed successfully")
}

// GetQueryHistory handles GET /api/v1/query/history?limit=N
func (h *QueryHandler) GetQueryHistory(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		responses.Fail(c, http.StatusUnauthorized, nil, "Unauthorized")
		return
	}

	limit := h.historyLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			responses.Fail(c, http.StatusBadRequest, nil, "limit must be a positive integer")
			return
		}
		limit = min(n, h.historyLimit)
	}

	history, err := h.queryService.GetQueryHistory(c.Request.Context(), caller, limit)
	if err != nil {
		fail(c, h.log, err, "Failed to retrieve query history")
		return
	}

	responses.Success(c, http.StatusOK, history, "Query history retrieved successfully")
}
