package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlgateway/internal/dialect"
	"sqlgateway/internal/logger"
	"sqlgateway/internal/middlewares"
	"sqlgateway/internal/models"
	"sqlgateway/internal/services"
)

type fakeRegistry struct {
	targets    map[string]*models.DatabaseTarget
	registered []services.RegisterRequest
	deleted    []string
	registerFn func(req services.RegisterRequest) (*models.DatabaseTarget, error)
}

func (r *fakeRegistry) Register(_ context.Context, req services.RegisterRequest) (*models.DatabaseTarget, error) {
	r.registered = append(r.registered, req)
	if r.registerFn != nil {
		return r.registerFn(req)
	}
	target := &models.DatabaseTarget{
		ID:            "DB_20240101000000_abcdef01",
		DisplayName:   req.DisplayName,
		CredentialURI: req.CredentialURI,
		Owner:         req.Owner,
		Dialect:       dialect.Detect(req.CredentialURI),
		Active:        true,
		CreatedBy:     req.RequestedBy,
		CreatedAt:     time.Now(),
	}
	r.targets[target.ID] = target
	return target, nil
}

func (r *fakeRegistry) Get(_ context.Context, id string) (*models.DatabaseTarget, error) {
	if t, ok := r.targets[id]; ok {
		return t, nil
	}
	return nil, &services.GatewayError{Kind: services.ErrNotFound, Reason: "target not found"}
}

func (r *fakeRegistry) ListByOwner(_ context.Context, owner models.Owner) ([]models.DatabaseTarget, error) {
	var out []models.DatabaseTarget
	for _, t := range r.targets {
		if t.Owner == owner {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *fakeRegistry) Delete(_ context.Context, id string) error {
	r.deleted = append(r.deleted, id)
	delete(r.targets, id)
	return nil
}

// fakeAccess allows individual owners and members of tenants listed in
// members ("caller/tenant"). Tenant owners are listed in owners.
type fakeAccess struct {
	registry *fakeRegistry
	members  map[string]bool
	owners   map[string]bool
}

func (a *fakeAccess) Authorize(ctx context.Context, callerID, targetID string) (services.Decision, error) {
	target, err := a.registry.Get(ctx, targetID)
	if err != nil {
		return services.Decision{Reason: "target unavailable"}, nil
	}
	switch owner := target.Owner.(type) {
	case models.IndividualOwner:
		if owner.CallerID == callerID {
			return services.Decision{Allowed: true}, nil
		}
	case models.TenantOwner:
		if a.members[callerID+"/"+owner.TenantID] {
			return services.Decision{Allowed: true}, nil
		}
	}
	return services.Decision{Reason: "target unavailable"}, nil
}

func (a *fakeAccess) AuthorizeManage(ctx context.Context, callerID, targetID string) (services.Decision, error) {
	decision, err := a.Authorize(ctx, callerID, targetID)
	if err != nil || !decision.Allowed {
		return decision, err
	}
	if owner, ok := a.registry.targets[targetID].Owner.(models.TenantOwner); ok && !a.owners[callerID+"/"+owner.TenantID] {
		return services.Decision{Reason: "only the tenant owner can manage this database"}, nil
	}
	return decision, nil
}

func (a *fakeAccess) IsTenantMember(_ context.Context, callerID, tenantID string) (bool, error) {
	return a.members[callerID+"/"+tenantID], nil
}

func (a *fakeAccess) IsTenantOwner(_ context.Context, callerID, tenantID string) (bool, error) {
	return a.owners[callerID+"/"+tenantID], nil
}

type fakeExecutor struct {
	result  *services.QueryResult
	err     error
	limits  []int
	history []models.QueryHistory
}

func (e *fakeExecutor) Execute(context.Context, string, string, string) (*services.QueryResult, error) {
	return e.result, e.err
}

func (e *fakeExecutor) GetQueryHistory(_ context.Context, _ string, limit int) ([]models.QueryHistory, error) {
	e.limits = append(e.limits, limit)
	return e.history, nil
}

type apiBody struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func withCaller(caller string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if caller != "" {
			c.Set(middlewares.CallerIDKey, caller)
		}
		c.Next()
	}
}

func newTestRouter(caller string, targets *TargetHandler, queries *QueryHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	api := router.Group("/api/v1", withCaller(caller))
	if targets != nil {
		api.POST("/targets", targets.Register)
		api.GET("/targets", targets.List)
		api.GET("/tenants/:tenant_id/targets", targets.ListTenant)
		api.GET("/targets/:id", targets.Get)
		api.DELETE("/targets/:id", targets.Delete)
	}
	if queries != nil {
		api.POST("/targets/:id/query", queries.ExecuteQuery)
		api.GET("/query/history", queries.GetQueryHistory)
	}
	return router
}

func do(t *testing.T, router *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, apiBody) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var parsed apiBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed), w.Body.String())
	return w, parsed
}

func newTargetFixture(caller string) (*fakeRegistry, *fakeAccess, *gin.Engine) {
	registry := &fakeRegistry{targets: make(map[string]*models.DatabaseTarget)}
	access := &fakeAccess{
		registry: registry,
		members:  map[string]bool{"U1/O1": true, "U3/O1": true},
		owners:   map[string]bool{"U1/O1": true},
	}
	handler := NewTargetHandler(registry, access, logger.Discard())
	return registry, access, newTestRouter(caller, handler, nil)
}

func TestRegister_IndividualMasksCredential(t *testing.T) {
	registry, _, router := newTargetFixture("U1")

	w, body := do(t, router, http.MethodPost, "/api/v1/targets", map[string]string{
		"display_name":      "prod",
		"connection_string": "postgresql://app:hunter2@db:5432/prod",
	})

	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "hunter2")

	var view models.TargetView
	require.NoError(t, json.Unmarshal(body.Data, &view))
	assert.Equal(t, "postgresql://app:****@db:5432/prod", view.CredentialPreview)
	assert.Equal(t, models.OwnerIndividual, view.OwnerKind)
	assert.Equal(t, "U1", view.OwnerRef)
	assert.Equal(t, "postgresql", view.Dialect)

	require.Len(t, registry.registered, 1)
	assert.Equal(t, models.IndividualOwner{CallerID: "U1"}, registry.registered[0].Owner)
}

func TestRegister_TenantRequiresMembership(t *testing.T) {
	registry, _, router := newTargetFixture("U2")

	w, _ := do(t, router, http.MethodPost, "/api/v1/targets", map[string]string{
		"display_name":      "shared",
		"connection_string": "sqlite://",
		"owner_kind":        "tenant",
		"tenant_id":         "O1",
	})

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, registry.registered)
}

func TestRegister_TenantRequiresOwner(t *testing.T) {
	registry, _, router := newTargetFixture("U3")

	w, _ := do(t, router, http.MethodPost, "/api/v1/targets", map[string]string{
		"display_name":      "shared",
		"connection_string": "sqlite://",
		"owner_kind":        "tenant",
		"tenant_id":         "O1",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, registry.registered)

	registry, _, router = newTargetFixture("U1")
	w, _ = do(t, router, http.MethodPost, "/api/v1/targets", map[string]string{
		"display_name":      "shared",
		"connection_string": "sqlite://",
		"owner_kind":        "tenant",
		"tenant_id":         "O1",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, registry.registered, 1)
	assert.Equal(t, models.TenantOwner{TenantID: "O1"}, registry.registered[0].Owner)
}

func TestDelete_TenantMemberCannotRemoveSharedTarget(t *testing.T) {
	registry, _, router := newTargetFixture("U3")
	registry.targets["DB_T"] = &models.DatabaseTarget{
		ID:            "DB_T",
		CredentialURI: "sqlite://",
		Owner:         models.TenantOwner{TenantID: "O1"},
		Active:        true,
	}

	w, _ := do(t, router, http.MethodGet, "/api/v1/targets/DB_T", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, body := do(t, router, http.MethodDelete, "/api/v1/targets/DB_T", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "only the tenant owner can manage this database", body.Message)
	assert.Empty(t, registry.deleted)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]string
	}{
		{"missing connection string", map[string]string{"display_name": "x"}},
		{"bad owner kind", map[string]string{"display_name": "x", "connection_string": "sqlite://", "owner_kind": "team"}},
		{"tenant without id", map[string]string{"display_name": "x", "connection_string": "sqlite://", "owner_kind": "tenant"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, _, router := newTargetFixture("U1")
			w, _ := do(t, router, http.MethodPost, "/api/v1/targets", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, registry.registered)
		})
	}
}

func TestRegister_UnreachableIsBadGateway(t *testing.T) {
	registry, _, router := newTargetFixture("U1")
	registry.registerFn = func(services.RegisterRequest) (*models.DatabaseTarget, error) {
		return nil, &services.GatewayError{Kind: services.ErrConnectionUnreachable, Reason: "dial tcp: connection refused"}
	}

	w, body := do(t, router, http.MethodPost, "/api/v1/targets", map[string]string{
		"display_name":      "prod",
		"connection_string": "mysql://root:pw@db/app",
	})

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, body.Error, "connection refused")
}

func TestGetAndDelete_ForeignCallerIsForbidden(t *testing.T) {
	registry, _, router := newTargetFixture("U1")
	registry.targets["DB_X"] = &models.DatabaseTarget{
		ID:            "DB_X",
		CredentialURI: "postgresql://app:pw@db/x",
		Owner:         models.IndividualOwner{CallerID: "U9"},
		Active:        true,
	}

	w, foreign := do(t, router, http.MethodGet, "/api/v1/targets/DB_X", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, missing := do(t, router, http.MethodGet, "/api/v1/targets/DB_MISSING", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, missing, foreign)

	w, _ = do(t, router, http.MethodDelete, "/api/v1/targets/DB_X", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, registry.deleted)
}

func TestGetAndDelete_Owner(t *testing.T) {
	registry, _, router := newTargetFixture("U1")
	registry.targets["DB_T"] = &models.DatabaseTarget{
		ID:            "DB_T",
		CredentialURI: "postgresql://app:pw@db/x",
		Owner:         models.TenantOwner{TenantID: "O1"},
		Active:        true,
	}

	w, body := do(t, router, http.MethodGet, "/api/v1/targets/DB_T", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view models.TargetView
	require.NoError(t, json.Unmarshal(body.Data, &view))
	assert.Equal(t, "postgresql://app:****@db/x", view.CredentialPreview)

	w, _ = do(t, router, http.MethodDelete, "/api/v1/targets/DB_T", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"DB_T"}, registry.deleted)
}

func TestListTenant_MembersOnly(t *testing.T) {
	registry, _, router := newTargetFixture("U1")
	registry.targets["DB_T"] = &models.DatabaseTarget{ID: "DB_T", CredentialURI: "sqlite://", Owner: models.TenantOwner{TenantID: "O1"}, Active: true}

	w, body := do(t, router, http.MethodGet, "/api/v1/tenants/O1/targets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var views []models.TargetView
	require.NoError(t, json.Unmarshal(body.Data, &views))
	require.Len(t, views, 1)
	assert.Equal(t, "DB_T", views[0].ID)

	w, _ = do(t, router, http.MethodGet, "/api/v1/tenants/O2/targets", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTargets_RequireCaller(t *testing.T) {
	_, _, router := newTargetFixture("")

	w, _ := do(t, router, http.MethodGet, "/api/v1/targets", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExecuteQuery_StatusMapping(t *testing.T) {
	tests := []struct {
		kind   error
		reason string
		status int
	}{
		{services.ErrQueryRejected, "statement type 'DROP' not allowed", http.StatusBadRequest},
		{services.ErrAccessDenied, "you do not have access to this database", http.StatusForbidden},
		{services.ErrNotFound, "target not found", http.StatusNotFound},
		{services.ErrStaleTarget, "target no longer available", http.StatusGone},
		{services.ErrHandleAcquisitionFailed, "connection refused", http.StatusBadGateway},
		{services.ErrExecutionFailed, "timeout", http.StatusGatewayTimeout},
		{services.ErrExecutionFailed, "no such table: t", http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s", tt.kind, tt.reason), func(t *testing.T) {
			executor := &fakeExecutor{err: &services.GatewayError{Kind: tt.kind, Reason: tt.reason}}
			router := newTestRouter("U1", nil, NewQueryHandler(executor, 50, logger.Discard()))

			w, body := do(t, router, http.MethodPost, "/api/v1/targets/DB_1/query", map[string]string{"query": "SELECT 1"})
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, body.Error, tt.reason)
		})
	}
}

func TestExecuteQuery_InternalErrorHidesDetail(t *testing.T) {
	executor := &fakeExecutor{err: errors.New("catalog: connection pool exhausted at 10.0.0.5")}
	router := newTestRouter("U1", nil, NewQueryHandler(executor, 50, logger.Discard()))

	w, body := do(t, router, http.MethodPost, "/api/v1/targets/DB_1/query", map[string]string{"query": "SELECT 1"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, body.Error)
}

func TestExecuteQuery_Success(t *testing.T) {
	executor := &fakeExecutor{result: &services.QueryResult{
		Columns:  []string{"n"},
		Rows:     []map[string]interface{}{{"n": 1}},
		RowCount: 1,
	}}
	router := newTestRouter("U1", nil, NewQueryHandler(executor, 50, logger.Discard()))

	w, body := do(t, router, http.MethodPost, "/api/v1/targets/DB_1/query", map[string]string{"query": "SELECT 1 AS n"})
	require.Equal(t, http.StatusOK, w.Code)

	var result services.QueryResult
	require.NoError(t, json.Unmarshal(body.Data, &result))
	assert.Equal(t, []string{"n"}, result.Columns)
	assert.Equal(t, 1, result.RowCount)

	w, _ = do(t, router, http.MethodPost, "/api/v1/targets/DB_1/query", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetQueryHistory_Limit(t *testing.T) {
	executor := &fakeExecutor{history: []models.QueryHistory{}}
	router := newTestRouter("U1", nil, NewQueryHandler(executor, 50, logger.Discard()))

	w, _ := do(t, router, http.MethodGet, "/api/v1/query/history", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, router, http.MethodGet, "/api/v1/query/history?limit=500", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, router, http.MethodGet, "/api/v1/query/history?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, router, http.MethodGet, "/api/v1/query/history?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, []int{50, 50, 5}, executor.limits)
}
