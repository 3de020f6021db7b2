package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"sqlgateway/internal/logger"
	"sqlgateway/internal/models"
	"sqlgateway/internal/responses"
	"sqlgateway/internal/services"
	"sqlgateway/internal/utils"
)

type TargetRegistry interface {
	Register(ctx context.Context, req services.RegisterRequest) (*models.DatabaseTarget, error)
	Get(ctx context.Context, id string) (*models.DatabaseTarget, error)
	ListByOwner(ctx context.Context, owner models.Owner) ([]models.DatabaseTarget, error)
	Delete(ctx context.Context, id string) error
}

type TargetAuthorizer interface {
	Authorize(ctx context.Context, callerID, targetID string) (services.Decision, error)
	AuthorizeManage(ctx context.Context, callerID, targetID string) (services.Decision, error)
	IsTenantMember(ctx context.Context, callerID, tenantID string) (bool, error)
	IsTenantOwner(ctx context.Context, callerID, tenantID string) (bool, error)
}

type TargetHandler struct {
	registry TargetRegistry
	access   TargetAuthorizer
	log      *logger.Logger
}

func NewTargetHandler(registry TargetRegistry, access TargetAuthorizer, log *logger.Logger) *TargetHandler {
	return &TargetHandler{registry: registry, access: access, log: log}
}

type RegisterTargetRequest struct {
	DisplayName      string           `json:"display_name" binding:"required"`
	ConnectionString string           `json:"connection_string" binding:"required"`
	OwnerKind        models.OwnerKind `json:"owner_kind"`
	TenantID         string           `json:"tenant_id"`
}

// targetView never exposes the raw credential.
func targetView(t *models.DatabaseTarget) models.TargetView {
	view := models.TargetView{
		ID:                t.ID,
		DisplayName:       t.DisplayName,
		CredentialPreview: utils.MaskCredential(t.CredentialURI),
		Dialect:           t.Dialect.String(),
		Active:            t.Active,
		SchemaDigest:      t.SchemaDigest,
		SampleDigest:      t.SampleDigest,
		CreatedBy:         t.CreatedBy,
		CreatedAt:         t.CreatedAt,
		LastUsedAt:        t.LastUsedAt,
	}
	if t.Owner != nil {
		view.OwnerKind = t.Owner.Kind()
		view.OwnerRef = t.Owner.Ref()
	}
	return view
}

func targetViews(targets []models.DatabaseTarget) []models.TargetView {
	views := make([]models.TargetView, len(targets))
	for i := range targets {
		views[i] = targetView(&targets[i])
	}
	return views
}

// Register handles POST /api/v1/targets
func (h *TargetHandler) Register(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		responses.Fail(c, http.StatusUnauthorized, nil, "Unauthorized")
		return
	}

	var req RegisterTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.Fail(c, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	var owner models.Owner
	switch req.OwnerKind {
	case "", models.OwnerIndividual:
		owner = models.IndividualOwner{CallerID: caller}
	case models.OwnerTenant:
		tenantID := strings.TrimSpace(req.TenantID)
		if tenantID == "" {
			responses.Fail(c, http.StatusBadRequest, nil, "tenant_id is required for tenant targets")
			return
		}
		isOwner, err := h.access.IsTenantOwner(c.Request.Context(), caller, tenantID)
		if err != nil {
			responses.Fail(c, http.StatusServiceUnavailable, nil, "Tenant ownership could not be verified")
			return
		}
		if !isOwner {
			responses.Fail(c, http.StatusForbidden, nil, "Only the tenant owner can register tenant databases")
			return
		}
		owner = models.TenantOwner{TenantID: tenantID}
	default:
		responses.Fail(c, http.StatusBadRequest, nil, "owner_kind must be individual or tenant")
		return
	}

	target, err := h.registry.Register(c.Request.Context(), services.RegisterRequest{
		DisplayName:   req.DisplayName,
		CredentialURI: req.ConnectionString,
		RequestedBy:   caller,
		Owner:         owner,
	})
	if err != nil {
		fail(c, h.log, err, "Failed to register database")
		return
	}

	responses.Success(c, http.StatusCreated, targetView(target), "Database registered successfully")
}

// List handles GET /api/v1/targets
func (h *TargetHandler) List(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		responses.Fail(c, http.StatusUnauthorized, nil, "Unauthorized")
		return
	}

	targets, err := h.registry.ListByOwner(c.Request.Context(), models.IndividualOwner{CallerID: caller})
	if err != nil {
		fail(c, h.log, err, "Failed to retrieve databases")
		return
	}

	responses.Success(c, http.StatusOK, targetViews(targets), "Databases retrieved successfully")
}

// ListTenant handles GET /api/v1/tenants/:tenant_id/targets
func (h *TargetHandler) ListTenant(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		responses.Fail(c, http.StatusUnauthorized, nil, "Unauthorized")
		return
	}

	tenantID := c.Param("tenant_id")
	member, err := h.access.IsTenantMember(c.Request.Context(), caller, tenantID)
	if err != nil {
		responses.Fail(c, http.StatusServiceUnavailable, nil, "Tenant membership could not be verified")
		return
	}
	if !member {
		responses.Fail(c, http.StatusForbidden, nil, "You are not a member of this tenant")
		return
	}

	targets, err := h.registry.ListByOwner(c.Request.Context(), models.TenantOwner{TenantID: tenantID})
	if err != nil {
		fail(c, h.log, err, "Failed to retrieve databases")
		return
	}

	responses.Success(c, http.StatusOK, targetViews(targets), "Databases retrieved successfully")
}

// Get handles GET /api/v1/targets/:id
func (h *TargetHandler) Get(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		responses.Fail(c, http.StatusUnauthorized, nil, "Unauthorized")
		return
	}

	id := c.Param("id")
	if !h.authorized(c, caller, id) {
		return
	}

	target, err := h.registry.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, h.log, err, "Failed to retrieve database")
		return
	}

	responses.Success(c, http.StatusOK, targetView(target), "Database retrieved successfully")
}

// Delete handles DELETE /api/v1/targets/:id
func (h *TargetHandler) Delete(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		responses.Fail(c, http.StatusUnauthorized, nil, "Unauthorized")
		return
	}

	id := c.Param("id")
	decision, err := h.access.AuthorizeManage(c.Request.Context(), caller, id)
	if !h.allowed(c, decision, err) {
		return
	}

	if err := h.registry.Delete(c.Request.Context(), id); err != nil {
		fail(c, h.log, err, "Failed to delete database")
		return
	}

	h.log.Info("database target deleted", "target_id", id, "caller_id", caller)
	responses.Success(c, http.StatusOK, gin.H{"id": id}, "Database deleted successfully")
}

// authorized writes a 403 and returns false when caller may not use id.
// Unknown ids are reported the same way as foreign ones.
func (h *TargetHandler) authorized(c *gin.Context, caller, id string) bool {
	decision, err := h.access.Authorize(c.Request.Context(), caller, id)
	return h.allowed(c, decision, err)
}

func (h *TargetHandler) allowed(c *gin.Context, decision services.Decision, err error) bool {
	if err != nil {
		fail(c, h.log, err, "Failed to check access")
		return false
	}
	if !decision.Allowed {
		responses.Fail(c, http.StatusForbidden, nil, decision.Reason)
		return false
	}
	return true
}
