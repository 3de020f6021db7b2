package services

import (
	"context"
	"errors"

	"sqlgateway/internal/logger"
	"sqlgateway/internal/models"
)

// MembershipOracle answers whether a caller currently belongs to a tenant,
// and whether they own it.
type MembershipOracle interface {
	IsMember(ctx context.Context, callerID, tenantID string) (bool, error)
	IsOwner(ctx context.Context, callerID, tenantID string) (bool, error)
}

type TargetLookup interface {
	Get(ctx context.Context, id string) (*models.DatabaseTarget, error)
}

type Decision struct {
	Allowed bool
	Reason  string
}

// reasonTargetUnavailable is the only reason a caller without rights sees,
// whether or not the target exists.
const (
	reasonTargetUnavailable = "target unavailable"
	reasonUnknownOwnership  = "unknown ownership type"
	reasonNotTenantOwner    = "only the tenant owner can manage this database"
)

// AccessControl decides per call whether a caller may use a target. Nothing
// is cached between calls.
type AccessControl struct {
	targets TargetLookup
	oracle  MembershipOracle
	log     *logger.Logger
}

func NewAccessControl(targets TargetLookup, oracle MembershipOracle, log *logger.Logger) *AccessControl {
	return &AccessControl{targets: targets, oracle: oracle, log: log}
}

func (a *AccessControl) Authorize(ctx context.Context, callerID, targetID string) (Decision, error) {
	target, err := a.targets.Get(ctx, targetID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return a.refuse(callerID, targetID, "not found"), nil
		}
		return Decision{}, err
	}
	if !target.Active {
		return a.refuse(callerID, targetID, "inactive"), nil
	}

	switch owner := target.Owner.(type) {
	case models.IndividualOwner:
		if callerID != "" && callerID == owner.CallerID {
			return allow(), nil
		}
		return a.refuse(callerID, targetID, "not the owner"), nil

	case models.TenantOwner:
		member, err := a.IsTenantMember(ctx, callerID, owner.TenantID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Decision{}, ctxErr
			}
			return a.refuse(callerID, targetID, "membership could not be verified"), nil
		}
		if member {
			return allow(), nil
		}
		return a.refuse(callerID, targetID, "not a tenant member"), nil

	default:
		return deny(reasonUnknownOwnership), nil
	}
}

// AuthorizeManage decides whether callerID may remove a target. Individual
// targets follow Authorize; tenant targets also require the tenant owner.
func (a *AccessControl) AuthorizeManage(ctx context.Context, callerID, targetID string) (Decision, error) {
	decision, err := a.Authorize(ctx, callerID, targetID)
	if err != nil || !decision.Allowed {
		return decision, err
	}

	target, err := a.targets.Get(ctx, targetID)
	if err != nil {
		return Decision{}, err
	}
	owner, ok := target.Owner.(models.TenantOwner)
	if !ok {
		return decision, nil
	}

	isOwner, err := a.IsTenantOwner(ctx, callerID, owner.TenantID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Decision{}, ctxErr
		}
		return a.refuse(callerID, targetID, "ownership could not be verified"), nil
	}
	if !isOwner {
		return deny(reasonNotTenantOwner), nil
	}
	return allow(), nil
}

// IsTenantOwner asks the oracle whether callerID owns tenantID.
func (a *AccessControl) IsTenantOwner(ctx context.Context, callerID, tenantID string) (bool, error) {
	if callerID == "" || tenantID == "" {
		return false, nil
	}

	isOwner, err := a.oracle.IsOwner(ctx, callerID, tenantID)
	if err != nil {
		a.log.Warn("ownership check failed", "caller_id", callerID, "tenant_id", tenantID, "error", err)
		return false, err
	}
	return isOwner, nil
}

// IsTenantMember asks the oracle directly. Errors are logged and returned.
func (a *AccessControl) IsTenantMember(ctx context.Context, callerID, tenantID string) (bool, error) {
	if callerID == "" || tenantID == "" {
		return false, nil
	}

	member, err := a.oracle.IsMember(ctx, callerID, tenantID)
	if err != nil {
		a.log.Warn("membership check failed", "caller_id", callerID, "tenant_id", tenantID, "error", err)
		return false, err
	}
	return member, nil
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

// refuse logs why callerID was turned away and returns the uniform denial.
func (a *AccessControl) refuse(callerID, targetID, detail string) Decision {
	a.log.Info("access denied", "caller_id", callerID, "target_id", targetID, "detail", detail)
	return deny(reasonTargetUnavailable)
}
