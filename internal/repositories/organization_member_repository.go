package repositories

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OrganizationMemberRepository answers tenant membership questions from the
// organization_members table.
type OrganizationMemberRepository struct {
	pool *pgxpool.Pool
}

func NewOrganizationMemberRepository(pool *pgxpool.Pool) *OrganizationMemberRepository {
	return &OrganizationMemberRepository{pool: pool}
}

// IsOwner reports whether callerID holds the owner role in tenantID.
func (r *OrganizationMemberRepository) IsOwner(ctx context.Context, callerID, tenantID string) (bool, error) {
	query := `SELECT COUNT(*) FROM organization_members WHERE org_id = $1 AND user_id = $2 AND role = 'owner'`

	var count int
	if err := r.pool.QueryRow(ctx, query, tenantID, callerID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *OrganizationMemberRepository) IsMember(ctx context.Context, callerID, tenantID string) (bool, error) {
	query := `SELECT COUNT(*) FROM organization_members WHERE org_id = $1 AND user_id = $2`

	var count int
	if err := r.pool.QueryRow(ctx, query, tenantID, callerID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
