package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlgateway/internal/logger"
	"sqlgateway/internal/models"
)

type targetMap map[string]*models.DatabaseTarget

func (m targetMap) Get(_ context.Context, id string) (*models.DatabaseTarget, error) {
	if t, ok := m[id]; ok {
		return t, nil
	}
	return nil, newError(ErrNotFound, "target %s not found", id)
}

type brokenOracle struct{}

func (brokenOracle) IsMember(context.Context, string, string) (bool, error) {
	return false, errors.New("membership store down")
}

func (brokenOracle) IsOwner(context.Context, string, string) (bool, error) {
	return false, errors.New("membership store down")
}

// ownerOnlyBroken answers membership but fails ownership lookups.
type ownerOnlyBroken struct{ *memOracle }

func (ownerOnlyBroken) IsOwner(context.Context, string, string) (bool, error) {
	return false, errors.New("membership store down")
}

func TestAuthorize_IndividualOwner(t *testing.T) {
	targets := targetMap{
		"DB_1": {ID: "DB_1", Owner: models.IndividualOwner{CallerID: "U1"}, Active: true},
	}
	access := NewAccessControl(targets, newMemOracle(), logger.Discard())

	decision, err := access.Authorize(context.Background(), "U1", "DB_1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	decision, err = access.Authorize(context.Background(), "U2", "DB_1")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "target unavailable", decision.Reason)

	decision, err = access.Authorize(context.Background(), "", "DB_1")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestAuthorize_TenantMembershipIsCheckedEveryCall(t *testing.T) {
	targets := targetMap{
		"DB_T": {ID: "DB_T", Owner: models.TenantOwner{TenantID: "O1"}, Active: true},
	}
	oracle := newMemOracle()
	oracle.set("U3", "O1", true)
	access := NewAccessControl(targets, oracle, logger.Discard())

	decision, err := access.Authorize(context.Background(), "U3", "DB_T")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	oracle.set("U3", "O1", false)

	decision, err = access.Authorize(context.Background(), "U3", "DB_T")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "target unavailable", decision.Reason)
	assert.EqualValues(t, 2, oracle.calls.Load())
}

func TestAuthorize_OracleFailureDenies(t *testing.T) {
	targets := targetMap{
		"DB_T": {ID: "DB_T", Owner: models.TenantOwner{TenantID: "O1"}, Active: true},
	}
	access := NewAccessControl(targets, brokenOracle{}, logger.Discard())

	decision, err := access.Authorize(context.Background(), "U3", "DB_T")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "target unavailable", decision.Reason)
}

func TestAuthorize_UnavailableAndUnknownOwnership(t *testing.T) {
	targets := targetMap{
		"DB_OFF":  {ID: "DB_OFF", Owner: models.IndividualOwner{CallerID: "U1"}, Active: false},
		"DB_NONE": {ID: "DB_NONE", Active: true},
	}
	access := NewAccessControl(targets, newMemOracle(), logger.Discard())

	tests := []struct {
		name     string
		targetID string
		reason   string
	}{
		{"inactive target", "DB_OFF", "target unavailable"},
		{"missing target", "DB_GONE", "target unavailable"},
		{"owner not set", "DB_NONE", "unknown ownership type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := access.Authorize(context.Background(), "U1", tt.targetID)
			require.NoError(t, err)
			assert.False(t, decision.Allowed)
			assert.Equal(t, tt.reason, decision.Reason)
		})
	}
}

func TestAuthorize_DenialDoesNotRevealExistence(t *testing.T) {
	targets := targetMap{
		"DB_MINE":   {ID: "DB_MINE", Owner: models.IndividualOwner{CallerID: "U1"}, Active: true},
		"DB_TENANT": {ID: "DB_TENANT", Owner: models.TenantOwner{TenantID: "O1"}, Active: true},
	}
	access := NewAccessControl(targets, newMemOracle(), logger.Discard())

	missing, err := access.Authorize(context.Background(), "U2", "DB_NOPE")
	require.NoError(t, err)

	for _, id := range []string{"DB_MINE", "DB_TENANT"} {
		foreign, err := access.Authorize(context.Background(), "U2", id)
		require.NoError(t, err)
		assert.Equal(t, missing, foreign, id)
	}

	broken, err := NewAccessControl(targets, brokenOracle{}, logger.Discard()).Authorize(context.Background(), "U2", "DB_TENANT")
	require.NoError(t, err)
	assert.Equal(t, missing, broken)
}

func TestAuthorizeManage(t *testing.T) {
	targets := targetMap{
		"DB_MINE":   {ID: "DB_MINE", Owner: models.IndividualOwner{CallerID: "U1"}, Active: true},
		"DB_TENANT": {ID: "DB_TENANT", Owner: models.TenantOwner{TenantID: "O1"}, Active: true},
	}
	oracle := newMemOracle()
	oracle.setOwner("U1", "O1")
	oracle.set("U2", "O1", true)
	access := NewAccessControl(targets, oracle, logger.Discard())

	tests := []struct {
		name     string
		caller   string
		targetID string
		allowed  bool
		reason   string
	}{
		{"individual owner", "U1", "DB_MINE", true, ""},
		{"tenant owner", "U1", "DB_TENANT", true, ""},
		{"plain member", "U2", "DB_TENANT", false, "only the tenant owner can manage this database"},
		{"outsider", "U3", "DB_TENANT", false, "target unavailable"},
		{"missing target", "U1", "DB_NOPE", false, "target unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := access.AuthorizeManage(context.Background(), tt.caller, tt.targetID)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, decision.Allowed)
			assert.Equal(t, tt.reason, decision.Reason)
		})
	}

	// Plain members keep query access.
	decision, err := access.Authorize(context.Background(), "U2", "DB_TENANT")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	failing := ownerOnlyBroken{oracle}
	decision, err = NewAccessControl(targets, failing, logger.Discard()).AuthorizeManage(context.Background(), "U1", "DB_TENANT")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestIsTenantOwner(t *testing.T) {
	oracle := newMemOracle()
	oracle.setOwner("U1", "O1")
	oracle.set("U2", "O1", true)
	access := NewAccessControl(targetMap{}, oracle, logger.Discard())

	isOwner, err := access.IsTenantOwner(context.Background(), "U1", "O1")
	require.NoError(t, err)
	assert.True(t, isOwner)

	isOwner, err = access.IsTenantOwner(context.Background(), "U2", "O1")
	require.NoError(t, err)
	assert.False(t, isOwner)

	_, err = NewAccessControl(targetMap{}, brokenOracle{}, logger.Discard()).IsTenantOwner(context.Background(), "U1", "O1")
	assert.Error(t, err)
}

func TestIsTenantMember(t *testing.T) {
	oracle := newMemOracle()
	oracle.set("U1", "O1", true)
	access := NewAccessControl(targetMap{}, oracle, logger.Discard())

	member, err := access.IsTenantMember(context.Background(), "U1", "O1")
	require.NoError(t, err)
	assert.True(t, member)

	member, err = access.IsTenantMember(context.Background(), "U1", "O2")
	require.NoError(t, err)
	assert.False(t, member)

	member, err = access.IsTenantMember(context.Background(), "", "O1")
	require.NoError(t, err)
	assert.False(t, member)

	_, err = NewAccessControl(targetMap{}, brokenOracle{}, logger.Discard()).IsTenantMember(context.Background(), "U1", "O1")
	assert.Error(t, err)
}
