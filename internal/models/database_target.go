package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sqlgateway/internal/dialect"
)

type OwnerKind string

const (
	OwnerIndividual OwnerKind = "individual"
	OwnerTenant     OwnerKind = "tenant"
)

// Owner is either an IndividualOwner or a TenantOwner. The unexported method
// keeps the set closed to this package.
type Owner interface {
	Kind() OwnerKind
	Ref() string
	isOwner()
}

// IndividualOwner is a target usable only by one caller.
type IndividualOwner struct {
	CallerID string
}

func (IndividualOwner) Kind() OwnerKind { return OwnerIndividual }
func (o IndividualOwner) Ref() string   { return o.CallerID }
func (IndividualOwner) isOwner()        {}

// TenantOwner is a target shared by the current members of a tenant.
type TenantOwner struct {
	TenantID string
}

func (TenantOwner) Kind() OwnerKind { return OwnerTenant }
func (o TenantOwner) Ref() string   { return o.TenantID }
func (TenantOwner) isOwner()        {}

// NewOwner builds an Owner from its persisted kind and reference.
func NewOwner(kind OwnerKind, ref string) (Owner, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("owner reference is required")
	}

	switch kind {
	case OwnerIndividual:
		return IndividualOwner{CallerID: ref}, nil
	case OwnerTenant:
		return TenantOwner{TenantID: ref}, nil
	default:
		return nil, fmt.Errorf("unknown owner kind %q", kind)
	}
}

// DatabaseTarget is a registered database that callers may query.
type DatabaseTarget struct {
	ID            string
	DisplayName   string
	CredentialURI string
	Owner         Owner
	Dialect       dialect.Dialect
	Active        bool
	SchemaDigest  string
	SampleDigest  string
	CreatedBy     string
	CreatedAt     time.Time
	LastUsedAt    *time.Time
}

func (t *DatabaseTarget) Prepare() {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.ID == "" {
		t.ID = NewTargetID(t.CreatedAt)
	}
}

// NewTargetID returns DB_<yyyymmddHHMMSS>_<8 hex chars>.
func NewTargetID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("DB_%s_%s", now.Format("20060102150405"), suffix)
}

// TargetView is the outward representation of a target. It never carries
// the raw credential.
type TargetView struct {
	ID                string     `json:"id"`
	DisplayName       string     `json:"display_name"`
	CredentialPreview string     `json:"credential_preview"`
	OwnerKind         OwnerKind  `json:"owner_kind"`
	OwnerRef          string     `json:"owner_ref"`
	Dialect           string     `json:"dialect"`
	Active            bool       `json:"active"`
	SchemaDigest      string     `json:"schema_digest,omitempty"`
	SampleDigest      string     `json:"sample_digest,omitempty"`
	CreatedBy         string     `json:"created_by"`
	CreatedAt         time.Time  `json:"created_at"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
}
