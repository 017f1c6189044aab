// Package tenant holds the tenant mirror consulted by the claim path and
// helpers that carry the acting tenant on a context.Context.
//
// A job is only claimable while its tenant is active. A tenant with no
// row at all is treated as not active, so jobs enqueued for an unknown
// tenant wait until the tenant is registered.
package tenant

import (
	"context"

	"github.com/xraph/conveyor"
)

// Status is the lifecycle status of a tenant.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusDeleted:
		return true
	}
	return false
}

// Tenant is the subset of tenant state the job system needs.
type Tenant struct {
	conveyor.Entity

	ID     string `json:"id"`
	Status Status `json:"status"`
}

// Active reports whether jobs of this tenant may be claimed.
func (t *Tenant) Active() bool {
	return t != nil && t.Status == StatusActive
}

// Store persists tenant status.
type Store interface {
	// PutTenant creates or updates a tenant's status.
	PutTenant(ctx context.Context, t *Tenant) error

	// GetTenant returns conveyor.ErrTenantNotFound when no row exists.
	GetTenant(ctx context.Context, tenantID string) (*Tenant, error)

	// ListTenants returns all tenants ordered by ID.
	ListTenants(ctx context.Context) ([]*Tenant, error)
}

// Activate is a convenience for PutTenant with StatusActive.
func Activate(ctx context.Context, s Store, tenantID string) error {
	return s.PutTenant(ctx, New(tenantID, StatusActive))
}

// New returns a tenant with the given status, timestamped now.
func New(tenantID string, status Status) *Tenant {
	return &Tenant{Entity: conveyor.NewEntity(), ID: tenantID, Status: status}
}
