package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/tenant"
)

// PutTenant creates or updates a tenant. The status is mirrored into the
// tenant status Hash that the claim script reads, and activating a tenant
// returns its parked jobs to the ready set.
func (s *Store) PutTenant(ctx context.Context, t *tenant.Tenant) error {
	now := time.Now().UTC()
	created := t.CreatedAt
	if created.IsZero() {
		created = now
	}

	keys := []string{tenantKey(t.ID), tenantStatusKey, parkedKey(t.ID), readyKey}
	n, err := putTenantScript.Run(ctx, s.client, keys,
		t.ID, string(t.Status), formatTime(created), formatTime(now)).Int64()
	if err != nil {
		return fmt.Errorf("conveyor/redis: put tenant: %w", err)
	}
	if n > 0 {
		s.logger.Debug("restored parked jobs",
			slog.String("tenant_id", t.ID),
			slog.Int64("jobs", n),
		)
	}
	return nil
}

// GetTenant retrieves a tenant by ID.
func (s *Store) GetTenant(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	vals, err := s.client.HGetAll(ctx, tenantKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: get tenant: %w", err)
	}
	if len(vals) == 0 {
		return nil, conveyor.ErrTenantNotFound
	}
	return mapToTenant(vals), nil
}

// ListTenants returns all tenants ordered by ID.
func (s *Store) ListTenants(ctx context.Context) ([]*tenant.Tenant, error) {
	ids, err := s.client.HKeys(ctx, tenantStatusKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list tenants: %w", err)
	}
	sort.Strings(ids)

	result := make([]*tenant.Tenant, 0, len(ids))
	for _, tID := range ids {
		t, getErr := s.GetTenant(ctx, tID)
		if getErr != nil {
			continue
		}
		result = append(result, t)
	}
	return result, nil
}

func mapToTenant(m map[string]string) *tenant.Tenant {
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	return &tenant.Tenant{
		Entity: conveyor.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:     m["id"],
		Status: tenant.Status(m["status"]),
	}
}
