package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/tenant"
)

// PutTenant creates or updates a tenant. CreatedAt is kept on update.
func (s *Store) PutTenant(ctx context.Context, t *tenant.Tenant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_tenants (id, status, created_at, updated_at)
		VALUES ($1, $2, COALESCE($3::timestamptz, NOW()), NOW())
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, updated_at = NOW()`,
		t.ID, string(t.Status), nullableTime(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: put tenant: %w", err)
	}
	return nil
}

// GetTenant retrieves a tenant by ID.
func (s *Store) GetTenant(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, created_at, updated_at FROM conveyor_tenants WHERE id = $1`,
		tenantID,
	)
	t, err := scanTenant(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrTenantNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: get tenant: %w", err)
	}
	return t, nil
}

// ListTenants returns all tenants ordered by ID.
func (s *Store) ListTenants(ctx context.Context) ([]*tenant.Tenant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, created_at, updated_at FROM conveyor_tenants ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*tenant.Tenant
	for rows.Next() {
		t, scanErr := scanTenant(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan tenant row: %w", scanErr)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate tenant rows: %w", err)
	}
	return tenants, nil
}

func scanTenant(row pgx.Row) (*tenant.Tenant, error) {
	var (
		t      tenant.Tenant
		status string
	)
	if err := row.Scan(&t.ID, &status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = tenant.Status(status)
	return &t, nil
}
