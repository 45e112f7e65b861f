package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cutfab-backend/api/internal/models"
)

type TenantsRepo struct {
	pool *pgxpool.Pool
}

func NewTenantsRepo(pool *pgxpool.Pool) *TenantsRepo {
	return &TenantsRepo{pool: pool}
}

func (r *TenantsRepo) GetTenantByID(ctx context.Context, tenantID uuid.UUID) (models.Tenant, error) {
	var tenant models.Tenant
	err := r.pool.QueryRow(ctx, `
		SELECT tenant_id, slug, name, created_at FROM tenants WHERE tenant_id = $1
	`, tenantID).Scan(&tenant.TenantID, &tenant.Slug, &tenant.Name, &tenant.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Tenant{}, ErrNotFound
	}
	return tenant, err
}

func (r *TenantsRepo) GetTenantBySlug(ctx context.Context, slug string) (models.Tenant, error) {
	var tenant models.Tenant
	err := r.pool.QueryRow(ctx, `
		SELECT tenant_id, slug, name, created_at FROM tenants WHERE slug = $1
	`, slug).Scan(&tenant.TenantID, &tenant.Slug, &tenant.Name, &tenant.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Tenant{}, ErrNotFound
	}
	return tenant, err
}
