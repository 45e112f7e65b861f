package repos

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cutfab-backend/api/internal/models"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) WriteAuditLog(ctx context.Context, entries []models.AuditLog) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, entry := range entries {
		batch.Queue(`
			INSERT INTO audit_logs (occurred_at, tenant_id, actor_subject, action, resource_type, resource_id, request_id, method, path, status_code, duration_ms, client_ip, details)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, entry.OccurredAt, entry.TenantID, entry.ActorSubject, entry.Action, entry.ResourceType, entry.ResourceID, entry.RequestID, entry.Method, entry.Path, entry.StatusCode, entry.DurationMS, entry.ClientIP, entry.Details)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}
