package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cutfab-backend/api/internal/models"
	"cutfab-backend/shared/workflow"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidJobTransition  = errors.New("invalid job status transition")
	ErrInsufficientRemaining = errors.New("order item has insufficient unassigned quantity")
)

const jobColumns = `job_id, tenant_id, job_number, material_type_id, thickness, status, scenario_count, created_at, updated_at`

type CuttingJobsRepo struct {
	pool *pgxpool.Pool
}

func NewCuttingJobsRepo(pool *pgxpool.Pool) *CuttingJobsRepo {
	return &CuttingJobsRepo{pool: pool}
}

func (r *CuttingJobsRepo) GetJob(ctx context.Context, jobID uuid.UUID) (models.CuttingJob, error) {
	return getJob(ctx, r.pool, jobID, false)
}

func (r *CuttingJobsRepo) ListJobs(ctx context.Context, status string, limit int, offset int) ([]models.CuttingJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM cutting_jobs
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *CuttingJobsRepo) ListItems(ctx context.Context, jobID uuid.UUID) ([]models.CuttingJobItem, error) {
	return listItems(ctx, r.pool, jobID)
}

// FindPendingJobByMaterial looks up an open job for the exact material pair.
// Thickness comparison is exact equality; tolerance bands are a product
// question, not a repo concern.
func (r *CuttingJobsRepo) FindPendingJobByMaterial(ctx context.Context, materialTypeID uuid.UUID, thickness float64) (models.CuttingJob, bool, error) {
	var job models.CuttingJob
	err := r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM cutting_jobs
		WHERE status = $1 AND material_type_id = $2 AND thickness = $3
		ORDER BY created_at ASC
		LIMIT 1
	`, workflow.JobStatusPending, materialTypeID, thickness).
		Scan(jobFields(&job)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CuttingJob{}, false, nil
	}
	if err != nil {
		return models.CuttingJob{}, false, err
	}
	return job, true, nil
}

// CreateJob inserts the job and its seed items in one transaction, claiming
// the assigned quantity on each source order item.
func (r *CuttingJobsRepo) CreateJob(ctx context.Context, job models.CuttingJob, items []models.CuttingJobItem) (models.CuttingJob, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.CuttingJob{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	err = tx.QueryRow(ctx, `
		INSERT INTO cutting_jobs (job_id, tenant_id, job_number, material_type_id, thickness, status, scenario_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING `+jobColumns+`
	`, job.ID, job.TenantID, job.JobNumber, job.MaterialTypeID, job.Thickness, job.Status, job.ScenarioCount, now).
		Scan(jobFields(&job)...)
	if err != nil {
		return models.CuttingJob{}, err
	}

	for _, item := range items {
		if _, err := insertItem(ctx, tx, job.ID, item.OrderItemID, item.Quantity, true); err != nil {
			return models.CuttingJob{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.CuttingJob{}, err
	}
	return job, nil
}

// UpdateJobStatus applies one transition under FOR UPDATE, re-checking the
// transition table against the persisted status so a concurrent writer cannot
// slip an illegal edge through.
func (r *CuttingJobsRepo) UpdateJobStatus(ctx context.Context, jobID uuid.UUID, toStatus string) (models.CuttingJob, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.CuttingJob{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	job, err := getJob(ctx, tx, jobID, true)
	if err != nil {
		return models.CuttingJob{}, err
	}
	if !workflow.CanTransitionJob(job.Status, toStatus) {
		return models.CuttingJob{}, ErrInvalidJobTransition
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE cutting_jobs SET status = $2, updated_at = $3 WHERE job_id = $1
	`, jobID, toStatus, now)
	if err != nil {
		return models.CuttingJob{}, err
	}
	job.Status = toStatus
	job.UpdatedAt = now

	if err := tx.Commit(ctx); err != nil {
		return models.CuttingJob{}, err
	}
	return job, nil
}

func (r *CuttingJobsRepo) SetScenarioCount(ctx context.Context, jobID uuid.UUID, count int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE cutting_jobs SET scenario_count = $2, updated_at = now() WHERE job_id = $1
	`, jobID, count)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *CuttingJobsRepo) AddItem(ctx context.Context, jobID uuid.UUID, orderItemID uuid.UUID, quantity int) (models.CuttingJobItem, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.CuttingJobItem{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	item, err := insertItem(ctx, tx, jobID, orderItemID, quantity, true)
	if err != nil {
		return models.CuttingJobItem{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.CuttingJobItem{}, err
	}
	return item, nil
}

func (r *CuttingJobsRepo) RemoveItem(ctx context.Context, jobID uuid.UUID, itemID uuid.UUID) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var orderItemID uuid.UUID
	var quantity int
	err = tx.QueryRow(ctx, `
		DELETE FROM cutting_job_items WHERE item_id = $1 AND job_id = $2
		RETURNING order_item_id, quantity
	`, itemID, jobID).Scan(&orderItemID, &quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := releaseAssigned(ctx, tx, orderItemID, quantity); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// DeleteJob removes the job and its items, releasing the assigned quantity
// back to the source order items. The caller has already checked PENDING.
func (r *CuttingJobsRepo) DeleteJob(ctx context.Context, jobID uuid.UUID) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	items, err := listItems(ctx, tx, jobID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := releaseAssigned(ctx, tx, item.OrderItemID, item.Quantity); err != nil {
			return err
		}
	}
	_, err = tx.Exec(ctx, `DELETE FROM cutting_job_items WHERE job_id = $1`, jobID)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM cutting_jobs WHERE job_id = $1`, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

// MergeInto moves every item of every source job onto the target and deletes
// the emptied sources, all in one transaction. Quantities are conserved; no
// coalescing by order item.
func (r *CuttingJobsRepo) MergeInto(ctx context.Context, targetID uuid.UUID, sourceIDs []uuid.UUID) (models.CuttingJob, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.CuttingJob{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		UPDATE cutting_job_items SET job_id = $1 WHERE job_id = ANY($2)
	`, targetID, sourceIDs)
	if err != nil {
		return models.CuttingJob{}, err
	}
	_, err = tx.Exec(ctx, `DELETE FROM cutting_jobs WHERE job_id = ANY($1)`, sourceIDs)
	if err != nil {
		return models.CuttingJob{}, err
	}
	_, err = tx.Exec(ctx, `UPDATE cutting_jobs SET updated_at = now() WHERE job_id = $1`, targetID)
	if err != nil {
		return models.CuttingJob{}, err
	}

	job, err := getJob(ctx, tx, targetID, false)
	if err != nil {
		return models.CuttingJob{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.CuttingJob{}, err
	}
	return job, nil
}

// SplitEntry moves quantity from one source item onto the job being created.
type SplitEntry struct {
	ItemID   uuid.UUID
	Quantity int
}

// Split creates the new job and rebalances the source items in one
// transaction: a fully consumed source item is deleted, a partially consumed
// one keeps the remainder.
func (r *CuttingJobsRepo) Split(ctx context.Context, sourceJobID uuid.UUID, newJob models.CuttingJob, entries []SplitEntry) (models.CuttingJob, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.CuttingJob{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	if newJob.ID == uuid.Nil {
		newJob.ID = uuid.New()
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO cutting_jobs (job_id, tenant_id, job_number, material_type_id, thickness, status, scenario_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
		RETURNING `+jobColumns+`
	`, newJob.ID, newJob.TenantID, newJob.JobNumber, newJob.MaterialTypeID, newJob.Thickness, newJob.Status, now).
		Scan(jobFields(&newJob)...)
	if err != nil {
		return models.CuttingJob{}, err
	}

	for _, entry := range entries {
		var orderItemID uuid.UUID
		var current int
		err = tx.QueryRow(ctx, `
			SELECT order_item_id, quantity FROM cutting_job_items
			WHERE item_id = $1 AND job_id = $2
			FOR UPDATE
		`, entry.ItemID, sourceJobID).Scan(&orderItemID, &current)
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CuttingJob{}, ErrNotFound
		}
		if err != nil {
			return models.CuttingJob{}, err
		}
		if entry.Quantity > current {
			return models.CuttingJob{}, ErrInsufficientRemaining
		}

		remainder := current - entry.Quantity
		if remainder <= 0 {
			_, err = tx.Exec(ctx, `DELETE FROM cutting_job_items WHERE item_id = $1`, entry.ItemID)
		} else {
			_, err = tx.Exec(ctx, `UPDATE cutting_job_items SET quantity = $2 WHERE item_id = $1`, entry.ItemID, remainder)
		}
		if err != nil {
			return models.CuttingJob{}, err
		}

		// The quantity is already claimed against the order item, so the new
		// item is inserted without touching assigned accounting.
		if _, err := insertItem(ctx, tx, newJob.ID, orderItemID, entry.Quantity, false); err != nil {
			return models.CuttingJob{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.CuttingJob{}, err
	}
	return newJob, nil
}

func getJob(ctx context.Context, db DBTX, jobID uuid.UUID, forUpdate bool) (models.CuttingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM cutting_jobs WHERE job_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var job models.CuttingJob
	err := db.QueryRow(ctx, query, jobID).Scan(jobFields(&job)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CuttingJob{}, ErrNotFound
	}
	return job, err
}

func listItems(ctx context.Context, db DBTX, jobID uuid.UUID) ([]models.CuttingJobItem, error) {
	rows, err := db.Query(ctx, `
		SELECT item_id, job_id, order_item_id, quantity, created_at
		FROM cutting_job_items
		WHERE job_id = $1
		ORDER BY created_at ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.CuttingJobItem
	for rows.Next() {
		var item models.CuttingJobItem
		if err := rows.Scan(&item.ID, &item.JobID, &item.OrderItemID, &item.Quantity, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func insertItem(ctx context.Context, db DBTX, jobID uuid.UUID, orderItemID uuid.UUID, quantity int, claimAssigned bool) (models.CuttingJobItem, error) {
	if claimAssigned {
		tag, err := db.Exec(ctx, `
			UPDATE order_items
			SET assigned_quantity = assigned_quantity + $2
			WHERE order_item_id = $1 AND quantity - assigned_quantity >= $2
		`, orderItemID, quantity)
		if err != nil {
			return models.CuttingJobItem{}, err
		}
		if tag.RowsAffected() == 0 {
			return models.CuttingJobItem{}, ErrInsufficientRemaining
		}
	}

	item := models.CuttingJobItem{
		ID:          uuid.New(),
		JobID:       jobID,
		OrderItemID: orderItemID,
		Quantity:    quantity,
	}
	err := db.QueryRow(ctx, `
		INSERT INTO cutting_job_items (item_id, job_id, order_item_id, quantity, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING created_at
	`, item.ID, item.JobID, item.OrderItemID, item.Quantity).Scan(&item.CreatedAt)
	if err != nil {
		return models.CuttingJobItem{}, err
	}
	return item, nil
}

func releaseAssigned(ctx context.Context, db DBTX, orderItemID uuid.UUID, quantity int) error {
	_, err := db.Exec(ctx, `
		UPDATE order_items
		SET assigned_quantity = GREATEST(assigned_quantity - $2, 0)
		WHERE order_item_id = $1
	`, orderItemID, quantity)
	return err
}

func jobFields(job *models.CuttingJob) []any {
	return []any{&job.ID, &job.TenantID, &job.JobNumber, &job.MaterialTypeID, &job.Thickness, &job.Status, &job.ScenarioCount, &job.CreatedAt, &job.UpdatedAt}
}

func scanJobs(rows pgx.Rows) ([]models.CuttingJob, error) {
	var jobs []models.CuttingJob
	for rows.Next() {
		var job models.CuttingJob
		if err := rows.Scan(jobFields(&job)...); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
