package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/messaging-crm/backend/internal/models"
)

type ConnectionRepo struct {
	pool *pgxpool.Pool
}

func NewConnectionRepo(pool *pgxpool.Pool) *ConnectionRepo {
	return &ConnectionRepo{pool: pool}
}

func (r *ConnectionRepo) Create(ctx context.Context, c *models.Connection) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO connections (tenant_id, name, channel, session_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, c.TenantID, c.Name, c.Channel, c.SessionID, c.Status).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (r *ConnectionRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Connection, error) {
	var c models.Connection
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, channel, session_id, status, created_at, updated_at
		FROM connections WHERE id = $1 AND tenant_id = $2
	`, id, tenantID).Scan(&c.ID, &c.TenantID, &c.Name, &c.Channel, &c.SessionID, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ConnectionRepo) List(ctx context.Context, tenantID uuid.UUID) ([]models.Connection, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, name, channel, session_id, status, created_at, updated_at
		FROM connections WHERE tenant_id = $1 ORDER BY created_at DESC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []models.Connection
	for rows.Next() {
		var c models.Connection
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Channel, &c.SessionID, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, nil
}

func (r *ConnectionRepo) Update(ctx context.Context, c *models.Connection) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE connections SET name = $1, channel = $2, session_id = $3, status = $4, updated_at = now()
		WHERE id = $5 AND tenant_id = $6
	`, c.Name, c.Channel, c.SessionID, c.Status, c.ID, c.TenantID)
	return err
}

func (r *ConnectionRepo) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM connections WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	return err
}
