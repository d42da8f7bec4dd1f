package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/messaging-crm/backend/internal/models"
)

type DeliveryLogRepo struct {
	pool *pgxpool.Pool
}

func NewDeliveryLogRepo(pool *pgxpool.Pool) *DeliveryLogRepo {
	return &DeliveryLogRepo{pool: pool}
}

func (r *DeliveryLogRepo) Append(ctx context.Context, entry models.DeliveryLogEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO delivery_log (campaign_id, recipient_id, number, name, outcome, message)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.CampaignID, entry.RecipientID, entry.Number, entry.Name, entry.Outcome, entry.Message)
	return err
}

func (r *DeliveryLogRepo) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit, offset int) ([]models.DeliveryLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, campaign_id, recipient_id, number, name, outcome, message, created_at
		FROM delivery_log WHERE campaign_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, campaignID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.DeliveryLogEntry
	for rows.Next() {
		var e models.DeliveryLogEntry
		if err := rows.Scan(&e.ID, &e.CampaignID, &e.RecipientID, &e.Number, &e.Name,
			&e.Outcome, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// TrimOlderThan deletes log entries past the retention window. Used by the
// janitor worker; the log itself is append-only for everyone else.
func (r *DeliveryLogRepo) TrimOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM delivery_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
