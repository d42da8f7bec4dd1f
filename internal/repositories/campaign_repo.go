package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/messaging-crm/backend/internal/models"
)

const campaignColumns = `id, tenant_id, connection_id, name, content_kind, content_body, caption,
	       send_delay_seconds, status, total_recipients, sent_count, failed_count, pending_count,
	       last_processed_index, error_message, started_at, paused_at, completed_at, created_at, updated_at`

type CampaignRepo struct {
	pool *pgxpool.Pool
}

func NewCampaignRepo(pool *pgxpool.Pool) *CampaignRepo {
	return &CampaignRepo{pool: pool}
}

func scanCampaign(row interface{ Scan(...any) error }, c *models.Campaign) error {
	return row.Scan(&c.ID, &c.TenantID, &c.ConnectionID, &c.Name, &c.ContentKind, &c.ContentBody, &c.Caption,
		&c.SendDelaySeconds, &c.Status, &c.TotalRecipients, &c.SentCount, &c.FailedCount, &c.PendingCount,
		&c.LastProcessedIndex, &c.ErrorMessage, &c.StartedAt, &c.PausedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt)
}

func (r *CampaignRepo) Create(ctx context.Context, c *models.Campaign) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO campaigns (tenant_id, connection_id, name, content_kind, content_body, caption, send_delay_seconds, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, c.TenantID, c.ConnectionID, c.Name, c.ContentKind, c.ContentBody, c.Caption,
		c.SendDelaySeconds, c.Status,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (r *CampaignRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Campaign, error) {
	var c models.Campaign
	err := scanCampaign(r.pool.QueryRow(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns WHERE id = $1 AND tenant_id = $2
	`, id, tenantID), &c)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepo) Update(ctx context.Context, c *models.Campaign) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET connection_id = $1, name = $2, content_kind = $3, content_body = $4,
		       caption = $5, send_delay_seconds = $6, updated_at = now()
		WHERE id = $7 AND tenant_id = $8
	`, c.ConnectionID, c.Name, c.ContentKind, c.ContentBody, c.Caption, c.SendDelaySeconds, c.ID, c.TenantID)
	return err
}

func (r *CampaignRepo) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM campaigns WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	return err
}

type CampaignFilter struct {
	TenantID *uuid.UUID
	Status   *string
	Limit    int
	Offset   int
}

func (r *CampaignRepo) List(ctx context.Context, f CampaignFilter) ([]models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.TenantID != nil {
		where = append(where, fmt.Sprintf("tenant_id = $%d", argIdx))
		args = append(args, *f.TenantID)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}

	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		var c models.Campaign
		if err := scanCampaign(rows, &c); err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, nil
}

// ListByStatus returns campaigns in the given status across all tenants.
// Used by recovery and the janitor, which operate process-wide.
func (r *CampaignRepo) ListByStatus(ctx context.Context, status string) ([]models.Campaign, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+campaignColumns+` FROM campaigns WHERE status = $1 ORDER BY created_at
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		var c models.Campaign
		if err := scanCampaign(rows, &c); err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, nil
}

// ErrStatusConflict means a status write lost a race: the campaign moved to a
// state the requested transition is not valid from, typically a terminal one.
// Terminal statuses are never overwritten; the guard is the WHERE clause, not
// a read-then-write in Go.
var ErrStatusConflict = errors.New("campaign status changed concurrently")

// statusesAllowing returns the statuses from which the state machine permits
// a transition into target.
func statusesAllowing(target string) []string {
	var from []string
	for status, next := range models.ValidCampaignTransitions {
		for _, s := range next {
			if s == target {
				from = append(from, status)
			}
		}
	}
	return from
}

func (r *CampaignRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET status = $1, updated_at = now()
		WHERE id = $2 AND status = ANY($3)
	`, status, id, statusesAllowing(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *CampaignRepo) MarkStarted(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET status = $1, started_at = COALESCE(started_at, now()), paused_at = NULL, updated_at = now()
		WHERE id = $2 AND status = ANY($3)
	`, models.CampaignStatusRunning, id, statusesAllowing(models.CampaignStatusRunning))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *CampaignRepo) MarkPaused(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET status = $1, paused_at = $2, updated_at = now()
		WHERE id = $3 AND status = ANY($4)
	`, models.CampaignStatusPaused, at, id, statusesAllowing(models.CampaignStatusPaused))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *CampaignRepo) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET status = $1, completed_at = $2, updated_at = now()
		WHERE id = $3 AND status = ANY($4)
	`, models.CampaignStatusCompleted, at, id, statusesAllowing(models.CampaignStatusCompleted))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *CampaignRepo) MarkError(ctx context.Context, id uuid.UUID, diagnostic string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET status = $1, error_message = $2, updated_at = now()
		WHERE id = $3 AND status = ANY($4)
	`, models.CampaignStatusError, diagnostic, id, statusesAllowing(models.CampaignStatusError))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

// TickResult is the outcome of one dispatch tick, committed as a single
// transaction so the sent+failed+pending == total invariant holds at every
// observable point.
type TickResult struct {
	CampaignID   uuid.UUID
	RecipientID  uuid.UUID
	Delivered    bool
	SentAt       time.Time
	ErrorMessage *string
	LogEntry     models.DeliveryLogEntry
}

// CommitTick atomically applies a recipient's final status, the campaign
// counters, the cursor advance and the delivery-log append.
func (r *CampaignRepo) CommitTick(ctx context.Context, res TickResult) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if res.Delivered {
		_, err = tx.Exec(ctx, `
			UPDATE recipients SET status = $1, sent_at = $2, error_message = NULL, updated_at = now()
			WHERE id = $3
		`, models.RecipientStatusSent, res.SentAt, res.RecipientID)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE campaigns SET sent_count = sent_count + 1, pending_count = pending_count - 1,
			       last_processed_index = last_processed_index + 1, updated_at = now()
			WHERE id = $1
		`, res.CampaignID)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE recipients SET status = $1, error_message = $2, updated_at = now()
			WHERE id = $3
		`, models.RecipientStatusFailed, res.ErrorMessage, res.RecipientID)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE campaigns SET failed_count = failed_count + 1, pending_count = pending_count - 1,
			       last_processed_index = last_processed_index + 1, updated_at = now()
			WHERE id = $1
		`, res.CampaignID)
	}
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO delivery_log (campaign_id, recipient_id, number, name, outcome, message)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, res.LogEntry.CampaignID, res.LogEntry.RecipientID, res.LogEntry.Number,
		res.LogEntry.Name, res.LogEntry.Outcome, res.LogEntry.Message)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}
