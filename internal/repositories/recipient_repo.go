package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/messaging-crm/backend/internal/models"
)

// ErrNoPendingRecipients signals an exhausted campaign to the dispatch loop.
var ErrNoPendingRecipients = errors.New("no pending recipients")

type RecipientRepo struct {
	pool *pgxpool.Pool
}

func NewRecipientRepo(pool *pgxpool.Pool) *RecipientRepo {
	return &RecipientRepo{pool: pool}
}

type NewRecipient struct {
	Number string
	Name   *string
}

// BulkInsert appends recipients in import order, bumps the campaign counters
// and moves a draft campaign to ready, all in one transaction. The cursor is
// reset because a fresh import redefines the dispatch order.
func (r *RecipientRepo) BulkInsert(ctx context.Context, campaignID uuid.UUID, recipients []NewRecipient) error {
	if len(recipients) == 0 {
		return fmt.Errorf("empty recipient list")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i, rec := range recipients {
		_, err := tx.Exec(ctx, `
			INSERT INTO recipients (campaign_id, position, number, name, status)
			VALUES ($1, $2, $3, $4, $5)
		`, campaignID, i, rec.Number, rec.Name, models.RecipientStatusPending)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE campaigns
		SET total_recipients = $1, pending_count = $1, sent_count = 0, failed_count = 0,
		    last_processed_index = 0, status = $2, updated_at = now()
		WHERE id = $3
	`, len(recipients), models.CampaignStatusReady, campaignID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *RecipientRepo) List(ctx context.Context, campaignID uuid.UUID, limit, offset int) ([]models.Recipient, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, campaign_id, position, number, name, status, sent_at, error_message, created_at, updated_at
		FROM recipients WHERE campaign_id = $1
		ORDER BY position LIMIT $2 OFFSET $3
	`, campaignID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []models.Recipient
	for rows.Next() {
		var rec models.Recipient
		if err := rows.Scan(&rec.ID, &rec.CampaignID, &rec.Position, &rec.Number, &rec.Name,
			&rec.Status, &rec.SentAt, &rec.ErrorMessage, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, nil
}

// ClaimNext atomically moves the lowest-position pending recipient to the
// in-flight "sending" state and returns it. Resumption after a crash needs no
// in-process memory: whatever is still pending is what remains to be sent.
// Returns ErrNoPendingRecipients when the campaign is exhausted.
func (r *RecipientRepo) ClaimNext(ctx context.Context, campaignID uuid.UUID) (*models.Recipient, error) {
	var rec models.Recipient
	err := r.pool.QueryRow(ctx, `
		UPDATE recipients SET status = $1, updated_at = now()
		WHERE id = (
			SELECT id FROM recipients
			WHERE campaign_id = $2 AND status = $3
			ORDER BY position
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, campaign_id, position, number, name, status, sent_at, error_message, created_at, updated_at
	`, models.RecipientStatusSending, campaignID, models.RecipientStatusPending,
	).Scan(&rec.ID, &rec.CampaignID, &rec.Position, &rec.Number, &rec.Name,
		&rec.Status, &rec.SentAt, &rec.ErrorMessage, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoPendingRecipients
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ReleaseClaims returns recipients stuck in "sending" to pending. Called
// before a paused or recovered campaign re-enters the loop.
func (r *RecipientRepo) ReleaseClaims(ctx context.Context, campaignID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE recipients SET status = $1, updated_at = now()
		WHERE campaign_id = $2 AND status = $3
	`, models.RecipientStatusPending, campaignID, models.RecipientStatusSending)
	return err
}
