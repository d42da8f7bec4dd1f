package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/messaging-crm/backend/internal/models"
	"github.com/messaging-crm/backend/internal/repositories"
)

// Store is the slice of persistence the engine drives. The campaign store is
// the sole source of truth; the engine keeps no dispatch state in memory
// beyond the campaigns it is actively running.
type Store interface {
	ListCampaignsByStatus(ctx context.Context, status string) ([]models.Campaign, error)
	ClaimNextRecipient(ctx context.Context, campaignID uuid.UUID) (*models.Recipient, error)
	ReleaseClaims(ctx context.Context, campaignID uuid.UUID) error
	CommitTick(ctx context.Context, res repositories.TickResult) error
	MarkStarted(ctx context.Context, id uuid.UUID) error
	MarkPaused(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkError(ctx context.Context, id uuid.UUID, diagnostic string) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	AppendLog(ctx context.Context, entry models.DeliveryLogEntry) error
}

// RepoStore adapts the Postgres repositories to the engine's Store.
type RepoStore struct {
	Campaigns  *repositories.CampaignRepo
	Recipients *repositories.RecipientRepo
	Logs       *repositories.DeliveryLogRepo
}

func NewRepoStore(campaigns *repositories.CampaignRepo, recipients *repositories.RecipientRepo, logs *repositories.DeliveryLogRepo) *RepoStore {
	return &RepoStore{Campaigns: campaigns, Recipients: recipients, Logs: logs}
}

func (s *RepoStore) ListCampaignsByStatus(ctx context.Context, status string) ([]models.Campaign, error) {
	return s.Campaigns.ListByStatus(ctx, status)
}

func (s *RepoStore) ClaimNextRecipient(ctx context.Context, campaignID uuid.UUID) (*models.Recipient, error) {
	return s.Recipients.ClaimNext(ctx, campaignID)
}

func (s *RepoStore) ReleaseClaims(ctx context.Context, campaignID uuid.UUID) error {
	return s.Recipients.ReleaseClaims(ctx, campaignID)
}

func (s *RepoStore) CommitTick(ctx context.Context, res repositories.TickResult) error {
	return s.Campaigns.CommitTick(ctx, res)
}

func (s *RepoStore) MarkStarted(ctx context.Context, id uuid.UUID) error {
	return s.Campaigns.MarkStarted(ctx, id)
}

func (s *RepoStore) MarkPaused(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.Campaigns.MarkPaused(ctx, id, at)
}

func (s *RepoStore) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.Campaigns.MarkCompleted(ctx, id, at)
}

func (s *RepoStore) MarkError(ctx context.Context, id uuid.UUID, diagnostic string) error {
	return s.Campaigns.MarkError(ctx, id, diagnostic)
}

func (s *RepoStore) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	return s.Campaigns.UpdateStatus(ctx, id, status)
}

func (s *RepoStore) AppendLog(ctx context.Context, entry models.DeliveryLogEntry) error {
	return s.Logs.Append(ctx, entry)
}
