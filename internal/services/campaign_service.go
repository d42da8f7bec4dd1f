package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/messaging-crm/backend/internal/config"
	"github.com/messaging-crm/backend/internal/dispatch"
	"github.com/messaging-crm/backend/internal/importer"
	"github.com/messaging-crm/backend/internal/models"
	"github.com/messaging-crm/backend/internal/repositories"
	"go.uber.org/zap"
)

// The service depends on the narrow slices of the repositories and the
// dispatcher it actually calls. The Postgres repositories and the live
// dispatcher satisfy these as-is.
type campaignStore interface {
	Create(ctx context.Context, c *models.Campaign) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Campaign, error)
	List(ctx context.Context, f repositories.CampaignFilter) ([]models.Campaign, error)
	Update(ctx context.Context, c *models.Campaign) error
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
	MarkPaused(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

type recipientStore interface {
	BulkInsert(ctx context.Context, campaignID uuid.UUID, recipients []repositories.NewRecipient) error
	List(ctx context.Context, campaignID uuid.UUID, limit, offset int) ([]models.Recipient, error)
	ReleaseClaims(ctx context.Context, campaignID uuid.UUID) error
}

type deliveryLogStore interface {
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit, offset int) ([]models.DeliveryLogEntry, error)
}

type connectionStore interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Connection, error)
}

type campaignDispatcher interface {
	Start(ctx context.Context, campaign *models.Campaign, conn *models.Connection) error
	Pause(ctx context.Context, campaignID uuid.UUID) error
	Resume(ctx context.Context, campaign *models.Campaign, conn *models.Connection) error
	Cancel(ctx context.Context, campaignID uuid.UUID) error
}

type CampaignService struct {
	campaignRepo   campaignStore
	recipientRepo  recipientStore
	logRepo        deliveryLogStore
	connectionRepo connectionStore
	importer       *importer.Importer
	dispatcher     campaignDispatcher
	cfg            *config.Config
	log            *zap.Logger
}

func NewCampaignService(
	campaignRepo campaignStore,
	recipientRepo recipientStore,
	logRepo deliveryLogStore,
	connectionRepo connectionStore,
	imp *importer.Importer,
	dispatcher campaignDispatcher,
	cfg *config.Config,
	log *zap.Logger,
) *CampaignService {
	return &CampaignService{
		campaignRepo:   campaignRepo,
		recipientRepo:  recipientRepo,
		logRepo:        logRepo,
		connectionRepo: connectionRepo,
		importer:       imp,
		dispatcher:     dispatcher,
		cfg:            cfg,
		log:            log,
	}
}

func (s *CampaignService) validate(ctx context.Context, tenantID uuid.UUID, c *models.Campaign) error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !models.IsValidContentKind(c.ContentKind) {
		return fmt.Errorf("invalid content kind %q", c.ContentKind)
	}
	if c.ContentBody == "" {
		return fmt.Errorf("content body is required")
	}
	if c.SendDelaySeconds < s.cfg.MinSendDelaySeconds || c.SendDelaySeconds > s.cfg.MaxSendDelaySeconds {
		return fmt.Errorf("send delay must be between %d and %d seconds",
			s.cfg.MinSendDelaySeconds, s.cfg.MaxSendDelaySeconds)
	}
	if _, err := s.connectionRepo.GetByID(ctx, tenantID, c.ConnectionID); err != nil {
		return fmt.Errorf("connection not found")
	}
	return nil
}

func (s *CampaignService) Create(ctx context.Context, tenantID uuid.UUID, c *models.Campaign) error {
	c.TenantID = tenantID
	c.Status = models.CampaignStatusDraft
	if err := s.validate(ctx, tenantID, c); err != nil {
		return err
	}
	return s.campaignRepo.Create(ctx, c)
}

func (s *CampaignService) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Campaign, error) {
	return s.campaignRepo.GetByID(ctx, tenantID, id)
}

func (s *CampaignService) List(ctx context.Context, tenantID uuid.UUID, f repositories.CampaignFilter) ([]models.Campaign, error) {
	f.TenantID = &tenantID
	return s.campaignRepo.List(ctx, f)
}

// Update replaces a draft campaign's configuration. Non-draft campaigns are
// immutable except through lifecycle transitions.
func (s *CampaignService) Update(ctx context.Context, tenantID, id uuid.UUID, c *models.Campaign) error {
	existing, err := s.campaignRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return fmt.Errorf("campaign not found")
	}
	if existing.Status != models.CampaignStatusDraft {
		return fmt.Errorf("only draft campaigns can be edited")
	}

	c.ID = id
	c.TenantID = tenantID
	if err := s.validate(ctx, tenantID, c); err != nil {
		return err
	}
	return s.campaignRepo.Update(ctx, c)
}

func (s *CampaignService) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	existing, err := s.campaignRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return fmt.Errorf("campaign not found")
	}
	switch existing.Status {
	case models.CampaignStatusRunning, models.CampaignStatusPaused:
		return fmt.Errorf("cancel the campaign before deleting it")
	}
	return s.campaignRepo.Delete(ctx, tenantID, id)
}

// ImportRecipients parses raw tabular bytes and loads the normalized list
// into a draft campaign, moving it to ready.
func (s *CampaignService) ImportRecipients(ctx context.Context, tenantID, id uuid.UUID, data []byte) (int, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return 0, fmt.Errorf("campaign not found")
	}
	if campaign.Status != models.CampaignStatusDraft {
		return 0, fmt.Errorf("recipients can only be imported into a draft campaign")
	}

	parsed, err := s.importer.Parse(data)
	if err != nil {
		return 0, err
	}

	recipients := make([]repositories.NewRecipient, len(parsed))
	for i, r := range parsed {
		recipients[i] = repositories.NewRecipient{Number: r.Number, Name: r.Name}
	}
	if err := s.recipientRepo.BulkInsert(ctx, id, recipients); err != nil {
		return 0, err
	}

	s.log.Info("recipients imported",
		zap.String("campaign_id", id.String()),
		zap.Int("count", len(recipients)),
	)
	return len(recipients), nil
}

func (s *CampaignService) Start(ctx context.Context, tenantID, id uuid.UUID) error {
	campaign, err := s.campaignRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return fmt.Errorf("campaign not found")
	}
	if !models.IsValidTransition(campaign.Status, models.CampaignStatusRunning) ||
		campaign.Status != models.CampaignStatusReady {
		return fmt.Errorf("cannot start campaign in status %q", campaign.Status)
	}

	conn, err := s.connectionRepo.GetByID(ctx, tenantID, campaign.ConnectionID)
	if err != nil {
		return fmt.Errorf("connection not found")
	}
	if err := s.dispatcher.Start(ctx, campaign, conn); err != nil {
		if errors.Is(err, dispatch.ErrNoPending) {
			return fmt.Errorf("campaign has no pending recipients")
		}
		return err
	}
	return nil
}

// Pause is idempotent: pausing an already-paused campaign is a no-op.
func (s *CampaignService) Pause(ctx context.Context, tenantID, id uuid.UUID) error {
	campaign, err := s.campaignRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return fmt.Errorf("campaign not found")
	}
	switch campaign.Status {
	case models.CampaignStatusPaused:
		return nil
	case models.CampaignStatusRunning:
	default:
		return fmt.Errorf("cannot pause campaign in status %q", campaign.Status)
	}

	err = s.dispatcher.Pause(ctx, id)
	if errors.Is(err, dispatch.ErrNotRunning) {
		// Running in the store but no live loop here: the process that owned
		// it died. Settle it the way recovery would.
		return s.settleOrphan(ctx, id, models.CampaignStatusPaused)
	}
	return err
}

func (s *CampaignService) Resume(ctx context.Context, tenantID, id uuid.UUID) error {
	campaign, err := s.campaignRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return fmt.Errorf("campaign not found")
	}
	if campaign.Status != models.CampaignStatusPaused {
		return fmt.Errorf("cannot resume campaign in status %q", campaign.Status)
	}

	conn, err := s.connectionRepo.GetByID(ctx, tenantID, campaign.ConnectionID)
	if err != nil {
		return fmt.Errorf("connection not found")
	}
	if err := s.dispatcher.Resume(ctx, campaign, conn); err != nil {
		if errors.Is(err, dispatch.ErrNoPending) {
			return fmt.Errorf("campaign has no pending recipients")
		}
		return err
	}
	return nil
}

func (s *CampaignService) Cancel(ctx context.Context, tenantID, id uuid.UUID) error {
	campaign, err := s.campaignRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return fmt.Errorf("campaign not found")
	}
	if !models.IsValidTransition(campaign.Status, models.CampaignStatusCancelled) {
		return fmt.Errorf("cannot cancel campaign in status %q", campaign.Status)
	}

	if campaign.Status == models.CampaignStatusPaused {
		return s.settleOrphan(ctx, id, models.CampaignStatusCancelled)
	}

	err = s.dispatcher.Cancel(ctx, id)
	if errors.Is(err, dispatch.ErrNotRunning) {
		return s.settleOrphan(ctx, id, models.CampaignStatusCancelled)
	}
	return err
}

// settleOrphan applies a stop status to a campaign that has no live loop.
// The writes are conditional on the transition still being valid, so a
// campaign that completed or errored between our read and this write keeps
// its terminal status and the caller gets told instead.
func (s *CampaignService) settleOrphan(ctx context.Context, id uuid.UUID, status string) error {
	if err := s.recipientRepo.ReleaseClaims(ctx, id); err != nil {
		return err
	}
	var err error
	if status == models.CampaignStatusPaused {
		err = s.campaignRepo.MarkPaused(ctx, id, time.Now())
	} else {
		err = s.campaignRepo.UpdateStatus(ctx, id, status)
	}
	if errors.Is(err, repositories.ErrStatusConflict) {
		return fmt.Errorf("campaign already finished")
	}
	return err
}

func (s *CampaignService) ListRecipients(ctx context.Context, tenantID, id uuid.UUID, limit, offset int) ([]models.Recipient, error) {
	if _, err := s.campaignRepo.GetByID(ctx, tenantID, id); err != nil {
		return nil, fmt.Errorf("campaign not found")
	}
	return s.recipientRepo.List(ctx, id, limit, offset)
}

func (s *CampaignService) ListDeliveryLog(ctx context.Context, tenantID, id uuid.UUID, limit, offset int) ([]models.DeliveryLogEntry, error) {
	if _, err := s.campaignRepo.GetByID(ctx, tenantID, id); err != nil {
		return nil, fmt.Errorf("campaign not found")
	}
	return s.logRepo.ListByCampaign(ctx, id, limit, offset)
}
