package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/messaging-crm/backend/internal/models"
	"github.com/messaging-crm/backend/internal/repositories"
	"go.uber.org/zap"
)

type ConnectionService struct {
	connectionRepo *repositories.ConnectionRepo
	campaignRepo   *repositories.CampaignRepo
	log            *zap.Logger
}

func NewConnectionService(connectionRepo *repositories.ConnectionRepo, campaignRepo *repositories.CampaignRepo, log *zap.Logger) *ConnectionService {
	return &ConnectionService{connectionRepo: connectionRepo, campaignRepo: campaignRepo, log: log}
}

func (s *ConnectionService) Create(ctx context.Context, tenantID uuid.UUID, c *models.Connection) error {
	c.TenantID = tenantID
	if c.Name == "" || c.SessionID == "" {
		return fmt.Errorf("name and session_id are required")
	}
	if !models.IsValidChannel(c.Channel) {
		return fmt.Errorf("invalid channel %q", c.Channel)
	}
	if c.Status == "" {
		c.Status = models.ConnectionStatusDisconnected
	}
	return s.connectionRepo.Create(ctx, c)
}

func (s *ConnectionService) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Connection, error) {
	return s.connectionRepo.GetByID(ctx, tenantID, id)
}

func (s *ConnectionService) List(ctx context.Context, tenantID uuid.UUID) ([]models.Connection, error) {
	return s.connectionRepo.List(ctx, tenantID)
}

func (s *ConnectionService) Update(ctx context.Context, tenantID, id uuid.UUID, c *models.Connection) error {
	existing, err := s.connectionRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return fmt.Errorf("connection not found")
	}

	c.ID = id
	c.TenantID = existing.TenantID
	if c.Channel == "" {
		c.Channel = existing.Channel
	}
	if !models.IsValidChannel(c.Channel) {
		return fmt.Errorf("invalid channel %q", c.Channel)
	}
	if c.Status == "" {
		c.Status = existing.Status
	}
	return s.connectionRepo.Update(ctx, c)
}

func (s *ConnectionService) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	active := models.CampaignStatusRunning
	campaigns, err := s.campaignRepo.List(ctx, repositories.CampaignFilter{TenantID: &tenantID, Status: &active, Limit: 100})
	if err != nil {
		return err
	}
	for _, c := range campaigns {
		if c.ConnectionID == id {
			return fmt.Errorf("connection is in use by a running campaign")
		}
	}
	return s.connectionRepo.Delete(ctx, tenantID, id)
}
