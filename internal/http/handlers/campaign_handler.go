package handlers

import (
	"context"
	"io"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/messaging-crm/backend/internal/http/dto"
	"github.com/messaging-crm/backend/internal/middleware"
	"github.com/messaging-crm/backend/internal/models"
	"github.com/messaging-crm/backend/internal/repositories"
	"github.com/messaging-crm/backend/internal/services"
	"go.uber.org/zap"
)

type CampaignHandler struct {
	campaignService *services.CampaignService
	log             *zap.Logger
}

func NewCampaignHandler(campaignService *services.CampaignService, log *zap.Logger) *CampaignHandler {
	return &CampaignHandler{campaignService: campaignService, log: log}
}

func campaignFromCreate(req dto.CreateCampaignRequest) (*models.Campaign, error) {
	connID, err := uuid.Parse(req.ConnectionID)
	if err != nil {
		return nil, err
	}
	return &models.Campaign{
		ConnectionID:     connID,
		Name:             req.Name,
		ContentKind:      req.ContentKind,
		ContentBody:      req.ContentBody,
		Caption:          req.Caption,
		SendDelaySeconds: req.SendDelaySeconds,
	}, nil
}

func (h *CampaignHandler) CreateCampaign(c *fiber.Ctx) error {
	var req dto.CreateCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	campaign, err := campaignFromCreate(req)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid connection id"})
	}

	tenantID := middleware.GetTenantID(c)
	if err := h.campaignService.Create(c.Context(), tenantID, campaign); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	h.log.Info("campaign created",
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.String("user_id", middleware.GetUserID(c).String()),
	)
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: campaign})
}

func (h *CampaignHandler) GetCampaign(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid campaign id"})
	}

	tenantID := middleware.GetTenantID(c)
	campaign, err := h.campaignService.GetByID(c.Context(), tenantID, id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "campaign not found"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: campaign})
}

func (h *CampaignHandler) ListCampaigns(c *fiber.Ctx) error {
	tenantID := middleware.GetTenantID(c)
	filter := repositories.CampaignFilter{
		Limit:  queryInt(c, "limit", 20),
		Offset: queryInt(c, "offset", 0),
	}
	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}

	campaigns, err := h.campaignService.List(c.Context(), tenantID, filter)
	if err != nil {
		h.log.Error("list campaigns failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: campaigns})
}

func (h *CampaignHandler) UpdateCampaign(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid campaign id"})
	}

	var req dto.UpdateCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	campaign, err := campaignFromCreate(dto.CreateCampaignRequest(req))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid connection id"})
	}

	tenantID := middleware.GetTenantID(c)
	if err := h.campaignService.Update(c.Context(), tenantID, id, campaign); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	updated, _ := h.campaignService.GetByID(c.Context(), tenantID, id)
	return c.JSON(dto.SuccessResponse{OK: true, Data: updated})
}

func (h *CampaignHandler) DeleteCampaign(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid campaign id"})
	}

	tenantID := middleware.GetTenantID(c)
	if err := h.campaignService.Delete(c.Context(), tenantID, id); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(dto.SuccessResponse{OK: true})
}

// ImportRecipients accepts a multipart "file" field or a raw body.
func (h *CampaignHandler) ImportRecipients(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid campaign id"})
	}

	data := c.Body()
	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "unreadable file"})
		}
		defer f.Close()
		data, err = io.ReadAll(f)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "unreadable file"})
		}
	}
	if len(data) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "empty file"})
	}

	tenantID := middleware.GetTenantID(c)
	count, err := h.campaignService.ImportRecipients(c.Context(), tenantID, id, data)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(dto.ImportResponse{OK: true, Imported: count})
}

func (h *CampaignHandler) StartCampaign(c *fiber.Ctx) error {
	return h.lifecycle(c, h.campaignService.Start)
}

func (h *CampaignHandler) PauseCampaign(c *fiber.Ctx) error {
	return h.lifecycle(c, h.campaignService.Pause)
}

func (h *CampaignHandler) ResumeCampaign(c *fiber.Ctx) error {
	return h.lifecycle(c, h.campaignService.Resume)
}

func (h *CampaignHandler) CancelCampaign(c *fiber.Ctx) error {
	return h.lifecycle(c, h.campaignService.Cancel)
}

func (h *CampaignHandler) lifecycle(c *fiber.Ctx, op func(ctx context.Context, tenantID, id uuid.UUID) error) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid campaign id"})
	}

	tenantID := middleware.GetTenantID(c)
	if err := op(c.Context(), tenantID, id); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	campaign, _ := h.campaignService.GetByID(c.Context(), tenantID, id)
	return c.JSON(dto.SuccessResponse{OK: true, Data: campaign})
}

func (h *CampaignHandler) ListRecipients(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid campaign id"})
	}

	tenantID := middleware.GetTenantID(c)
	recipients, err := h.campaignService.ListRecipients(c.Context(), tenantID, id,
		queryInt(c, "limit", 100), queryInt(c, "offset", 0))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: recipients})
}

func (h *CampaignHandler) ListDeliveryLog(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid campaign id"})
	}

	tenantID := middleware.GetTenantID(c)
	entries, err := h.campaignService.ListDeliveryLog(c.Context(), tenantID, id,
		queryInt(c, "limit", 100), queryInt(c, "offset", 0))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

func queryInt(c *fiber.Ctx, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
