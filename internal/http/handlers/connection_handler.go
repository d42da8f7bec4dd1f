package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/messaging-crm/backend/internal/http/dto"
	"github.com/messaging-crm/backend/internal/middleware"
	"github.com/messaging-crm/backend/internal/models"
	"github.com/messaging-crm/backend/internal/services"
	"go.uber.org/zap"
)

type ConnectionHandler struct {
	connectionService *services.ConnectionService
	log               *zap.Logger
}

func NewConnectionHandler(connectionService *services.ConnectionService, log *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{connectionService: connectionService, log: log}
}

func (h *ConnectionHandler) CreateConnection(c *fiber.Ctx) error {
	var req dto.CreateConnectionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	conn := &models.Connection{
		Name:      req.Name,
		Channel:   req.Channel,
		SessionID: req.SessionID,
	}

	tenantID := middleware.GetTenantID(c)
	if err := h.connectionService.Create(c.Context(), tenantID, conn); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: conn})
}

func (h *ConnectionHandler) GetConnection(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid connection id"})
	}

	tenantID := middleware.GetTenantID(c)
	conn, err := h.connectionService.GetByID(c.Context(), tenantID, id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "connection not found"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: conn})
}

func (h *ConnectionHandler) ListConnections(c *fiber.Ctx) error {
	tenantID := middleware.GetTenantID(c)
	conns, err := h.connectionService.List(c.Context(), tenantID)
	if err != nil {
		h.log.Error("list connections failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: conns})
}

func (h *ConnectionHandler) UpdateConnection(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid connection id"})
	}

	var req dto.UpdateConnectionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	conn := &models.Connection{
		Name:      req.Name,
		Channel:   req.Channel,
		SessionID: req.SessionID,
		Status:    req.Status,
	}

	tenantID := middleware.GetTenantID(c)
	if err := h.connectionService.Update(c.Context(), tenantID, id, conn); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	updated, _ := h.connectionService.GetByID(c.Context(), tenantID, id)
	return c.JSON(dto.SuccessResponse{OK: true, Data: updated})
}

func (h *ConnectionHandler) DeleteConnection(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid connection id"})
	}

	tenantID := middleware.GetTenantID(c)
	if err := h.connectionService.Delete(c.Context(), tenantID, id); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(dto.SuccessResponse{OK: true})
}
