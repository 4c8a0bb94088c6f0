package handlers

import (
	"github.com/amirphl/Kagutsuchi/app/dto"
	businessflow "github.com/amirphl/Kagutsuchi/business_flow"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

type NotificationHandlerInterface interface {
	List(c fiber.Ctx) error
	MarkRead(c fiber.Ctx) error
	MarkAllRead(c fiber.Ctx) error
	Delete(c fiber.Ctx) error
}

// NotificationHandler serves the caller's notification inbox
type NotificationHandler struct {
	baseHandler
	flow businessflow.NotificationFlow
}

func NewNotificationHandler(flow businessflow.NotificationFlow, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		baseHandler: newBaseHandler(logger, "notification_handler"),
		flow:        flow,
	}
}

// List notifications
// @Summary List notifications
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Param unread_only query bool false "Only unread notifications"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} dto.APIResponse{data=dto.ListNotificationsResponse} "Notifications retrieved"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Router /api/notifications [get]
func (h *NotificationHandler) List(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	q := newQueryParser(c)
	req := dto.ListNotificationsRequest{PageRequest: q.Page(), UnreadOnly: q.Bool("unread_only")}
	if ok, err := h.decodeQuery(c, q, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/notifications")
	defer cancel()

	res, err := h.flow.List(ctx, actor, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to list notifications")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Notifications retrieved", res)
}

// MarkRead marks one notification as read
// @Summary Mark notification read
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Param id path int true "Notification ID"
// @Success 200 {object} dto.APIResponse "Notification marked as read"
// @Failure 404 {object} dto.APIResponse "Notification not found"
// @Router /api/notifications/{id}/read [patch]
func (h *NotificationHandler) MarkRead(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	id, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/notifications/:id/read")
	defer cancel()

	if err := h.flow.MarkRead(ctx, actor, id); err != nil {
		return h.handleError(c, err, "Failed to mark notification as read")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Notification marked as read", nil)
}

// MarkAllRead marks every notification of the caller as read
// @Summary Mark all notifications read
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.APIResponse{data=dto.MarkAllReadResponse} "Notifications marked as read"
// @Router /api/notifications/read-all [patch]
func (h *NotificationHandler) MarkAllRead(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/notifications/read-all")
	defer cancel()

	res, err := h.flow.MarkAllRead(ctx, actor)
	if err != nil {
		return h.handleError(c, err, "Failed to mark notifications as read")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Notifications marked as read", res)
}

// Delete removes a notification
// @Summary Delete notification
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Param id path int true "Notification ID"
// @Success 200 {object} dto.APIResponse "Notification deleted"
// @Failure 404 {object} dto.APIResponse "Notification not found"
// @Router /api/notifications/{id} [delete]
func (h *NotificationHandler) Delete(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	id, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/notifications/:id")
	defer cancel()

	if err := h.flow.Delete(ctx, actor, id); err != nil {
		return h.handleError(c, err, "Failed to delete notification")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Notification deleted", nil)
}
