package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/DennisKoslow/ProxyDesk/app/models"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/database"
)

// HandleAdminReprovision queues another reconciliation pass for a paid order
// that never completed, e.g. after a panel outage outlived the automatic
// retries. Admin-only route.
func HandleAdminReprovision(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return jsonError(c, fiber.StatusBadRequest, "invalid_order_id", "Order id must be a positive integer")
	}

	var order models.Order
	if err := database.GetDB().First(&order, id).Error; err != nil {
		return jsonError(c, fiber.StatusNotFound, "order_not_found", "No such order")
	}
	if !order.IsPaid() {
		return jsonError(c, fiber.StatusConflict, "order_not_paid", "Only paid orders can be provisioned")
	}
	if order.IsCompleted() {
		return jsonError(c, fiber.StatusConflict, "order_completed", "Order is already provisioned")
	}
	if retryScheduler == nil {
		return jsonError(c, fiber.StatusServiceUnavailable, "queue_unavailable", "Job queue is not running")
	}

	if err := retryScheduler.ScheduleProvisionRetry(c.Context(), order.ID); err != nil {
		log.Errorf("[Admin] queue reprovision for order %d: %v", order.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to queue provisioning")
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"queued":   true,
		"order_id": order.ID,
	})
}
