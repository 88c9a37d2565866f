package controllers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/DennisKoslow/ProxyDesk/app/models"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/checkout"
)

// HandlePaymentReturn is the buyer-facing landing page after a redirect
// payment. It verifies the payment with the provider and reports the final
// order state. The webhook remains the authoritative paid signal; this
// endpoint just settles the common case without waiting for it.
func HandlePaymentReturn(c *fiber.Ctx) error {
	orderID := parseOrderID(c.Query("order_id"))
	providerRef := firstQueryValue(c, "session_id", "token", "payment_id", "ref")
	if orderID == 0 && providerRef == "" {
		return jsonError(c, fiber.StatusBadRequest, "missing_reference", "No order or payment reference supplied")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	order, err := checkoutService.Confirm(ctx, orderID, providerRef)
	if err != nil {
		switch {
		case errors.Is(err, checkout.ErrOrderNotFound):
			return jsonError(c, fiber.StatusNotFound, "not_found", "Order not found")
		case errors.Is(err, checkout.ErrGatewayFailed):
			return jsonError(c, fiber.StatusBadGateway, "gateway_failed", "Payment could not be verified")
		default:
			log.Errorf("[Payment] confirm order=%d ref=%s: %v", orderID, providerRef, err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Payment confirmation failed")
		}
	}

	resp := fiber.Map{
		"order_id":       order.ID,
		"order_status":   order.OrderStatus,
		"payment_status": order.PaymentStatus,
	}
	if order.Invoice != nil && order.Invoice.ArtifactURL != "" {
		resp["invoice_url"] = order.Invoice.ArtifactURL
	}
	return c.JSON(resp)
}

// HandlePaymentCancel marks an abandoned redirect payment as failed so the
// order does not linger in pending.
func HandlePaymentCancel(c *fiber.Ctx) error {
	orderID := parseOrderID(c.Query("order_id"))
	if orderID == 0 {
		return jsonError(c, fiber.StatusBadRequest, "missing_reference", "No order reference supplied")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	order, err := checkoutService.Cancel(ctx, orderID)
	if err != nil {
		if errors.Is(err, checkout.ErrOrderNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Order not found")
		}
		log.Errorf("[Payment] cancel order=%d: %v", orderID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Cancel failed")
	}

	return c.JSON(fiber.Map{
		"order_id":       order.ID,
		"order_status":   order.OrderStatus,
		"payment_status": order.PaymentStatus,
		"cancelled":      order.PaymentStatus == models.PaymentStatusFailed,
	})
}

func parseOrderID(raw string) uint {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}

func firstQueryValue(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(c.Query(k)); v != "" {
			return v
		}
	}
	return ""
}
