package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/DennisKoslow/ProxyDesk/internal/pkg/checkout"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/usercontext"
)

// HandleAPICheckout creates an order from the buyer's cart and starts the
// payment flow for the chosen method.
func HandleAPICheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	var req checkout.CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Request body could not be parsed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	outcome, err := checkoutService.Checkout(ctx, userCtx, req)
	if err != nil {
		var verr *checkout.ValidationError
		switch {
		case errors.As(err, &verr):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error":  "validation_failed",
				"fields": verr.Fields,
			})
		case errors.Is(err, checkout.ErrInsufficientBalance):
			return jsonError(c, fiber.StatusPaymentRequired, "insufficient_balance", "Wallet balance does not cover the order total")
		case errors.Is(err, checkout.ErrMethodUnavailable):
			return jsonError(c, fiber.StatusBadRequest, "method_unavailable", "The selected payment method is not available")
		case errors.Is(err, checkout.ErrGatewayFailed):
			return jsonError(c, fiber.StatusBadGateway, "gateway_failed", "The payment provider rejected the request")
		default:
			log.Errorf("[Checkout] user %d: %v", userCtx.UserID, err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Checkout failed")
		}
	}

	resp := fiber.Map{
		"order_id":       outcome.Order.ID,
		"order_status":   outcome.Order.OrderStatus,
		"payment_status": outcome.Order.PaymentStatus,
	}
	if outcome.RedirectURL != "" {
		resp["redirect_url"] = outcome.RedirectURL
	}
	if outcome.InvoiceURL != "" {
		resp["invoice_url"] = outcome.InvoiceURL
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}
