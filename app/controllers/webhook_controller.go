package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/DennisKoslow/ProxyDesk/app/models"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/checkout"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/env"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/security"
)

// HandleGatewayWebhook receives asynchronous provider notifications. The
// raw body is handed to the adapter unparsed; duplicate deliveries are
// absorbed inside the service.
func HandleGatewayWebhook(c *fiber.Ctx) error {
	slug := c.Params("gateway")
	rawBody := append([]byte(nil), c.BodyRaw()...)
	if len(rawBody) == 0 {
		return jsonError(c, fiber.StatusBadRequest, "empty_body", "Webhook payload is empty")
	}

	if err := verifyWebhookSignature(c, slug, rawBody); err != nil {
		log.Warnf("[Webhook] %s: signature rejected (ip=%s): %v", slug, GetClientIP(c), err)
		return jsonError(c, fiber.StatusUnauthorized, "invalid_signature", "Webhook signature verification failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := checkoutService.HandleWebhook(ctx, slug, rawBody); err != nil {
		switch {
		case errors.Is(err, checkout.ErrMethodUnavailable):
			return jsonError(c, fiber.StatusNotFound, "unknown_gateway", "No such payment gateway")
		case errors.Is(err, checkout.ErrOrderNotFound):
			// The provider retries on non-2xx; an event for an order we do not
			// know will never resolve, so acknowledge it.
			log.Warnf("[Webhook] %s: event references unknown order (ip=%s)", slug, GetClientIP(c))
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
		case errors.Is(err, checkout.ErrGatewayFailed):
			return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "Webhook payload rejected")
		default:
			log.Errorf("[Webhook] %s: %v", slug, err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Webhook processing failed")
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// verifyWebhookSignature checks the provider's signature scheme when a
// webhook secret is configured. Unconfigured secrets skip verification so
// sandbox setups keep working.
func verifyWebhookSignature(c *fiber.Ctx, slug string, payload []byte) error {
	switch slug {
	case models.PaymentMethodStripe:
		if secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", ""); secret != "" {
			return security.VerifyStripeSignature(payload, c.Get("Stripe-Signature"), secret)
		}
	case models.PaymentMethodNowPayments:
		if secret := env.GetEnv("NOWPAYMENTS_IPN_SECRET", ""); secret != "" {
			return security.VerifyHMACSHA512(payload, c.Get("x-nowpayments-sig"), secret)
		}
	}
	return nil
}
